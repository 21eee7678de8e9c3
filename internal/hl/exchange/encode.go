package exchange

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeAction msgpack-encodes an L1 action with the exact key order the
// venue hashes. Struct tags are not used: the map order is part of the hash.
func EncodeAction(action any) ([]byte, error) {
	switch a := action.(type) {
	case OrderAction:
		return EncodeOrderAction(a)
	case UpdateLeverageAction:
		return EncodeUpdateLeverageAction(a)
	default:
		return nil, fmt.Errorf("unsupported action %T", action)
	}
}

func EncodeOrderAction(action OrderAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Orders) == 0 {
		return nil, errors.New("action orders are required")
	}
	if action.Grouping == "" {
		action.Grouping = "na"
	}
	p := newPacker()
	p.mapLen(3)
	p.str("type", action.Type)
	p.key("orders")
	p.arrayLen(len(action.Orders))
	for _, order := range action.Orders {
		p.order(order)
	}
	p.str("grouping", action.Grouping)
	return p.result()
}

func EncodeUpdateLeverageAction(action UpdateLeverageAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if action.Leverage <= 0 {
		return nil, errors.New("leverage must be > 0")
	}
	p := newPacker()
	p.mapLen(4)
	p.str("type", action.Type)
	p.integer("asset", action.Asset)
	p.boolean("isCross", action.IsCross)
	p.integer("leverage", action.Leverage)
	return p.result()
}

// packer writes key/value pairs in call order and keeps the first error.
type packer struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
	err error
}

func newPacker() *packer {
	p := &packer{}
	p.enc = msgpack.NewEncoder(&p.buf)
	return p
}

func (p *packer) do(fn func() error) {
	if p.err == nil {
		p.err = fn()
	}
}

func (p *packer) mapLen(n int) { p.do(func() error { return p.enc.EncodeMapLen(n) }) }
func (p *packer) arrayLen(n int) { p.do(func() error { return p.enc.EncodeArrayLen(n) }) }
func (p *packer) key(k string) { p.do(func() error { return p.enc.EncodeString(k) }) }

func (p *packer) str(k, v string) {
	p.key(k)
	p.do(func() error { return p.enc.EncodeString(v) })
}

func (p *packer) integer(k string, v int) {
	p.key(k)
	p.do(func() error { return p.enc.EncodeInt(int64(v)) })
}

func (p *packer) boolean(k string, v bool) {
	p.key(k)
	p.do(func() error { return p.enc.EncodeBool(v) })
}

// order writes a: b: p: s: r: t: and, when set, c:.
func (p *packer) order(o OrderWire) {
	if o.OrderType.Limit == nil {
		p.do(func() error { return errors.New("limit order type required") })
		return
	}
	fields := 6
	if o.Cloid != "" {
		fields++
	}
	p.mapLen(fields)
	p.integer("a", o.Asset)
	p.boolean("b", o.IsBuy)
	p.str("p", o.Price)
	p.str("s", o.Size)
	p.boolean("r", o.ReduceOnly)
	p.key("t")
	p.mapLen(1)
	p.key("limit")
	p.mapLen(1)
	p.str("tif", string(o.OrderType.Limit.Tif))
	if o.Cloid != "" {
		p.str("c", o.Cloid)
	}
}

func (p *packer) result() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.buf.Bytes(), nil
}
