package market

import (
	"context"
	"encoding/json"
	"time"

	"hl-perp-trader/internal/hl/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Feed streams allMids into the oracle so a recent fallback quote exists
// when a live mark fetch fails.
type Feed struct {
	ws     *ws.Client
	oracle *Oracle
	lookup func(symbol string) (int, bool)
	log    *zap.Logger
	now    func() time.Time
}

func NewFeed(wsClient *ws.Client, oracle *Oracle, lookup func(string) (int, bool), log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{ws: wsClient, oracle: oracle, lookup: lookup, log: log, now: time.Now}
}

func (f *Feed) Start(ctx context.Context) error {
	if f.ws == nil {
		return nil
	}
	if err := f.ws.Subscribe(ctx, ws.AllMidsSubscription()); err != nil {
		return err
	}
	go func() {
		if err := f.ws.Run(ctx, f.handleMessage); err != nil && ctx.Err() == nil {
			f.log.Warn("mid feed stopped", zap.Error(err))
		}
	}()
	return nil
}

func (f *Feed) handleMessage(msg ws.Message) {
	if msg.Channel != "allMids" {
		return
	}
	var data map[string]any
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		f.log.Debug("allMids decode error", zap.Error(err))
		return
	}
	f.apply(parseMids(data))
}

func (f *Feed) apply(mids map[string]decimal.Decimal) {
	if f.oracle == nil || f.lookup == nil {
		return
	}
	at := f.now()
	for symbol, px := range mids {
		idx, ok := f.lookup(symbol)
		if !ok {
			continue
		}
		f.oracle.Observe(idx, px, at)
	}
}
