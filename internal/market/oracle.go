package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrNoPriceAvailable = errors.New("no price available")

const (
	SourceMark = "mark"
	SourceMid  = "mid"
)

// Quote is a reference price for one asset. Stale is set when the live fetch
// failed and the last known-good quote was returned instead.
type Quote struct {
	AssetIndex int             `json:"asset_index"`
	MarkPrice  decimal.Decimal `json:"mark_price"`
	ObservedAt time.Time       `json:"observed_at"`
	Source     string          `json:"source"`
	Stale      bool            `json:"stale"`
}

type Oracle struct {
	source UniverseSource
	log    *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	last map[int]Quote
}

func NewOracle(source UniverseSource, log *zap.Logger) *Oracle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Oracle{
		source: source,
		log:    log,
		now:    time.Now,
		last:   make(map[int]Quote),
	}
}

// CurrentPrice always tries a fresh fetch first. On failure it falls back to
// the last known-good quote, flagged Stale, and fails with
// ErrNoPriceAvailable only when no quote has ever been recorded.
func (o *Oracle) CurrentPrice(ctx context.Context, assetIndex int) (Quote, error) {
	quote, err := o.fetch(ctx, assetIndex)
	if err == nil {
		o.store(quote)
		return quote, nil
	}
	last, ok := o.Last(assetIndex)
	if !ok {
		return Quote{}, fmt.Errorf("%w: asset %d: %v", ErrNoPriceAvailable, assetIndex, err)
	}
	last.Stale = true
	o.log.Warn("price fetch failed, using last known quote",
		zap.Int("asset", assetIndex),
		zap.String("price", last.MarkPrice.String()),
		zap.Time("observed_at", last.ObservedAt),
		zap.Error(err),
	)
	return last, nil
}

// Observe records a streamed price. Older observations never replace newer
// ones.
func (o *Oracle) Observe(assetIndex int, price decimal.Decimal, at time.Time) {
	if !price.IsPositive() {
		return
	}
	o.store(Quote{AssetIndex: assetIndex, MarkPrice: price, ObservedAt: at, Source: SourceMid})
}

func (o *Oracle) Last(assetIndex int) (Quote, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	q, ok := o.last[assetIndex]
	return q, ok
}

func (o *Oracle) Forget(assetIndex int) {
	o.mu.Lock()
	delete(o.last, assetIndex)
	o.mu.Unlock()
}

func (o *Oracle) fetch(ctx context.Context, assetIndex int) (Quote, error) {
	if o.source == nil {
		return Quote{}, errors.New("no price source")
	}
	payload, err := o.source.MetaAndAssetCtxs(ctx)
	if err != nil {
		return Quote{}, err
	}
	universe, err := parseUniverse(payload)
	if err != nil {
		return Quote{}, err
	}
	for _, info := range universe {
		if info.Index != assetIndex {
			continue
		}
		if !info.MarkPrice.IsPositive() {
			return Quote{}, fmt.Errorf("asset %d has no mark price", assetIndex)
		}
		return Quote{AssetIndex: assetIndex, MarkPrice: info.MarkPrice, ObservedAt: o.now(), Source: SourceMark}, nil
	}
	return Quote{}, fmt.Errorf("asset %d not in universe", assetIndex)
}

func (o *Oracle) store(q Quote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.last[q.AssetIndex]; ok && prev.ObservedAt.After(q.ObservedAt) {
		return
	}
	o.last[q.AssetIndex] = q
}
