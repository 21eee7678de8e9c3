package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrCatalogUnavailable = errors.New("asset catalog unavailable")
	ErrUnknownAsset       = errors.New("unknown asset")
)

// UniverseSource fetches the raw metaAndAssetCtxs reply.
type UniverseSource interface {
	MetaAndAssetCtxs(ctx context.Context) (any, error)
}

// MagnitudeBand is the price range characteristic of an asset. MaxPrice of
// zero means unbounded.
type MagnitudeBand struct {
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
}

func (b MagnitudeBand) contains(px decimal.Decimal) bool {
	if !px.IsPositive() || px.LessThan(b.MinPrice) {
		return false
	}
	return !b.MaxPrice.IsPositive() || px.LessThanOrEqual(b.MaxPrice)
}

// AssetDescriptor is immutable once cached.
type AssetDescriptor struct {
	Symbol       string `json:"symbol"`
	Index        int    `json:"index"`
	SizeDecimals int    `json:"size_decimals"`
	MaxLeverage  int    `json:"max_leverage"`
	OnlyIsolated bool   `json:"only_isolated"`
	Ambiguous    bool   `json:"ambiguous"`
	// OutOfBand is set when the name match stands although its price lies
	// outside the configured magnitude band.
	OutOfBand bool `json:"out_of_band"`
	// SymbolIndex is the index matched by name, -1 when the name matched
	// nothing. It differs from Index only when Ambiguous is set.
	SymbolIndex int `json:"symbol_index"`
}

// Resolver maps symbols to asset descriptors. Entries are cached for the
// process lifetime; Invalidate and InvalidateAll drop them explicitly.
type Resolver struct {
	source UniverseSource
	bands  map[string]MagnitudeBand
	log    *zap.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	cache    map[string]AssetDescriptor
	universe []AssetInfo
}

func NewResolver(source UniverseSource, bands map[string]MagnitudeBand, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	normalized := make(map[string]MagnitudeBand, len(bands))
	for symbol, band := range bands {
		normalized[cacheKey(symbol)] = band
	}
	return &Resolver{
		source: source,
		bands:  normalized,
		log:    log,
		cache:  make(map[string]AssetDescriptor),
	}
}

func (r *Resolver) Resolve(ctx context.Context, symbol string) (AssetDescriptor, error) {
	key := cacheKey(symbol)
	if key == "" {
		return AssetDescriptor{}, fmt.Errorf("%w: empty symbol", ErrUnknownAsset)
	}
	if desc, ok := r.Cached(symbol); ok {
		return desc, nil
	}
	universe, err := r.snapshot(ctx)
	if err != nil {
		return AssetDescriptor{}, err
	}
	desc, err := r.resolveFrom(universe, strings.TrimSpace(symbol))
	if err != nil {
		return AssetDescriptor{}, err
	}
	r.mu.Lock()
	if existing, ok := r.cache[key]; ok {
		desc = existing
	} else {
		r.cache[key] = desc
	}
	r.mu.Unlock()
	switch {
	case desc.Ambiguous:
		r.log.Warn("ambiguous asset resolution",
			zap.String("symbol", desc.Symbol),
			zap.Int("asset", desc.Index),
			zap.Int("symbol_index", desc.SymbolIndex),
		)
	case desc.OutOfBand:
		r.log.Warn("asset price outside magnitude band",
			zap.String("symbol", desc.Symbol),
			zap.Int("asset", desc.Index),
		)
	default:
		r.log.Debug("asset resolved", zap.String("symbol", desc.Symbol), zap.Int("asset", desc.Index))
	}
	return desc, nil
}

func (r *Resolver) Cached(symbol string) (AssetDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.cache[cacheKey(symbol)]
	return desc, ok
}

func (r *Resolver) Invalidate(symbol string) {
	r.mu.Lock()
	delete(r.cache, cacheKey(symbol))
	r.mu.Unlock()
}

func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]AssetDescriptor)
	r.universe = nil
	r.mu.Unlock()
}

// snapshot returns the last fetched universe, fetching only when none is held.
func (r *Resolver) snapshot(ctx context.Context) ([]AssetInfo, error) {
	r.mu.RLock()
	universe := r.universe
	r.mu.RUnlock()
	if universe != nil {
		return universe, nil
	}
	return r.Universe(ctx)
}

// Universe fetches the asset list. Concurrent callers share one request.
func (r *Resolver) Universe(ctx context.Context) ([]AssetInfo, error) {
	v, err, _ := r.group.Do("universe", func() (any, error) {
		if r.source == nil {
			return nil, errors.New("no universe source")
		}
		payload, err := r.source.MetaAndAssetCtxs(ctx)
		if err != nil {
			return nil, err
		}
		return parseUniverse(payload)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	universe := v.([]AssetInfo)
	r.mu.Lock()
	r.universe = universe
	r.mu.Unlock()
	return universe, nil
}

// IndexOf returns the index the venue lists under exactly this name in the
// last fetched universe. Resolved descriptors are not consulted: a symbol
// resolved by price magnitude points at a differently named asset.
func (r *Resolver) IndexOf(symbol string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, info := range r.universe {
		if info.Symbol == symbol {
			return info.Index, true
		}
	}
	return 0, false
}

// resolveFrom matches by name and, when a band is configured for the symbol,
// by price magnitude. A price match that disagrees with the name match wins
// and marks the descriptor ambiguous.
func (r *Resolver) resolveFrom(universe []AssetInfo, symbol string) (AssetDescriptor, error) {
	byName, nameOK := matchSymbol(universe, symbol)
	band, hasBand := r.bands[cacheKey(symbol)]
	if !hasBand {
		if !nameOK {
			return AssetDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
		}
		return descriptorFor(byName, -1, false), nil
	}
	var candidates []AssetInfo
	for _, info := range universe {
		if info.Delisted {
			continue
		}
		if band.contains(info.MarkPrice) {
			candidates = append(candidates, info)
		}
	}
	if nameOK {
		for _, c := range candidates {
			if c.Index == byName.Index {
				return descriptorFor(byName, byName.Index, false), nil
			}
		}
	}
	if len(candidates) == 0 {
		if !nameOK {
			return AssetDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
		}
		// Name matched but its price is outside the band and nothing else
		// fits either. Both indices agree, so only the band miss is flagged.
		desc := descriptorFor(byName, byName.Index, false)
		desc.OutOfBand = true
		return desc, nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.MarkPrice.GreaterThan(best.MarkPrice) {
			best = c
		}
	}
	symbolIndex := -1
	if nameOK {
		symbolIndex = byName.Index
	}
	return descriptorFor(best, symbolIndex, true), nil
}

func matchSymbol(universe []AssetInfo, symbol string) (AssetInfo, bool) {
	for _, info := range universe {
		if info.Symbol == symbol && !info.Delisted {
			return info, true
		}
	}
	for _, info := range universe {
		if strings.EqualFold(info.Symbol, symbol) && !info.Delisted {
			return info, true
		}
	}
	return AssetInfo{}, false
}

func descriptorFor(info AssetInfo, symbolIndex int, ambiguous bool) AssetDescriptor {
	if symbolIndex < 0 && !ambiguous {
		symbolIndex = info.Index
	}
	return AssetDescriptor{
		Symbol:       info.Symbol,
		Index:        info.Index,
		SizeDecimals: info.SizeDecimals,
		MaxLeverage:  info.MaxLeverage,
		OnlyIsolated: info.OnlyIsolated,
		Ambiguous:    ambiguous,
		SymbolIndex:  symbolIndex,
	}
}

func cacheKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
