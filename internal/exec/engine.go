package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hl-perp-trader/internal/alerts"
	"hl-perp-trader/internal/config"
	"hl-perp-trader/internal/hl/exchange"
	"hl-perp-trader/internal/lock"
	"hl-perp-trader/internal/market"
	"hl-perp-trader/internal/metrics"
	"hl-perp-trader/internal/pricing"
	"hl-perp-trader/internal/risk"
	"hl-perp-trader/internal/state"
	"hl-perp-trader/internal/tradelog"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Resolver interface {
	Resolve(ctx context.Context, symbol string) (market.AssetDescriptor, error)
}

type PriceSource interface {
	CurrentPrice(ctx context.Context, assetIndex int) (market.Quote, error)
}

// Venue is the signed exchange surface. Replies are returned raw and
// classified by the exchange package.
type Venue interface {
	UpdateLeverage(ctx context.Context, asset int, leverage int, isCross bool) (map[string]any, error)
	PlaceOrder(ctx context.Context, order exchange.OrderWire) (map[string]any, error)
}

type Options struct {
	Deadline           time.Duration
	CallTimeout        time.Duration
	DefaultSlippageBps int
	Cross              bool
	PriceSigFigs       int
	DefaultTicks       []decimal.Decimal
	TickSizes          map[string][]decimal.Decimal
	Limits             risk.Limits
	GuardTTL           time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	ticks := make(map[string][]decimal.Decimal, len(cfg.Engine.TickSizes))
	for symbol, values := range cfg.Engine.TickSizes {
		ticks[symbolKey(symbol)] = pricing.FromFloats(values)
	}
	return Options{
		Deadline:           cfg.Engine.Deadline,
		CallTimeout:        cfg.Engine.CallTimeout,
		DefaultSlippageBps: cfg.Engine.DefaultSlippageBps,
		Cross:              cfg.Engine.IsCross(),
		PriceSigFigs:       cfg.Engine.PriceSigFigs,
		DefaultTicks:       pricing.FromFloats(cfg.Engine.DefaultTickSizes),
		TickSizes:          ticks,
		Limits:             risk.LimitsFromConfig(cfg.Engine),
		GuardTTL:           cfg.Lock.TTL,
	}
}

type Deps struct {
	Resolver Resolver
	Prices   PriceSource
	Venue    Venue
	Sink     tradelog.Sink
	Guard    lock.Guard
	Store    state.Store
	Alerts   alerts.Notifier
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

type Engine struct {
	resolver Resolver
	prices   PriceSource
	venue    Venue
	sink     tradelog.Sink
	guard    lock.Guard
	store    state.Store
	alerts   alerts.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	opts     Options
	calc     *pricing.Calculator

	now      func() time.Time
	newCloid func() string

	alertsPending sync.WaitGroup
}

// Result describes one attempt. Outcome is always set.
type Result struct {
	Intent          Intent                   `json:"intent"`
	Outcome         Outcome                  `json:"outcome"`
	Asset           market.AssetDescriptor   `json:"asset"`
	ReferencePrice  decimal.Decimal          `json:"reference_price"`
	StalePrice      bool                     `json:"stale_price"`
	LimitPrice      decimal.Decimal          `json:"limit_price"`
	TickSize        decimal.Decimal          `json:"tick_size"`
	Size            decimal.Decimal          `json:"size"`
	Submissions     int                      `json:"submissions"`
	ClientOrderID   string                   `json:"client_order_id"`
	Direct          bool                     `json:"direct"`
	PriorUnresolved *state.UnresolvedAttempt `json:"prior_unresolved,omitempty"`
	LogID           string                   `json:"log_id"`
	LogErr          error                    `json:"-"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Elapsed         time.Duration            `json:"-"`
}

func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Resolver == nil || deps.Prices == nil {
		return nil, errors.New("resolver and price source are required")
	}
	if deps.Venue == nil {
		return nil, errors.New("venue is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("trade log sink is required")
	}
	if opts.Deadline <= 0 || opts.CallTimeout <= 0 {
		return nil, errors.New("deadline and call timeout must be > 0")
	}
	if len(opts.DefaultTicks) == 0 {
		return nil, errors.New("at least one default tick size is required")
	}
	if deps.Guard == nil {
		deps.Guard = lock.NewMemory()
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if opts.GuardTTL <= 0 {
		opts.GuardTTL = 2 * opts.Deadline
	}
	return &Engine{
		resolver: deps.Resolver,
		prices:   deps.Prices,
		venue:    deps.Venue,
		sink:     deps.Sink,
		guard:    deps.Guard,
		store:    deps.Store,
		alerts:   deps.Alerts,
		metrics:  deps.Metrics,
		log:      deps.Log,
		opts:     opts,
		calc:     pricing.New(opts.PriceSigFigs),
		now:      time.Now,
		newCloid: NewCloid,
	}, nil
}

func (e *Engine) DefaultSlippageBps() int { return e.opts.DefaultSlippageBps }

// Wait blocks until alerts queued by finished attempts have been sent or
// have timed out.
func (e *Engine) Wait() {
	e.alertsPending.Wait()
}

// Execute runs the full flow: resolve, price, set leverage, then negotiate
// the tick size. The returned error is only set when no attempt was made.
func (e *Engine) Execute(ctx context.Context, intent Intent) (Result, error) {
	return e.run(ctx, intent, false, decimal.Zero)
}

// ExecuteDirect submits once at a single tick size without negotiation. A
// zero tick uses the first candidate the negotiation loop would try.
func (e *Engine) ExecuteDirect(ctx context.Context, intent Intent, tick decimal.Decimal) (Result, error) {
	if tick.IsNegative() {
		return Result{}, fmt.Errorf("%w: tick size %s", ErrInvalidIntent, tick)
	}
	return e.run(ctx, intent, true, tick)
}

// Unresolved returns the marker left by an unobserved order on symbol.
func (e *Engine) Unresolved(ctx context.Context, symbol string) (state.UnresolvedAttempt, bool, error) {
	return state.LoadUnresolved(ctx, e.store, symbol)
}

func (e *Engine) ListUnresolved(ctx context.Context) ([]state.UnresolvedAttempt, error) {
	return state.ListUnresolved(ctx, e.store)
}

func (e *Engine) run(ctx context.Context, intent Intent, direct bool, tick decimal.Decimal) (Result, error) {
	symbol := symbolKey(intent.Symbol)
	release, err := e.guard.Acquire(ctx, "attempt:"+symbol, e.opts.GuardTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return Result{}, fmt.Errorf("%s: %w", symbol, ErrAttemptInFlight)
		}
		return Result{}, fmt.Errorf("acquire attempt guard: %w", err)
	}
	defer release()

	// Once started, an attempt runs to its own deadline regardless of the
	// caller going away.
	base := context.WithoutCancel(ctx)
	start := e.now()
	res := Result{
		Intent:        intent,
		Asset:         market.AssetDescriptor{Index: -1, SymbolIndex: -1},
		ClientOrderID: intent.ClientOrderID,
		Direct:        direct,
	}
	if res.ClientOrderID == "" {
		res.ClientOrderID = e.newCloid()
	}
	if symbol != "" {
		prior, ok, err := state.LoadUnresolved(base, e.store, symbol)
		if err != nil {
			e.log.Warn("load unresolved marker failed", zap.String("symbol", symbol), zap.Error(err))
		} else if ok {
			res.PriorUnresolved = &prior
			e.log.Warn("previous attempt on symbol is unresolved",
				zap.String("symbol", symbol),
				zap.String("cloid", prior.Cloid),
				zap.Int64("recorded_at_ms", prior.RecordedAtMS),
			)
		}
	}

	res.Outcome = e.attempt(base, intent, direct, tick, &res)
	res.Elapsed = e.now().Sub(start)
	e.finish(base, &res)
	return res, nil
}

func (e *Engine) attempt(ctx context.Context, intent Intent, direct bool, tick decimal.Decimal, res *Result) Outcome {
	if err := intent.validate(); err != nil {
		return rejected(err.Error(), exchange.CodeNone, err)
	}
	if err := risk.Check(e.opts.Limits, risk.Order{
		Size:        intent.Size,
		Leverage:    intent.Leverage,
		SlippageBps: intent.SlippageBps,
	}); err != nil {
		return rejected(err.Error(), exchange.CodeNone, fmt.Errorf("%w: %w", ErrInvalidIntent, err))
	}

	e.log.Debug("resolving asset", zap.String("symbol", intent.Symbol))
	asset, err := e.resolve(ctx, intent.Symbol)
	if err != nil {
		if errors.Is(err, market.ErrUnknownAsset) {
			return rejected(err.Error(), exchange.CodeNone, fmt.Errorf("%w: %w", ErrInvalidIntent, err))
		}
		return transportError(err.Error(), exchange.CodeNone, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err))
	}
	res.Asset = asset
	if asset.Ambiguous {
		res.Warnings = append(res.Warnings, fmt.Sprintf("symbol %s resolved by price magnitude to asset %d (%s)", intent.Symbol, asset.Index, asset.Symbol))
	}
	if asset.OutOfBand {
		res.Warnings = append(res.Warnings, fmt.Sprintf("asset %d (%s) trades outside the configured price band", asset.Index, asset.Symbol))
	}

	spanCtx, cancel := context.WithTimeout(ctx, e.opts.Deadline)
	defer cancel()
	tr := &tracker{}
	done := make(chan Outcome, 1)
	go func() {
		done <- e.execute(spanCtx, intent, asset, direct, tick, res.ClientOrderID, tr)
	}()

	var out Outcome
	select {
	case out = <-done:
		if spanCtx.Err() != nil && !out.Success() && !out.Definite() {
			out = timedOut()
		}
	case <-spanCtx.Done():
		out = timedOut()
	}

	snap := tr.snapshot()
	res.ReferencePrice = snap.quote.MarkPrice
	res.StalePrice = snap.quote.Stale
	res.Size = snap.size
	res.LimitPrice = snap.limit
	res.TickSize = snap.tick
	res.Submissions = snap.submissions
	if out.Kind == KindTimedOut {
		out.Unconfirmed = snap.submissions > 0
	}
	return out
}

func (e *Engine) resolve(ctx context.Context, symbol string) (market.AssetDescriptor, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return e.resolver.Resolve(callCtx, symbol)
}

// execute covers pricing, leverage and negotiation. It runs under the attempt
// deadline; its result is dropped once the deadline has fired.
func (e *Engine) execute(ctx context.Context, intent Intent, asset market.AssetDescriptor, direct bool, tick decimal.Decimal, cloid string, tr *tracker) Outcome {
	log := e.log.With(zap.String("symbol", intent.Symbol), zap.Int("asset", asset.Index))

	log.Debug("fetching reference price")
	quote, err := e.price(ctx, asset.Index)
	if err != nil {
		return transportError(err.Error(), exchange.CodeNone, fmt.Errorf("%w: %w", ErrNoPriceAvailable, err))
	}
	tr.setQuote(quote)
	if quote.Stale {
		e.metrics.StaleQuotes.Inc()
		log.Warn("using stale reference price",
			zap.String("mark_price", quote.MarkPrice.String()),
			zap.Time("observed_at", quote.ObservedAt),
		)
	}

	size := pricing.RoundSize(intent.Size, asset.SizeDecimals)
	tr.setSize(size)
	if !size.IsPositive() {
		err := fmt.Errorf("%w: size %s truncates to zero at %d decimals", ErrInvalidIntent, intent.Size, asset.SizeDecimals)
		return rejected(err.Error(), exchange.CodeNone, err)
	}
	if err := risk.Check(e.opts.Limits, risk.Order{
		Size:             size,
		Price:            quote.MarkPrice,
		Leverage:         intent.Leverage,
		SlippageBps:      intent.SlippageBps,
		AssetMaxLeverage: asset.MaxLeverage,
	}); err != nil {
		return rejected(err.Error(), exchange.CodeNone, fmt.Errorf("%w: %w", ErrInvalidIntent, err))
	}

	if ctx.Err() != nil {
		return timedOut()
	}
	log.Debug("setting leverage", zap.String("leverage", intent.Leverage.String()))
	if out, ok := e.setLeverage(ctx, asset, intent.Leverage); !ok {
		return out
	}

	calc := e.calc.ForAsset(asset.SizeDecimals)
	ticks := e.candidates(intent.Symbol, asset, quote, tick)
	if len(ticks) == 0 {
		return rejected(ErrTickSizeExhausted.Error(), exchange.CodeTickSize, fmt.Errorf("%w: no candidates configured", ErrTickSizeExhausted))
	}
	if direct {
		out, _ := e.tryTick(ctx, calc, intent, asset, quote, size, cloid, ticks[0], tr)
		return out
	}
	return e.negotiate(ctx, calc, intent, asset, quote, size, cloid, ticks, tr)
}

func (e *Engine) price(ctx context.Context, assetIndex int) (market.Quote, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return e.prices.CurrentPrice(callCtx, assetIndex)
}

func (e *Engine) setLeverage(ctx context.Context, asset market.AssetDescriptor, leverage decimal.Decimal) (Outcome, bool) {
	cross := e.opts.Cross && !asset.OnlyIsolated
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	resp, err := e.venue.UpdateLeverage(callCtx, asset.Index, int(leverage.IntPart()), cross)
	if err != nil {
		e.metrics.LeverageFailures.Inc()
		return transportError(err.Error(), exchange.CodeForError(err), fmt.Errorf("%w: %w: %w", ErrLeverageConfigFailed, ErrTransport, err)), false
	}
	st, err := exchange.ClassifyActionResponse(resp)
	if err != nil {
		e.metrics.LeverageFailures.Inc()
		return rejected(err.Error(), exchange.CodeUnknown, fmt.Errorf("%w: %w: %w", ErrLeverageConfigFailed, ErrInvariantViolation, err)), false
	}
	if !st.OK {
		e.metrics.LeverageFailures.Inc()
		return rejected(st.Error, st.Code, fmt.Errorf("%w: %s", ErrLeverageConfigFailed, st.Error)), false
	}
	return Outcome{}, true
}

// candidates lists tick sizes to try. An explicit tick replaces the list.
func (e *Engine) candidates(symbol string, asset market.AssetDescriptor, quote market.Quote, explicit decimal.Decimal) []decimal.Decimal {
	if explicit.IsPositive() {
		return []decimal.Decimal{explicit}
	}
	configured := e.opts.DefaultTicks
	if ticks := e.opts.TickSizes[symbolKey(symbol)]; len(ticks) > 0 {
		configured = ticks
	} else if ticks := e.opts.TickSizes[symbolKey(asset.Symbol)]; len(ticks) > 0 {
		configured = ticks
	}
	hint := decimal.Zero
	if e.opts.PriceSigFigs > 0 {
		hint = pricing.ImpliedTick(quote.MarkPrice, e.opts.PriceSigFigs, asset.SizeDecimals)
	}
	return pricing.Candidates(hint, configured)
}

// negotiate tries candidates strictly one after another. Only a tick-size
// rejection moves on to the next candidate.
func (e *Engine) negotiate(ctx context.Context, calc *pricing.Calculator, intent Intent, asset market.AssetDescriptor, quote market.Quote, size decimal.Decimal, cloid string, ticks []decimal.Decimal, tr *tracker) Outcome {
	var last Outcome
	for i, tick := range ticks {
		if ctx.Err() != nil {
			return timedOut()
		}
		out, submitted := e.tryTick(ctx, calc, intent, asset, quote, size, cloid, tick, tr)
		if !submitted && !out.Invariant() {
			e.log.Debug("skipping tick candidate",
				zap.String("symbol", intent.Symbol),
				zap.String("tick_size", tick.String()),
				zap.String("reason", out.Reason),
			)
			last = out
			continue
		}
		if out.Kind == KindRejected && out.Code == exchange.CodeTickSize {
			last = out
			if i < len(ticks)-1 {
				e.metrics.TickRetries.Inc()
				e.log.Debug("tick size rejected, trying next candidate",
					zap.String("symbol", intent.Symbol),
					zap.String("tick_size", tick.String()),
				)
			}
			continue
		}
		return out
	}
	reason := ErrTickSizeExhausted.Error()
	if last.Reason != "" {
		reason += ": " + last.Reason
	}
	return rejected(reason, exchange.CodeTickSize, fmt.Errorf("%w: last error: %s", ErrTickSizeExhausted, last.Reason))
}

// tryTick prices and submits one order. submitted is false when the candidate
// could not be priced, in which case nothing reached the venue.
func (e *Engine) tryTick(ctx context.Context, calc *pricing.Calculator, intent Intent, asset market.AssetDescriptor, quote market.Quote, size decimal.Decimal, cloid string, tick decimal.Decimal, tr *tracker) (Outcome, bool) {
	isBuy := intent.Direction.IsBuy()
	limit, err := calc.LimitPrice(quote.MarkPrice, isBuy, intent.SlippageBps, tick)
	if err != nil {
		if errors.Is(err, pricing.ErrInvariantViolation) {
			return rejected(err.Error(), exchange.CodeNone, fmt.Errorf("%w: %w", ErrInvariantViolation, err)), false
		}
		return rejected(err.Error(), exchange.CodeNone, fmt.Errorf("%w: %w", ErrInvalidIntent, err)), false
	}
	wire, err := exchange.LimitOrderWire(asset.Index, isBuy, size, limit, false, exchange.TifIoc, cloid)
	if err != nil {
		return rejected(err.Error(), exchange.CodeNone, fmt.Errorf("%w: %w", ErrInvalidIntent, err)), false
	}
	tr.submitting(tick, limit)
	e.log.Debug("submitting order",
		zap.String("symbol", intent.Symbol),
		zap.String("tick_size", tick.String()),
		zap.String("limit_price", wire.Price),
		zap.String("size", wire.Size),
	)
	return e.submit(ctx, wire), true
}

func (e *Engine) submit(ctx context.Context, wire exchange.OrderWire) Outcome {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	resp, err := e.venue.PlaceOrder(callCtx, wire)
	if err != nil {
		out := transportError(err.Error(), exchange.CodeForError(err), fmt.Errorf("%w: %w", ErrTransport, err))
		// A non-2xx reply is an answer; anything else may have reached the venue.
		var httpErr *exchange.HTTPError
		out.Unconfirmed = !errors.As(err, &httpErr)
		return out
	}
	st, err := exchange.ClassifyOrderResponse(resp)
	if err != nil {
		out := transportError(err.Error(), exchange.CodeUnknown, fmt.Errorf("%w: %w", ErrInvariantViolation, err))
		out.Unconfirmed = true
		return out
	}
	switch st.Kind {
	case exchange.StatusFilled:
		return filled(st)
	case exchange.StatusResting:
		return resting(st)
	default:
		return rejected(st.Error, st.Code, fmt.Errorf("%w: %s", ErrOrderRejected, st.Error))
	}
}

func (e *Engine) finish(ctx context.Context, res *Result) {
	out := res.Outcome
	e.observe(out, res.Elapsed)
	e.logOutcome(res)

	rec := tradelog.Prepare(e.record(res), e.now())
	res.LogID = rec.ID
	appendCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	err := e.sink.Append(appendCtx, rec)
	cancel()
	if err != nil {
		e.metrics.SinkFailures.Inc()
		res.LogErr = err
		res.Warnings = append(res.Warnings, "trade log write failed: "+err.Error())
		e.log.Warn("trade log append failed", zap.String("symbol", rec.Symbol), zap.Error(err))
	}

	markerCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	e.trackUnresolved(markerCtx, res)
	cancel()
	if out.Kind == KindTimedOut || out.Invariant() {
		e.alert(ctx, res)
	}
}

func (e *Engine) observe(out Outcome, elapsed time.Duration) {
	switch out.Kind {
	case KindFilled:
		e.metrics.OrdersFilled.Inc()
	case KindResting:
		e.metrics.OrdersResting.Inc()
	case KindRejected:
		e.metrics.OrdersRejected.Inc()
	case KindTransportError:
		e.metrics.TransportErrors.Inc()
	case KindTimedOut:
		e.metrics.TimedOut.Inc()
	}
	if out.Invariant() {
		e.metrics.InvariantViolations.Inc()
	}
	e.metrics.AttemptSeconds.Observe(elapsed.Seconds())
}

func (e *Engine) logOutcome(res *Result) {
	out := res.Outcome
	fields := []zap.Field{
		zap.String("symbol", res.Intent.Symbol),
		zap.Int("asset", res.Asset.Index),
		zap.String("outcome", string(out.Kind)),
		zap.String("limit_price", res.LimitPrice.String()),
		zap.String("tick_size", res.TickSize.String()),
		zap.Int("submissions", res.Submissions),
		zap.String("cloid", res.ClientOrderID),
		zap.Bool("direct", res.Direct),
		zap.Duration("elapsed", res.Elapsed),
	}
	switch {
	case out.Invariant():
		e.log.Error("invariant violation", append(fields, zap.String("reason", out.Reason), zap.Error(out.Err))...)
	case out.Success():
		e.log.Info("order accepted", append(fields, zap.String("order_id", out.OrderID))...)
	default:
		e.log.Warn("order attempt failed", append(fields,
			zap.String("reason", out.Reason),
			zap.String("code", string(out.Code)),
			zap.Error(out.Err),
		)...)
	}
}

func (e *Engine) record(res *Result) tradelog.Record {
	out := res.Outcome
	size := res.Size
	if !size.IsPositive() {
		size = res.Intent.Size
	}
	entry := res.LimitPrice
	if out.Kind == KindFilled && out.AvgPrice.IsPositive() {
		entry = out.AvgPrice
	}
	rec := tradelog.Record{
		Symbol:          symbolKey(res.Intent.Symbol),
		AssetIndex:      res.Asset.Index,
		Direction:       string(res.Intent.Direction),
		Size:            size.String(),
		Leverage:        res.Intent.Leverage.String(),
		EntryPrice:      decimalOrEmpty(entry),
		TickSize:        decimalOrEmpty(res.TickSize),
		Status:          string(out.Kind),
		ErrorCode:       string(out.Code),
		ExchangeOrderID: out.OrderID,
		ClientOrderID:   res.ClientOrderID,
		Submissions:     res.Submissions,
		Direct:          res.Direct,
		Ambiguous:       res.Asset.Ambiguous,
		Timestamp:       e.now().UTC(),
	}
	if !out.Success() {
		rec.ErrorMessage = out.Reason
	}
	return rec
}

func (e *Engine) trackUnresolved(ctx context.Context, res *Result) {
	if e.store == nil || res.Submissions == 0 {
		return
	}
	symbol := symbolKey(res.Intent.Symbol)
	out := res.Outcome
	switch {
	case out.Unconfirmed:
		marker := state.UnresolvedAttempt{
			Symbol:       symbol,
			Direction:    string(res.Intent.Direction),
			Size:         res.Size.String(),
			LimitPrice:   decimalOrEmpty(res.LimitPrice),
			Cloid:        res.ClientOrderID,
			RecordedAtMS: e.now().UnixMilli(),
		}
		if err := state.SaveUnresolved(ctx, e.store, marker); err != nil {
			res.Warnings = append(res.Warnings, "unresolved marker write failed: "+err.Error())
			e.log.Warn("save unresolved marker failed", zap.String("symbol", symbol), zap.Error(err))
		}
	case out.Definite() && res.PriorUnresolved != nil:
		if err := state.ClearUnresolved(ctx, e.store, symbol); err != nil {
			e.log.Warn("clear unresolved marker failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// alert sends in the background so a slow notifier never delays the result.
func (e *Engine) alert(ctx context.Context, res *Result) {
	out := res.Outcome
	var msg string
	if out.Invariant() {
		msg = fmt.Sprintf("hl-perp-trader invariant violation on %s %s: %s", symbolKey(res.Intent.Symbol), res.Intent.Direction, out.Reason)
	} else {
		msg = fmt.Sprintf("hl-perp-trader %s %s %s timed out after %d submission(s), cloid %s. Check positions before retrying.",
			symbolKey(res.Intent.Symbol), res.Intent.Direction, res.Size, res.Submissions, res.ClientOrderID)
	}
	e.alertsPending.Add(1)
	go func() {
		defer e.alertsPending.Done()
		sendCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
		if err := e.alerts.Send(sendCtx, msg); err != nil {
			e.log.Warn("alert send failed", zap.Error(err))
		}
	}()
}

type trackState struct {
	quote       market.Quote
	size        decimal.Decimal
	limit       decimal.Decimal
	tick        decimal.Decimal
	submissions int
}

// tracker holds what the deadline-bound goroutine has done so far, so a
// timed-out attempt can still be logged accurately.
type tracker struct {
	mu    sync.Mutex
	state trackState
}

func (t *tracker) setQuote(q market.Quote) {
	t.mu.Lock()
	t.state.quote = q
	t.mu.Unlock()
}

func (t *tracker) setSize(size decimal.Decimal) {
	t.mu.Lock()
	t.state.size = size
	t.mu.Unlock()
}

func (t *tracker) submitting(tick, limit decimal.Decimal) {
	t.mu.Lock()
	t.state.tick = tick
	t.state.limit = limit
	t.state.submissions++
	t.mu.Unlock()
}

func (t *tracker) snapshot() trackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func symbolKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func decimalOrEmpty(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
