package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"hl-perp-trader/internal/account"
	"hl-perp-trader/internal/alerts"
	"hl-perp-trader/internal/config"
	"hl-perp-trader/internal/exec"
	"hl-perp-trader/internal/hl/exchange"
	"hl-perp-trader/internal/hl/rest"
	"hl-perp-trader/internal/hl/ws"
	"hl-perp-trader/internal/lock"
	"hl-perp-trader/internal/market"
	"hl-perp-trader/internal/metrics"
	"hl-perp-trader/internal/server"
	"hl-perp-trader/internal/state/sqlite"
	"hl-perp-trader/internal/tradelog"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	rest     *rest.Client
	ws       *ws.Client
	exchange *exchange.Client
	resolver *market.Resolver
	oracle   *market.Oracle
	feed     *market.Feed
	account  *account.Account
	trades   tradelog.Sink
	guard    lock.Guard
	alerts   alerts.Notifier
	metrics  *metrics.Metrics
	engine   *exec.Engine
	server   *server.Server
}

// Credentials are read from the environment, never from the config file.
type Credentials struct {
	WalletAddress  string
	PrivateKey     string
	AccountAddress string
	VaultAddress   string
}

func CredentialsFromEnv() (Credentials, error) {
	walletAddress := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	if walletAddress == "" {
		return Credentials{}, errors.New("HL_WALLET_ADDRESS is required")
	}
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		return Credentials{}, errors.New("HL_PRIVATE_KEY is required")
	}
	accountAddress := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS"))
	if accountAddress == "" {
		accountAddress = walletAddress
	}
	return Credentials{
		WalletAddress:  walletAddress,
		PrivateKey:     privateKey,
		AccountAddress: accountAddress,
		VaultAddress:   strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS")),
	}, nil
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	creds, err := CredentialsFromEnv()
	if err != nil {
		return nil, err
	}
	return NewWithCredentials(ctx, cfg, creds, log)
}

func NewWithCredentials(ctx context.Context, cfg *config.Config, creds Credentials, log *zap.Logger) (app *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, store: store}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	signer, err := exchange.NewSigner(creds.PrivateKey, isMainnet)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(creds.WalletAddress, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", creds.WalletAddress, signer.Address().Hex())
	}
	a.exchange, err = exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, creds.VaultAddress)
	if err != nil {
		return nil, err
	}
	a.exchange.SetLogger(log)

	a.rest = rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	a.resolver = market.NewResolver(a.rest, bandsFromConfig(cfg.Engine.MagnitudeHints), log)
	a.oracle = market.NewOracle(a.rest, log)
	if cfg.WS.Enabled {
		a.ws = ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
		a.feed = market.NewFeed(a.ws, a.oracle, a.resolver.IndexOf, log)
	}
	a.account = account.New(a.rest, log, creds.AccountAddress)

	a.trades, err = tradelog.Open(ctx, cfg.TradeLog, store.DB(), cfg.State.SQLitePath, log)
	if err != nil {
		return nil, err
	}
	if cfg.Lock.RedisAddr != "" {
		guard, err := lock.NewRedis(ctx, lock.RedisConfig{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		a.guard = guard
	} else {
		a.guard = lock.NewMemory()
	}
	if cfg.Telegram.Enabled {
		a.alerts = alerts.NewTelegram(cfg.Telegram, log)
	} else {
		a.alerts = alerts.Nop{}
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		a.metrics = prom.Metrics
		metricsHandler = prom.Handler()
	} else {
		a.metrics = metrics.NewNoop()
	}

	a.engine, err = exec.New(exec.Deps{
		Resolver: a.resolver,
		Prices:   a.oracle,
		Venue:    a.exchange,
		Sink:     a.trades,
		Guard:    a.guard,
		Store:    store,
		Alerts:   a.alerts,
		Metrics:  a.metrics,
		Log:      log,
	}, exec.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	a.server = server.New(server.Options{
		Engine:      a.engine,
		Assets:      a.resolver,
		Account:     a.account,
		Trades:      a.trades,
		Metrics:     metricsHandler,
		CORSOrigins: cfg.Server.CORSOrigins,
		Log:         log,
	})
	return a, nil
}

func (a *App) Engine() *exec.Engine { return a.engine }

func (a *App) Trades() tradelog.Sink { return a.trades }

func (a *App) Server() *server.Server { return a.server }

// Prepare restores the persisted nonce floor and warms the asset catalog.
// Both are best effort; the engine re-resolves on demand.
func (a *App) Prepare(ctx context.Context) {
	if a.exchange != nil && a.store != nil {
		if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		} else if state, ok := a.exchange.NonceState(); ok {
			a.log.Info("nonce persistence enabled", zap.String("nonce_key", state.Key), zap.Uint64("nonce_seed", state.Last))
		}
	}
	if universe, err := a.resolver.Universe(ctx); err != nil {
		a.log.Warn("asset catalog warmup failed", zap.Error(err))
	} else {
		a.log.Info("asset catalog loaded", zap.Int("assets", len(universe)))
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	a.Prepare(ctx)

	if state, err := a.account.Reconcile(ctx); err != nil {
		a.log.Warn("account reconcile failed", zap.Error(err))
	} else {
		a.log.Info("reconciled account",
			zap.String("user", state.User),
			zap.Int("positions", len(state.Positions)),
			zap.Int("open_orders", len(state.OpenOrders)),
			zap.String("account_value", state.Margin.AccountValue.String()),
		)
	}
	if a.feed != nil {
		if err := a.feed.Start(ctx); err != nil {
			a.log.Warn("mid feed start failed", zap.Error(err))
		}
	}
	return a.server.Run(ctx, a.cfg.Server.Addr)
}

func (a *App) Close() error {
	if a.engine != nil {
		a.engine.Wait()
	}
	var errs []error
	if a.trades != nil {
		errs = append(errs, a.trades.Close())
		a.trades = nil
	}
	if closer, ok := a.guard.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
		a.guard = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}

func bandsFromConfig(hints map[string]config.MagnitudeHint) map[string]market.MagnitudeBand {
	if len(hints) == 0 {
		return nil
	}
	bands := make(map[string]market.MagnitudeBand, len(hints))
	for symbol, hint := range hints {
		bands[symbol] = market.MagnitudeBand{
			MinPrice: decimal.NewFromFloat(hint.MinPrice),
			MaxPrice: decimal.NewFromFloat(hint.MaxPrice),
		}
	}
	return bands
}
