package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	REST     RESTConfig     `yaml:"rest"`
	WS       WSConfig       `yaml:"ws"`
	State    StateConfig    `yaml:"state"`
	Engine   EngineConfig   `yaml:"engine"`
	TradeLog TradeLogConfig `yaml:"trade_log"`
	Lock     LockConfig     `yaml:"lock"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MagnitudeHint describes the price band characteristic of an asset. It is
// used to cross-check symbol resolution on venues that mislabel assets.
type MagnitudeHint struct {
	MinPrice float64 `yaml:"min_price"`
	MaxPrice float64 `yaml:"max_price"`
}

type EngineConfig struct {
	Deadline           time.Duration            `yaml:"deadline"`
	CallTimeout        time.Duration            `yaml:"call_timeout"`
	DefaultSlippageBps int                      `yaml:"default_slippage_bps"`
	MaxLeverage        float64                  `yaml:"max_leverage"`
	MarginMode         string                   `yaml:"margin_mode"`
	MinNotionalUSD     float64                  `yaml:"min_notional_usd"`
	MaxNotionalUSD     float64                  `yaml:"max_notional_usd"`
	PriceSigFigs       int                      `yaml:"price_sig_figs"`
	DefaultTickSizes   []float64                `yaml:"default_tick_sizes"`
	TickSizes          map[string][]float64     `yaml:"tick_sizes"`
	MagnitudeHints     map[string]MagnitudeHint `yaml:"magnitude_hints"`
}

// IsCross reports whether leverage is configured in cross-margin mode.
func (e EngineConfig) IsCross() bool {
	return !strings.EqualFold(strings.TrimSpace(e.MarginMode), "isolated")
}

type TradeLogConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

type LockConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

var defaultTickSizes = []float64{0.01, 0.1, 0.5, 1, 0.001, 5, 10}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// Default returns a config populated with defaults only, for tools that run
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = wsURLFromREST(cfg.REST.BaseURL)
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-perp-trader.db"
	}
	if cfg.Engine.Deadline == 0 {
		cfg.Engine.Deadline = 30 * time.Second
	}
	if cfg.Engine.CallTimeout == 0 {
		cfg.Engine.CallTimeout = 8 * time.Second
	}
	if cfg.Engine.DefaultSlippageBps == 0 {
		cfg.Engine.DefaultSlippageBps = 50
	}
	if cfg.Engine.MaxLeverage == 0 {
		cfg.Engine.MaxLeverage = 40
	}
	if cfg.Engine.MarginMode == "" {
		cfg.Engine.MarginMode = "cross"
	}
	if cfg.Engine.MinNotionalUSD == 0 {
		cfg.Engine.MinNotionalUSD = 10
	}
	if cfg.Engine.PriceSigFigs == 0 {
		cfg.Engine.PriceSigFigs = 5
	}
	if len(cfg.Engine.DefaultTickSizes) == 0 {
		cfg.Engine.DefaultTickSizes = append([]float64(nil), defaultTickSizes...)
	}
	if cfg.TradeLog.Driver == "" {
		cfg.TradeLog.Driver = "sqlite"
	}
	if cfg.TradeLog.Schema == "" {
		cfg.TradeLog.Schema = "public"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 2 * cfg.Engine.Deadline
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("HL_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("HL_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("HL_TRADE_LOG_DSN")); dsn != "" {
		cfg.TradeLog.DSN = dsn
	}
}

func validate(cfg *Config) error {
	if cfg.REST.Timeout < 0 {
		return errors.New("rest.timeout must be >= 0")
	}
	if cfg.Engine.Deadline <= 0 {
		return errors.New("engine.deadline must be > 0")
	}
	if cfg.Engine.CallTimeout <= 0 {
		return errors.New("engine.call_timeout must be > 0")
	}
	if cfg.Engine.CallTimeout > cfg.Engine.Deadline {
		return errors.New("engine.call_timeout exceeds engine.deadline")
	}
	if cfg.Engine.DefaultSlippageBps < 0 {
		return errors.New("engine.default_slippage_bps must be >= 0")
	}
	if cfg.Engine.MaxLeverage <= 0 || cfg.Engine.MaxLeverage > 40 {
		return errors.New("engine.max_leverage must be in (0, 40]")
	}
	switch strings.ToLower(cfg.Engine.MarginMode) {
	case "cross", "isolated":
	default:
		return fmt.Errorf("engine.margin_mode %q must be cross or isolated", cfg.Engine.MarginMode)
	}
	if cfg.Engine.MinNotionalUSD < 0 {
		return errors.New("engine.min_notional_usd must be >= 0")
	}
	if cfg.Engine.MaxNotionalUSD > 0 && cfg.Engine.MaxNotionalUSD < cfg.Engine.MinNotionalUSD {
		return errors.New("engine.max_notional_usd is below engine.min_notional_usd")
	}
	if cfg.Engine.PriceSigFigs < 0 {
		return errors.New("engine.price_sig_figs must be >= 0")
	}
	if err := validateTicks("engine.default_tick_sizes", cfg.Engine.DefaultTickSizes); err != nil {
		return err
	}
	for symbol, ticks := range cfg.Engine.TickSizes {
		if err := validateTicks("engine.tick_sizes."+symbol, ticks); err != nil {
			return err
		}
	}
	for symbol, hint := range cfg.Engine.MagnitudeHints {
		if hint.MinPrice <= 0 {
			return fmt.Errorf("engine.magnitude_hints.%s.min_price must be > 0", symbol)
		}
		if hint.MaxPrice > 0 && hint.MaxPrice <= hint.MinPrice {
			return fmt.Errorf("engine.magnitude_hints.%s.max_price must exceed min_price", symbol)
		}
	}
	switch cfg.TradeLog.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.TradeLog.DSN) == "" {
			return errors.New("trade_log.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("trade_log.driver %q must be sqlite or postgres", cfg.TradeLog.Driver)
	}
	if cfg.Lock.TTL < 0 {
		return errors.New("lock.ttl must be >= 0")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}

func validateTicks(field string, ticks []float64) error {
	if len(ticks) == 0 {
		return fmt.Errorf("%s must not be empty", field)
	}
	for _, tick := range ticks {
		if tick <= 0 {
			return fmt.Errorf("%s entries must be > 0", field)
		}
	}
	return nil
}

func wsURLFromREST(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return "wss://api.hyperliquid.xyz/ws"
	}
}
