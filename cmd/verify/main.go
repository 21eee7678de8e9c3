package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"hl-perp-trader/internal/app"
	"hl-perp-trader/internal/config"
	"hl-perp-trader/internal/exec"
	"hl-perp-trader/internal/logging"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultVerifyEnvFile = ".env"

// verify places (or with -dry-run, only derives) a single leveraged market
// order through the same engine the server uses.
func main() {
	configPath := flag.String("config", "", "optional config path")
	symbol := flag.String("symbol", "", "asset symbol (or HL_VERIFY_ASSET)")
	direction := flag.String("direction", "long", "long or short")
	size := flag.String("size", "", "order size in base units (or HL_VERIFY_SIZE)")
	leverage := flag.Int("leverage", 1, "leverage multiple")
	slippage := flag.Int("slippage-bps", -1, "slippage in basis points; negative uses the configured default")
	tick := flag.String("tick", "", "tick size for -dry-run and -direct; empty uses the first candidate")
	dryRun := flag.Bool("dry-run", false, "print the derived order and exit without signing")
	direct := flag.Bool("direct", false, "submit once at a single tick size")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	// One-shot run; the live mid feed is not needed.
	cfg.WS.Enabled = false

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	asset := strings.TrimSpace(*symbol)
	if asset == "" {
		asset = strings.TrimSpace(os.Getenv("HL_VERIFY_ASSET"))
	}
	if asset == "" {
		fatal(errors.New("-symbol or HL_VERIFY_ASSET is required"))
	}
	rawSize := strings.TrimSpace(*size)
	if rawSize == "" {
		rawSize = strings.TrimSpace(os.Getenv("HL_VERIFY_SIZE"))
	}
	orderSize, err := decimal.NewFromString(rawSize)
	if err != nil {
		fatal(fmt.Errorf("invalid size %q: %w", rawSize, err))
	}
	dir, err := exec.ParseDirection(*direction)
	if err != nil {
		fatal(err)
	}
	tickSize := decimal.Zero
	if strings.TrimSpace(*tick) != "" {
		tickSize, err = decimal.NewFromString(strings.TrimSpace(*tick))
		if err != nil {
			fatal(fmt.Errorf("invalid tick %q: %w", *tick, err))
		}
	}
	slippageBps := *slippage
	if slippageBps < 0 {
		slippageBps = cfg.Engine.DefaultSlippageBps
		if envVal, ok, err := intEnv("HL_VERIFY_SLIPPAGE_BPS"); err != nil {
			fatal(err)
		} else if ok {
			slippageBps = envVal
		}
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		fatal(err)
	}
	defer application.Close()
	application.Prepare(ctx)

	intent := exec.Intent{
		Symbol:      asset,
		Direction:   dir,
		Size:        orderSize,
		Leverage:    decimal.NewFromInt(int64(*leverage)),
		SlippageBps: slippageBps,
	}

	if *dryRun {
		plan, err := application.Engine().Plan(ctx, intent, tickSize)
		if err != nil {
			fatal(err)
		}
		printJSON(plan)
		return
	}

	var res exec.Result
	if *direct {
		res, err = application.Engine().ExecuteDirect(ctx, intent, tickSize)
	} else {
		res, err = application.Engine().Execute(ctx, intent)
	}
	if err != nil {
		fatal(err)
	}
	log.Info("verify attempt finished",
		zap.String("outcome", string(res.Outcome.Kind)),
		zap.Int("submissions", res.Submissions),
		zap.Duration("elapsed", res.Elapsed),
	)
	printJSON(res)
	fmt.Println(res.Outcome.UserMessage())
	if !res.Outcome.Success() {
		os.Exit(2)
	}
}

func printJSON(v any) {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(pretty))
}

func intEnv(key string) (int, bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, true, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
