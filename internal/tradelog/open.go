package tradelog

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"hl-perp-trader/internal/config"
)

// Open returns the sink selected by cfg. The sqlite driver shares the state
// database handle when one is given.
func Open(ctx context.Context, cfg config.TradeLogConfig, stateDB *sql.DB, sqlitePath string, log *zap.Logger) (Sink, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if stateDB != nil {
			return NewSQLite(stateDB)
		}
		return OpenSQLite(sqlitePath)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, cfg.Schema, log)
	default:
		return nil, fmt.Errorf("unsupported trade log driver %q", cfg.Driver)
	}
}
