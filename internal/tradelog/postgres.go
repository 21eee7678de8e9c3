package tradelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Postgres struct {
	db     *sql.DB
	log    *zap.Logger
	schema string
}

func OpenPostgres(ctx context.Context, dsn, schema string, log *zap.Logger) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("trade log dsn is required")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	p := &Postgres{db: db, log: log, schema: schema}
	if err := p.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if p.schema != "public" {
		if err := p.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", p.schema)); err != nil {
			return err
		}
	}
	if err := p.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id UUID NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		asset_index INTEGER NOT NULL,
		direction TEXT NOT NULL,
		size NUMERIC NOT NULL,
		leverage NUMERIC NOT NULL,
		entry_price NUMERIC,
		tick_size NUMERIC,
		status TEXT NOT NULL,
		error_code TEXT NOT NULL DEFAULT '',
		exchange_order_id TEXT NOT NULL DEFAULT '',
		client_order_id TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		submissions INTEGER NOT NULL DEFAULT 0,
		direct BOOLEAN NOT NULL DEFAULT FALSE,
		ambiguous BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (id, ts)
	)`, p.table("trade_log"))); err != nil {
		return err
	}
	if err := p.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		p.log.Debug("timescale extension unavailable, trade_log stays a plain table", zap.Error(err))
		return nil
	}
	if err := p.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", p.table("trade_log"))); err != nil {
		p.log.Warn("trade_log hypertable create failed", zap.Error(err))
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, rec Record) error {
	rec = Prepare(rec, time.Now())
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		id, ts, symbol, asset_index, direction, size, leverage, entry_price, tick_size, status,
		error_code, exchange_order_id, client_order_id, error_message, submissions, direct, ambiguous
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
	)`, p.table("trade_log"))
	_, err := p.db.ExecContext(ctx, query,
		rec.ID,
		rec.Timestamp,
		rec.Symbol,
		rec.AssetIndex,
		rec.Direction,
		rec.Size,
		rec.Leverage,
		nullableNumeric(rec.EntryPrice),
		nullableNumeric(rec.TickSize),
		rec.Status,
		rec.ErrorCode,
		rec.ExchangeOrderID,
		rec.ClientOrderID,
		rec.ErrorMessage,
		rec.Submissions,
		rec.Direct,
		rec.Ambiguous,
	)
	return err
}

func (p *Postgres) Recent(ctx context.Context, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`SELECT
		id::text, ts, symbol, asset_index, direction, size::text, leverage::text,
		COALESCE(entry_price::text, ''), COALESCE(tick_size::text, ''), status,
		error_code, exchange_order_id, client_order_id, error_message, submissions, direct, ambiguous
	FROM %s ORDER BY ts DESC LIMIT $1`, p.table("trade_log"))
	rows, err := p.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&rec.Symbol,
			&rec.AssetIndex,
			&rec.Direction,
			&rec.Size,
			&rec.Leverage,
			&rec.EntryPrice,
			&rec.TickSize,
			&rec.Status,
			&rec.ErrorCode,
			&rec.ExchangeOrderID,
			&rec.ClientOrderID,
			&rec.ErrorMessage,
			&rec.Submissions,
			&rec.Direct,
			&rec.Ambiguous,
		); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := p.db.ExecContext(ctx, query)
	return err
}

func (p *Postgres) table(name string) string {
	return p.schema + "." + name
}

func nullableNumeric(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
