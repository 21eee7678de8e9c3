package tradelog

import (
	"context"
	"database/sql"
	"time"

	statesqlite "hl-perp-trader/internal/state/sqlite"
)

type SQLite struct {
	db    *sql.DB
	owned bool
}

// OpenSQLite opens (or creates) a trade log in its own database file.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := statesqlite.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLite(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLite uses an existing handle, typically the state store's.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS trade_log (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		asset_index INTEGER NOT NULL,
		direction TEXT NOT NULL,
		size TEXT NOT NULL,
		leverage TEXT NOT NULL,
		entry_price TEXT NOT NULL DEFAULT '',
		tick_size TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_code TEXT NOT NULL DEFAULT '',
		exchange_order_id TEXT NOT NULL DEFAULT '',
		client_order_id TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		submissions INTEGER NOT NULL DEFAULT 0,
		direct INTEGER NOT NULL DEFAULT 0,
		ambiguous INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS trade_log_ts ON trade_log (ts)`); err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(ctx context.Context, rec Record) error {
	rec = Prepare(rec, time.Now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO trade_log (
		id, ts, symbol, asset_index, direction, size, leverage, entry_price, tick_size, status,
		error_code, exchange_order_id, client_order_id, error_message, submissions, direct, ambiguous
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UnixMilli(),
		rec.Symbol,
		rec.AssetIndex,
		rec.Direction,
		rec.Size,
		rec.Leverage,
		rec.EntryPrice,
		rec.TickSize,
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

func (s *SQLite) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, ts, symbol, asset_index, direction, size, leverage, entry_price, tick_size, status,
		error_code, exchange_order_id, client_order_id, error_message, submissions, direct, ambiguous
	FROM trade_log ORDER BY ts DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var ts int64
		if err := rows.Scan(
			&rec.ID,
			&ts,
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
		rec.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
