package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nlquant/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ SnapshotStore = (*SQLiteStore)(nil)

// SQLiteStore implements SnapshotStore backed by a SQLite database. One row
// per (symbol, minute); timestamps are stored as Unix seconds UTC.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS minute_bars (
	symbol TEXT    NOT NULL,
	ts     INTEGER NOT NULL,
	open   REAL    NOT NULL,
	high   REAL    NOT NULL,
	low    REAL    NOT NULL,
	close  REAL    NOT NULL,
	volume REAL    NOT NULL,
	PRIMARY KEY (symbol, ts)
);
CREATE INDEX IF NOT EXISTS idx_minute_bars_ts ON minute_bars (symbol, ts);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the snapshot schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WriteBars upserts bars for a symbol inside one transaction.
func (s *SQLiteStore) WriteBars(ctx context.Context, symbol string, bars []domain.MinuteBar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO minute_bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.TS.UTC().Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("inserting bar %s@%s: %w", symbol, b.TS.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

// ReadBars returns bars in [start, end] ascending by timestamp.
func (s *SQLiteStore) ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM minute_bars
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`,
		symbol, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("querying bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.MinuteBar
	for rows.Next() {
		var ts int64
		var b domain.MinuteBar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scanning bar row: %w", err)
		}
		b.TS = time.Unix(ts, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ListSymbols returns every symbol present in the snapshot, sorted.
func (s *SQLiteStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM minute_bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scanning symbol row: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}
