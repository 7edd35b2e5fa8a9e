package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a single-node ledger backed by a local database file.
type SQLite struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLite(dbPath string, ttl time.Duration, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &SQLite{db: db, ttl: ttl, logger: logger.With("component", "dedupe.sqlite"), now: time.Now}
	if err := runMigrations(db, l.logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	if err := l.sweep(context.Background()); err != nil {
		l.logger.Warn("expiry sweep failed", "err", err)
	}
	return l, nil
}

func (l *SQLite) Seen(ctx context.Context, eventID string) (bool, error) {
	var processedAt int64
	err := l.db.QueryRowContext(ctx,
		"SELECT processed_at FROM processed_events WHERE event_id = ?", eventID,
	).Scan(&processedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup event %s: %w", eventID, err)
	}
	if l.ttl > 0 && l.now().Sub(time.Unix(0, processedAt)) > l.ttl {
		return false, nil
	}
	return true, nil
}

func (l *SQLite) Mark(ctx context.Context, eventID string) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO processed_events (event_id, processed_at) VALUES (?, ?)",
		eventID, l.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("mark event %s: %w", eventID, err)
	}
	return nil
}

// sweep deletes entries older than the ttl.
func (l *SQLite) sweep(ctx context.Context) error {
	if l.ttl <= 0 {
		return nil
	}
	res, err := l.db.ExecContext(ctx,
		"DELETE FROM processed_events WHERE processed_at < ?", l.now().Add(-l.ttl).UnixNano(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		l.logger.Debug("expired processed events", "count", n)
	}
	return nil
}

func (l *SQLite) Close() error {
	return l.db.Close()
}
