// Package history persists the pipeline's turn log in SQLite.
package history

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

// Retention modes.
const (
	RetentionEphemeral  = "ephemeral"
	RetentionPersistent = "persistent"
)

// Turn is one recorded exchange.
type Turn struct {
	ID         int64
	TurnID     string
	Transcript string
	Reply      string
	State      string
	CreatedAt  time.Time
}

// Config carries store settings.
type Config struct {
	Path          string
	RetentionMode string
	RetentionDays int
}

// Store wraps a SQLite-backed turn log. In ephemeral mode nothing is ever
// written; every method becomes a no-op.
type Store struct {
	db    *sql.DB
	cfg   Config
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RetentionMode == RetentionEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("turn log prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    turn_id TEXT NOT NULL,
    transcript TEXT,
    reply TEXT,
    state TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one finished turn.
func (s *Store) Append(ctx context.Context, t Turn) error {
	if s.db == nil {
		return nil
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(turn_id, transcript, reply, state, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		t.TurnID, t.Transcript, t.Reply, t.State, t.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// Recent retrieves up to limit turns ordered oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Turn, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, transcript, reply, state, created_at
		 FROM turns ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var created string
		if err := rows.Scan(&t.ID, &t.TurnID, &t.Transcript, &t.Reply, &t.State, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			t.CreatedAt = ts
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Prune drops turns older than the retention window.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
	_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE created_at < ?`,
		cutoff.Format(time.RFC3339Nano))
	return err
}
