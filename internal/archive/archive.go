// Package archive keeps a SQLite record of every message the relay
// forwarded. It is an audit trail, not relay state: dedup and reply mapping
// stay in memory and are never restored from here.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/domain"

	_ "modernc.org/sqlite"
)

// Store implements bridge.Recorder using SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create archive directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open archive database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS relayed_messages (
		source_id   INTEGER PRIMARY KEY,
		user_id     INTEGER NOT NULL,
		username    TEXT NOT NULL,
		body        TEXT,
		image_count INTEGER DEFAULT 0,
		posted_at   DATETIME,
		relayed_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_relayed_user ON relayed_messages(user_id);
	CREATE INDEX IF NOT EXISTS idx_relayed_time ON relayed_messages(relayed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record stores one forwarded message. Re-recording the same source ID is a
// no-op rather than an error, matching at-least-once ingestion.
func (s *Store) Record(ctx context.Context, msg domain.RawMessage, body string, imageCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO relayed_messages (source_id, user_id, username, body, image_count, posted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.UserID, msg.Username, body, imageCount, msg.Date,
	)
	if err != nil {
		return fmt.Errorf("record relayed message: %w", err)
	}
	return nil
}

// Stats summarizes the archive for the destination-side /stats command.
type Stats struct {
	Total       int64
	Authors     int64
	LastRelayed time.Time
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var last sql.NullString

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT user_id), MAX(relayed_at)
		FROM relayed_messages`)
	if err := row.Scan(&st.Total, &st.Authors, &last); err != nil {
		return Stats{}, fmt.Errorf("query archive stats: %w", err)
	}

	if last.Valid {
		if t, err := time.Parse("2006-01-02 15:04:05", last.String); err == nil {
			st.LastRelayed = t
		}
	}
	return st, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
