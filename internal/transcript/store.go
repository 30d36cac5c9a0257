package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/livecap/livecapd/internal/config"
	_ "modernc.org/sqlite"
)

// Entry is one finalized utterance. Entries are immutable once appended and
// only ever created from a finalized recognition result; interim text is
// never persisted.
type Entry struct {
	ID         int64
	SessionID  string
	Language   string
	Text       string
	CapturedAt time.Time
}

// Store is the append-only transcript log. With a configured path it is
// backed by SQLite; without one it keeps entries in memory for the process
// lifetime.
type Store struct {
	db    *sql.DB
	cfg   config.TranscriptConfig
	log   *slog.Logger
	clock func() time.Time

	mu  sync.Mutex
	mem []Entry
}

// Open initializes the transcript store according to config.
func Open(ctx context.Context, cfg config.TranscriptConfig, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
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

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    language TEXT NOT NULL,
    text TEXT NOT NULL,
    captured_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_captured ON transcript_entries(captured_at);
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

// Append records one finalized entry.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.Text == "" {
		return errors.New("transcript entry text must not be empty")
	}
	if e.CapturedAt.IsZero() {
		e.CapturedAt = s.clock().UTC()
	}

	if s.db == nil {
		s.mu.Lock()
		e.ID = int64(len(s.mem) + 1)
		s.mem = append(s.mem, e)
		s.mu.Unlock()
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_entries(session_id, language, text, captured_at)
		 VALUES(?, ?, ?, ?)`,
		e.SessionID, e.Language, e.Text, e.CapturedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// List retrieves up to limit entries in capture order; limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}

	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		n := len(s.mem)
		if limit > 0 && n > limit {
			n = limit
		}
		return append([]Entry(nil), s.mem[:n]...), nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, language, text, captured_at
		 FROM transcript_entries ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var captured string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Language, &e.Text, &captured); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, captured); err == nil {
			e.CapturedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.mem), nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcript_entries`).Scan(&n)
	return n, err
}

// Export writes the plain-text transcript, one line per entry in capture
// order: [<language>] <RFC3339 timestamp> — <text>
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	entries, err := s.List(ctx, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "[%s] %s — %s\n", e.Language, e.CapturedAt.UTC().Format(time.RFC3339), e.Text); err != nil {
			return err
		}
	}
	return nil
}

// Prune applies configured retention.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		s.pruneMemory()
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM transcript_entries WHERE captured_at < ?`,
			cutoff.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcript_entries WHERE id IN (
			SELECT id FROM transcript_entries ORDER BY id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func (s *Store) pruneMemory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		kept := s.mem[:0]
		for _, e := range s.mem {
			if !e.CapturedAt.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		s.mem = kept
	}
	if s.cfg.MaxEntries > 0 && len(s.mem) > s.cfg.MaxEntries {
		s.mem = append([]Entry(nil), s.mem[len(s.mem)-s.cfg.MaxEntries:]...)
	}
}
