// Package history persists a narration log: what was synthesized, with
// which provider and voice, whether it came from cache, and whether it
// actually played. Raw narration text never lands on disk, only a short
// hash of it.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/airwavelabs/aria/internal/config"
	_ "modernc.org/sqlite"
)

// Entry is one recorded narration outcome.
type Entry struct {
	ID           int64
	RequestID    string
	CacheKey     string
	Provider     string
	Voice        string
	TextHash     string
	ArtifactPath string
	Format       string
	Cached       bool
	DurationMS   int64
	Played       bool
	Error        string
	CreatedAt    time.Time
}

// TextHash fingerprints narration text for the log without storing it.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:12]
}

// Store wraps a SQLite-backed narration log.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config. Ephemeral mode
// returns a store whose writes all no-op.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
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
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS narrations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT,
    cache_key TEXT,
    provider TEXT,
    voice TEXT,
    text_hash TEXT,
    artifact_path TEXT,
    format TEXT,
    cached INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    played INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_narrations_created ON narrations(created_at);
CREATE INDEX IF NOT EXISTS idx_narrations_artifact ON narrations(artifact_path);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record writes one narration outcome into the log.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO narrations(request_id, cache_key, provider, voice, text_hash, artifact_path, format, cached, duration_ms, played, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.CacheKey, e.Provider, e.Voice, e.TextHash, e.ArtifactPath, e.Format, e.Cached, e.DurationMS, e.Played, e.Error, e.CreatedAt)
	return err
}

// MarkPlayed updates the newest row for an artifact path after its
// player process exits. A nil playErr marks the row played; otherwise
// the playback error is recorded and the row stays unplayed.
func (s *Store) MarkPlayed(ctx context.Context, artifactPath string, playErr error) error {
	if s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if playErr != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE narrations SET error = ? WHERE id = (
				SELECT id FROM narrations WHERE artifact_path = ? ORDER BY id DESC LIMIT 1
			)`, playErr.Error(), artifactPath)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE narrations SET played = 1 WHERE id = (
			SELECT id FROM narrations WHERE artifact_path = ? ORDER BY id DESC LIMIT 1
		)`, artifactPath)
	return err
}

// Recent retrieves up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, cache_key, provider, voice, text_hash, artifact_path, format, cached, duration_ms, played, error, created_at
		 FROM narrations ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.CacheKey, &e.Provider, &e.Voice, &e.TextHash, &e.ArtifactPath, &e.Format, &e.Cached, &e.DurationMS, &e.Played, &e.Error, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies configured retention: an age cutoff in days and a cap on
// total rows, newest kept.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil {
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
		if _, err = tx.ExecContext(ctx, `DELETE FROM narrations WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM narrations WHERE id IN (
			SELECT id FROM narrations ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
