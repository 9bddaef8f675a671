// Package cache is the content-addressed synthesis cache: a flat
// directory of audio files named {key}.{ext}. There is no in-memory
// index, so cached narrations survive daemon restarts for free.
package cache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airwavelabs/aria/internal/synth"
)

// Store is a synthesis cache rooted at one directory.
type Store struct {
	dir string
	log *slog.Logger

	// now is swapped in tests to pin sweep arithmetic.
	now func() time.Time
}

// New creates the cache directory if needed and returns a store for it.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{
		dir: dir,
		log: logger.With(slog.String("component", "synth-cache")),
		now: time.Now,
	}, nil
}

// Dir returns the cache root.
func (s *Store) Dir() string { return s.dir }

// Lookup probes the known artifact formats in order and returns the
// first cached file for key. Any stat trouble reads as a miss.
func (s *Store) Lookup(key string) *synth.Artifact {
	key = sanitizeKey(key)
	if key == "" {
		return nil
	}
	for _, format := range synth.KnownFormats() {
		path := filepath.Join(s.dir, key+"."+string(format))
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		return &synth.Artifact{Path: path, Format: format}
	}
	return nil
}

// Store copies the artifact into the cache under key. The source file is
// left in place so queued playback never depends on cache retention.
func (s *Store) Store(key string, art *synth.Artifact) error {
	key = sanitizeKey(key)
	if key == "" {
		return errors.New("empty cache key")
	}
	if art == nil {
		return errors.New("nil artifact")
	}

	src, err := os.Open(art.Path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	dst := filepath.Join(s.dir, key+"."+string(art.Format))
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create cache entry: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("write cache entry: %w", err)
	}
	return out.Close()
}

// Sweep removes entries whose modification time is older than maxAge and
// reports how many were removed. Entries that resist deletion are logged
// and skipped; the sweep keeps going.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.log.Warn("failed to remove cache entry", slog.String("entry", entry.Name()), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed, nil
}

// sanitizeKey keeps caller-supplied keys inside the flat cache dir.
func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)
	key = strings.ReplaceAll(key, "/", "_")
	key = strings.ReplaceAll(key, string(filepath.Separator), "_")
	key = strings.ReplaceAll(key, "..", "_")
	return key
}
