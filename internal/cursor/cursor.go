// Package cursor persists the publish position and per-item stats.
//
// The cursor file is rewritten whole on every save. The previous version is
// copied to <path>.bak first and the new one lands via temp file + rename, so
// a crash mid-write leaves at least one readable copy.
package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrRegression = errors.New("cursor regression")
	ErrClaimed    = errors.New("cursor store already claimed")
	ErrEmptyPath  = errors.New("cursor path is empty")
)

// Stat is what is remembered about one published item.
type Stat struct {
	Title string `json:"title"`
}

// Cursor points at the next unpublished feed item.
type Cursor struct {
	FeedIndex  int             `json:"feed_index"`
	TweetStats map[string]Stat `json:"tweet_stats"`
}

// Clone returns a deep copy.
func (c Cursor) Clone() Cursor {
	out := Cursor{FeedIndex: c.FeedIndex}
	if len(c.TweetStats) > 0 {
		out.TweetStats = make(map[string]Stat, len(c.TweetStats))
		for k, v := range c.TweetStats {
			out.TweetStats[k] = v
		}
	}
	return out
}

// Store is a file-backed cursor. Safe for concurrent use; writes are
// serialized under one mutex.
type Store struct {
	path string

	mu      sync.Mutex
	high    int // highest feed_index loaded or saved
	claimed bool
}

func NewStore(path string) *Store { return &Store{path: strings.TrimSpace(path)} }

func (s *Store) Path() string       { return s.path }
func (s *Store) BackupPath() string { return s.path + ".bak" }

// Claim reserves the store for a single publish worker.
func (s *Store) Claim() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return ErrClaimed
	}
	s.claimed = true
	return nil
}

// Release undoes Claim.
func (s *Store) Release() {
	s.mu.Lock()
	s.claimed = false
	s.mu.Unlock()
}

// Load reads the cursor. A missing or unreadable main file falls back to the
// backup; if neither exists the zero cursor is returned.
func (s *Store) Load(ctx context.Context) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return Cursor{}, err
	}
	if s.path == "" {
		return Cursor{}, ErrEmptyPath
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := readCursor(s.path)
	if err != nil {
		bak, bakErr := readCursor(s.BackupPath())
		switch {
		case bakErr == nil:
			c, err = bak, nil
		case errors.Is(err, os.ErrNotExist) && errors.Is(bakErr, os.ErrNotExist):
			c, err = Cursor{}, nil
		case errors.Is(err, os.ErrNotExist):
			return Cursor{}, fmt.Errorf("load cursor backup: %w", bakErr)
		default:
			return Cursor{}, fmt.Errorf("load cursor: %w", err)
		}
	}
	if c.FeedIndex < 0 {
		return Cursor{}, fmt.Errorf("load cursor: negative feed_index %d", c.FeedIndex)
	}
	if c.FeedIndex > s.high {
		s.high = c.FeedIndex
	}
	return c, nil
}

// Save persists c. The write runs to completion even if ctx is cancelled
// after it started; callers should pass a non-cancellable context anyway.
func (s *Store) Save(ctx context.Context, c Cursor) error {
	if s.path == "" {
		return ErrEmptyPath
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.FeedIndex < s.high {
		return fmt.Errorf("%w: %d < %d", ErrRegression, c.FeedIndex, s.high)
	}
	c = c.Clone()
	if c.TweetStats == nil {
		c.TweetStats = map[string]Stat{}
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := copyFile(s.path, s.BackupPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("backup cursor: %w", err)
	}
	if err := writeAtomic(s.path, b); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	s.high = c.FeedIndex
	return nil
}

func readCursor(path string) (Cursor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Cursor{}, err
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return Cursor{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return c, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	b, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return writeAtomic(dst, b)
}

func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
