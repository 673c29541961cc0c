// Package feed holds the ordered content items and the batch loader that
// groups chained items into one publish unit.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrNegativeIndex = errors.New("feed index is negative")
	ErrEmptyPath     = errors.New("feed path is empty")
)

// Item is one pre-authored post. Its identity is its position in the feed.
type Item struct {
	Text  string `json:"text"`
	Title string `json:"title"`
	// Chained means the next item must be published together with this one.
	Chained bool `json:"chain"`
}

// Batch is a non-empty run of items published as one scheduling unit.
type Batch struct {
	Start int
	Items []Item
}

func (b Batch) Len() int { return len(b.Items) }

// Next is the cursor position after this batch.
func (b Batch) Next() int { return b.Start + len(b.Items) }

// Store reads the whole feed.
type Store interface {
	Items(ctx context.Context) ([]Item, error)
}

// FileStore reads a JSON array of items from Path on every call.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: strings.TrimSpace(path)} }

func (s *FileStore) Items(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Path == "" {
		return nil, ErrEmptyPath
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode feed %s: %w", s.Path, err)
	}
	return items, nil
}

// Slice is an in-memory Store.
type Slice []Item

func (s Slice) Items(context.Context) ([]Item, error) { return s, nil }

// BatchAt returns the batch starting at index. ok is false when index is at or
// past the end of items. A chained final item ends the batch at the boundary.
func BatchAt(items []Item, index int) (Batch, bool) {
	if index < 0 || index >= len(items) {
		return Batch{}, false
	}
	end := index + 1
	for end < len(items) && items[end-1].Chained {
		end++
	}
	out := make([]Item, end-index)
	copy(out, items[index:end])
	return Batch{Start: index, Items: out}, true
}

// Loader reads the store and cuts the next batch.
type Loader struct {
	store Store
}

func NewLoader(store Store) *Loader { return &Loader{store: store} }

// LoadBatch reads the full feed and returns the batch at index together with
// the feed length. Exhaustion (index >= length) is ok=false, not an error.
func (l *Loader) LoadBatch(ctx context.Context, index int) (Batch, bool, int, error) {
	if index < 0 {
		return Batch{}, false, 0, fmt.Errorf("%w: %d", ErrNegativeIndex, index)
	}
	items, err := l.store.Items(ctx)
	if err != nil {
		return Batch{}, false, 0, err
	}
	b, ok := BatchAt(items, index)
	return b, ok, len(items), nil
}
