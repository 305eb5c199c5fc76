// Package history keeps the bounded list of recently played tracks.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/discombobulate/discombobulate/internal/kv"
	"github.com/discombobulate/discombobulate/internal/provider"
)

const (
	DefaultKey        = "@discombobulate:recent_videos"
	DefaultMaxEntries = 20
)

// PersistenceError wraps a failed history read or write. It is logged and
// never returned to callers.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "history " + e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

type Options struct {
	Key        string
	MaxEntries int
	Logger     *slog.Logger
}

// Cache is a most-recent-first list of TrackRefs with unique URLs, persisted
// as a JSON array under a single key.
type Cache struct {
	store  kv.Store
	key    string
	max    int
	logger *slog.Logger

	// mu guards the read-modify-write in Record and Clear.
	mu sync.Mutex
}

func New(store kv.Store, opts Options) *Cache {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{store: store, key: opts.Key, max: opts.MaxEntries, logger: opts.Logger}
}

// Record moves ref to the front of the history, dropping any earlier entry
// with the same URL and anything beyond the size bound. Failures are logged.
func (c *Cache) Record(ctx context.Context, ref provider.TrackRef) {
	if strings.TrimSpace(ref.URL) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.load(ctx)
	if err != nil {
		// A corrupt entry is replaced rather than blocking new history.
		c.logger.Warn("history unreadable, starting fresh", slog.Any("err", err))
		current = nil
	}
	next := Prepend(current, ref, c.max)

	b, err := json.Marshal(next)
	if err != nil {
		c.report(&PersistenceError{Op: "encode", Err: err})
		return
	}
	if err := c.store.Set(ctx, c.key, string(b)); err != nil {
		c.report(&PersistenceError{Op: "write", Err: err})
		return
	}
	c.logger.Debug("history recorded", slog.String("url", ref.URL), slog.Int("entries", len(next)))
}

// List returns the stored history, or an empty slice if nothing is stored or
// the stored value cannot be read.
func (c *Cache) List(ctx context.Context) []provider.TrackRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	refs, err := c.load(ctx)
	if err != nil {
		c.report(err)
		return []provider.TrackRef{}
	}
	return refs
}

// Clear removes the persisted history.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Remove(ctx, c.key); err != nil {
		c.report(&PersistenceError{Op: "clear", Err: err})
	}
}

func (c *Cache) load(ctx context.Context) ([]provider.TrackRef, error) {
	raw, ok, err := c.store.Get(ctx, c.key)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Err: err}
	}
	if !ok || raw == "" {
		return []provider.TrackRef{}, nil
	}
	var refs []provider.TrackRef
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, &PersistenceError{Op: "decode", Err: fmt.Errorf("%s: %w", c.key, err)}
	}
	if refs == nil {
		refs = []provider.TrackRef{}
	}
	return refs, nil
}

func (c *Cache) report(err error) {
	c.logger.Error("history persistence failed", slog.Any("err", err))
}

// Prepend returns a new list with ref at the front, without any other entry
// sharing a URL, truncated to max entries.
func Prepend(list []provider.TrackRef, ref provider.TrackRef, max int) []provider.TrackRef {
	out := make([]provider.TrackRef, 0, len(list)+1)
	out = append(out, ref)
	seen := map[string]bool{ref.URL: true}
	for _, r := range list {
		if len(out) >= max {
			break
		}
		if seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
	}
	return out
}
