// Package autoplay keeps the related-track set for the active track and
// chooses what plays when the current track ends.
package autoplay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/discombobulate/discombobulate/internal/bus"
	"github.com/discombobulate/discombobulate/internal/provider"
)

const DefaultFetchTimeout = 30 * time.Second

type RelatedOptions struct {
	Logger       *slog.Logger
	FetchTimeout time.Duration
}

// Related tracks the related-track set of the active track. A track change
// cancels the fetch for the previous track; results replace the previous set.
type Related struct {
	prov    provider.Provider
	bus     *bus.Bus
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	key    string
	tracks []provider.TrackRef
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelated(prov provider.Provider, b *bus.Bus, opts RelatedOptions) *Related {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	done := make(chan struct{})
	close(done)
	return &Related{
		prov:    prov,
		bus:     b,
		logger:  opts.Logger,
		timeout: opts.FetchTimeout,
		done:    done,
	}
}

// Run follows TrackChanged events until ctx is done.
func (r *Related) Run(ctx context.Context) {
	events, unsubscribe := r.bus.Subscribe(bus.TrackChanged)
	defer unsubscribe()
	defer r.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			r.Refresh(ctx, evt.URL)
		}
	}
}

// Refresh makes url the active key and starts fetching its related tracks.
// A refresh for the key already active is ignored.
func (r *Related) Refresh(ctx context.Context, url string) {
	r.mu.Lock()
	if url == r.key {
		r.mu.Unlock()
		return
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.key = url
	r.tracks = nil
	if url == "" {
		done := make(chan struct{})
		close(done)
		r.done = done
		r.mu.Unlock()
		return
	}
	fctx, cancel := context.WithTimeout(ctx, r.timeout)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.fetch(fctx, cancel, url, done)
}

func (r *Related) fetch(ctx context.Context, cancel context.CancelFunc, url string, done chan struct{}) {
	defer close(done)
	defer cancel()

	tracks, err := r.prov.RelatedTracks(ctx, url)
	if errors.Is(ctx.Err(), context.Canceled) {
		r.logger.Debug("related fetch cancelled", slog.String("url", url))
		return
	}

	r.mu.Lock()
	if r.key != url {
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.tracks = nil
	} else {
		r.tracks = tracks
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("related tracks lookup failed", slog.String("url", url), slog.Any("err", err))
		if r.bus != nil {
			r.bus.Publish(bus.Event{Kind: bus.Error, Source: "related", URL: url, Err: err})
		}
		return
	}
	r.logger.Debug("related tracks loaded", slog.String("url", url), slog.Int("count", len(tracks)))
}

// Tracks returns the related set for url, or nil when url is not the
// active key or its fetch has not completed.
func (r *Related) Tracks(url string) []provider.TrackRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if url != r.key {
		return nil
	}
	return append([]provider.TrackRef(nil), r.tracks...)
}

// Wait blocks until the fetch for url settles and returns its result. If url
// is not the active key it returns nil immediately.
func (r *Related) Wait(ctx context.Context, url string) ([]provider.TrackRef, error) {
	r.mu.Lock()
	if url != r.key {
		r.mu.Unlock()
		return nil, nil
	}
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		return r.Tracks(url), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Related) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}
