// Package resolver turns track references into stream metadata and a chosen
// audio rendition.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/discombobulate/discombobulate/internal/bus"
	"github.com/discombobulate/discombobulate/internal/provider"
	"github.com/discombobulate/discombobulate/internal/session"
)

const DefaultTimeout = 20 * time.Second

// ErrSuperseded is returned by ResolveInto when a newer selection was issued
// before this one completed. Nothing was written to the session.
var ErrSuperseded = errors.New("resolver: superseded by a newer request")

// ResolutionError reports a failed stream resolution. It is not retried.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolution is a resolved stream with the automatically chosen rendition.
// Rendition is nil when the stream has no audio.
type Resolution struct {
	Metadata  provider.StreamMetadata
	Rendition *provider.AudioRendition
}

type Options struct {
	Timeout time.Duration
	Policy  RenditionPolicy
	Logger  *slog.Logger
	Bus     *bus.Bus
}

type Resolver struct {
	prov    provider.Provider
	store   *session.Store
	timeout time.Duration
	policy  RenditionPolicy
	logger  *slog.Logger
	bus     *bus.Bus
}

func New(prov provider.Provider, store *session.Store, opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Policy == nil {
		opts.Policy = BestBitrate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		prov:    prov,
		store:   store,
		timeout: opts.Timeout,
		policy:  opts.Policy,
		logger:  opts.Logger,
		bus:     opts.Bus,
	}
}

// Resolve fetches stream metadata for ref and applies the rendition policy.
// It does not touch the session.
func (r *Resolver) Resolve(ctx context.Context, ref provider.TrackRef) (Resolution, error) {
	if err := provider.ValidateURL(ref.URL); err != nil {
		return Resolution{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	meta, err := r.prov.ResolveStream(ctx, ref.URL)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("no response after %s: %w", r.timeout, provider.ErrTimeout)
		}
		r.logger.Warn("stream resolution failed", slog.String("url", ref.URL), slog.Any("err", err))
		return Resolution{}, &ResolutionError{URL: ref.URL, Err: err}
	}
	if meta.SourceURL == "" {
		meta.SourceURL = ref.URL
	}

	res := Resolution{Metadata: meta}
	if best, ok := r.policy(meta.AudioRenditions); ok {
		res.Rendition = &best
	}
	r.logger.Debug("stream resolved",
		slog.String("url", ref.URL),
		slog.Int("audio_renditions", len(meta.AudioRenditions)),
		slog.Duration("took", time.Since(start)))
	return res, nil
}

// ResolveURL resolves a bare url.
func (r *Resolver) ResolveURL(ctx context.Context, url string) (Resolution, error) {
	return r.Resolve(ctx, provider.TrackRef{URL: url})
}

// ResolveInto resolves the ticket's track and writes the outcome to the
// session. The session's loading flag, raised when the ticket was issued, is
// lowered by whichever outcome is written. If a newer ticket exists by the
// time resolution completes, nothing is written and ErrSuperseded is returned.
func (r *Resolver) ResolveInto(ctx context.Context, t session.Ticket) (Resolution, error) {
	res, err := r.Resolve(ctx, t.Ref())
	if err != nil {
		if !r.store.Fail(t, err) {
			return Resolution{}, ErrSuperseded
		}
		if r.bus != nil {
			r.bus.Publish(bus.Event{Kind: bus.Error, Source: "resolve", Err: err})
		}
		return Resolution{}, err
	}
	if res.Rendition == nil {
		err := &ResolutionError{URL: t.Ref().URL, Err: fmt.Errorf("no audio renditions: %w", provider.ErrNotFound)}
		if !r.store.Fail(t, err) {
			return Resolution{}, ErrSuperseded
		}
		if r.bus != nil {
			r.bus.Publish(bus.Event{Kind: bus.Error, Source: "resolve", Err: err})
		}
		return Resolution{}, err
	}
	if !r.store.Commit(t, res.Metadata, res.Rendition) {
		r.logger.Debug("discarding stale resolution", slog.String("url", t.Ref().URL))
		return Resolution{}, ErrSuperseded
	}
	return res, nil
}
