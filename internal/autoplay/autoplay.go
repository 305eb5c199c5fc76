package autoplay

import (
	"context"
	"log/slog"

	"github.com/discombobulate/discombobulate/internal/provider"
	"github.com/discombobulate/discombobulate/internal/session"
)

// NextPolicy chooses the next track from the related set of current. It
// returns false when nothing should play.
type NextPolicy func(current string, related []provider.TrackRef, played func(url string) bool) (provider.TrackRef, bool)

// FirstRelated picks the head of the related list.
func FirstRelated(current string, related []provider.TrackRef, played func(string) bool) (provider.TrackRef, bool) {
	for _, r := range related {
		if r.URL != "" {
			return r, true
		}
	}
	return provider.TrackRef{}, false
}

// FirstUnplayed picks the first related track that is neither the current
// track nor one already selected this session.
func FirstUnplayed(current string, related []provider.TrackRef, played func(string) bool) (provider.TrackRef, bool) {
	for _, r := range related {
		if r.URL == "" || r.URL == current {
			continue
		}
		if played != nil && played(r.URL) {
			continue
		}
		return r, true
	}
	return provider.TrackRef{}, false
}

// Selector feeds a track through the selection pipeline.
type Selector interface {
	SelectTrack(ctx context.Context, ref provider.TrackRef) error
}

// Stopper halts playback.
type Stopper interface {
	Stop() error
}

type Options struct {
	Policy NextPolicy
	Logger *slog.Logger
}

// Controller advances playback to a related track.
type Controller struct {
	related *Related
	store   *session.Store
	stopper Stopper
	policy  NextPolicy
	logger  *slog.Logger
}

func New(related *Related, store *session.Store, stopper Stopper, opts Options) *Controller {
	if opts.Policy == nil {
		opts.Policy = FirstUnplayed
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		related: related,
		store:   store,
		stopper: stopper,
		policy:  opts.Policy,
		logger:  opts.Logger,
	}
}

// PlayNext selects the next related track through sel. When there is none
// playback stops and the session goes Idle; that is not an error.
func (c *Controller) PlayNext(ctx context.Context, sel Selector) error {
	current := c.store.Snapshot().CurrentTrackURL
	// The bus may not have delivered the latest TrackChanged yet.
	c.related.Refresh(context.WithoutCancel(ctx), current)
	related, err := c.related.Wait(ctx, current)
	if err != nil {
		return err
	}
	next, ok := c.policy(current, related, c.store.Played)
	if !ok {
		c.logger.Info("no related track to play next", slog.String("url", current))
		return c.stopper.Stop()
	}
	c.logger.Info("autoplay next", slog.String("url", next.URL), slog.String("title", next.Title))
	return sel.SelectTrack(ctx, next)
}
