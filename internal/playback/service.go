// Package playback composes the session components into the operations the
// UI and the CLI drive: search, track selection, transport and history.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/discombobulate/discombobulate/internal/autoplay"
	"github.com/discombobulate/discombobulate/internal/bus"
	"github.com/discombobulate/discombobulate/internal/history"
	"github.com/discombobulate/discombobulate/internal/player"
	"github.com/discombobulate/discombobulate/internal/provider"
	"github.com/discombobulate/discombobulate/internal/resolver"
	"github.com/discombobulate/discombobulate/internal/session"
	"github.com/discombobulate/discombobulate/internal/transport"
)

const (
	DefaultSearchSuffix = " music"
	DefaultSearchLimit  = 20
)

// Deps are the components a Service drives. All are required.
type Deps struct {
	Provider provider.Provider
	Store    *session.Store
	Bus      *bus.Bus
	History  *history.Cache
	Resolver *resolver.Resolver
	Bridge   *transport.Bridge
	Related  *autoplay.Related
	Autoplay *autoplay.Controller
}

type Options struct {
	Logger *slog.Logger
	// SearchSuffix is appended to every non-empty query.
	SearchSuffix string
	SearchLimit  int
	// Autoplay picks a related track when the current one ends.
	Autoplay bool
}

type Service struct {
	d           Deps
	logger      *slog.Logger
	suffix      string
	searchLimit int
	autoplay    atomic.Bool

	// loadMu serializes engine loads. Holders re-check the ticket.
	loadMu sync.Mutex
}

func New(deps Deps, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = DefaultSearchLimit
	}
	s := &Service{
		d:           deps,
		logger:      opts.Logger,
		suffix:      opts.SearchSuffix,
		searchLimit: opts.SearchLimit,
	}
	s.autoplay.Store(opts.Autoplay)
	return s
}

// Run drives the transport bridge, the related-track lookups and the action
// dispatcher until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.d.Bridge.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.d.Related.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.dispatch(ctx)
		return nil
	})
	return g.Wait()
}

func (s *Service) dispatch(ctx context.Context) {
	actions, unsubscribe := s.d.Bus.Subscribe(bus.Action)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-actions:
			if !ok {
				return
			}
			s.handleAction(ctx, evt)
		}
	}
}

func (s *Service) handleAction(ctx context.Context, evt bus.Event) {
	s.logger.Debug("action", slog.String("act", evt.Act.String()), slog.String("source", evt.Source))
	var err error
	switch evt.Act {
	case bus.ActPlay:
		err = s.d.Bridge.Play()
	case bus.ActPause:
		err = s.d.Bridge.Pause()
	case bus.ActSeek:
		err = s.d.Bridge.SeekTo(evt.Position.Seconds())
	case bus.ActStop:
		err = s.Stop()
	case bus.ActNext:
		// Selection resolves over the network; keep the dispatcher free for
		// pause and seek in the meantime.
		queueEnded := evt.Source == transport.SourceQueue
		go func() { s.logResult("next", s.advance(ctx, queueEnded)) }()
		return
	case bus.ActPrevious:
		go func() { s.logResult("previous", s.PlayPrevious(ctx)) }()
		return
	}
	s.logResult(evt.Act.String(), err)
}

// advance handles ActNext. The end of a track only continues into a related
// one while autoplay is enabled.
func (s *Service) advance(ctx context.Context, queueEnded bool) error {
	if queueEnded && !s.AutoplayEnabled() {
		return s.Stop()
	}
	return s.PlayNext(ctx)
}

func (s *Service) logResult(op string, err error) {
	if err == nil || errors.Is(err, resolver.ErrSuperseded) || errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("action failed", slog.String("action", op), slog.Any("err", err))
}

// Session returns a snapshot of the session state.
func (s *Service) Session() session.Snapshot { return s.d.Store.Snapshot() }

// Search queries the provider. The configured suffix is appended to the
// trimmed query; an empty query is rejected before any I/O.
func (s *Service) Search(ctx context.Context, query string) ([]provider.TrackRef, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("empty search query: %w", provider.ErrInvalidInput)
	}
	results, err := s.d.Provider.Search(ctx, q+s.suffix)
	if err != nil {
		s.logger.Warn("search failed", slog.String("query", q), slog.Any("err", err))
		return nil, err
	}
	if len(results) > s.searchLimit {
		results = results[:s.searchLimit]
	}
	s.logger.Info("search complete", slog.String("query", q), slog.Int("results", len(results)))
	return results, nil
}

// SelectTrack makes ref the current track: it records it in history,
// resolves its stream and loads the best audio rendition. When a newer
// selection is issued before this one finishes, this one is discarded and
// resolver.ErrSuperseded is returned.
func (s *Service) SelectTrack(ctx context.Context, ref provider.TrackRef) error {
	return s.selectTrack(ctx, ref, s.d.Store.Begin)
}

func (s *Service) selectTrack(ctx context.Context, ref provider.TrackRef, begin func(provider.TrackRef) session.Ticket) error {
	if err := provider.ValidateURL(ref.URL); err != nil {
		return err
	}
	s.logger.Info("select track", slog.String("url", ref.URL), slog.String("title", ref.Title))
	ticket := begin(ref)
	s.d.History.Record(ctx, ref)

	res, err := s.d.Resolver.ResolveInto(ctx, ticket)
	if err != nil {
		return err
	}
	return s.load(ctx, ticket, res.Metadata, *res.Rendition)
}

func (s *Service) load(ctx context.Context, ticket session.Ticket, meta provider.StreamMetadata, r provider.AudioRendition) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if !s.d.Store.IsCurrent(ticket) {
		return resolver.ErrSuperseded
	}
	return s.d.Bridge.Load(ctx, item(ticket.Ref(), meta, r))
}

func item(ref provider.TrackRef, meta provider.StreamMetadata, r provider.AudioRendition) player.Item {
	it := player.Item{URL: r.URL, Title: meta.Title, Artist: meta.UploaderName}
	if it.Title == "" {
		it.Title = ref.Title
	}
	if it.Artist == "" {
		it.Artist = ref.Uploader
	}
	return it
}

// SelectRendition overrides the automatic rendition choice for the current
// stream and reloads the engine with it.
func (s *Service) SelectRendition(ctx context.Context, r provider.AudioRendition) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if err := s.d.Store.SelectRendition(r); err != nil {
		return err
	}
	snap := s.d.Store.Snapshot()
	if snap.IsLoadingStream {
		// A newer selection is resolving and will replace the engine queue.
		return nil
	}
	s.logger.Info("rendition override", slog.String("rendition", r.String()))
	return s.d.Bridge.Load(ctx, item(snap.CurrentTrack, *snap.Metadata, r))
}

// Inspect shows or hides the stream-info view.
func (s *Service) Inspect(show bool) { s.d.Store.SetShowStreamInfo(show) }

// InspectURL resolves any url for the stream-info view. The session and the
// engine are left alone.
func (s *Service) InspectURL(ctx context.Context, url string) (resolver.Resolution, error) {
	url = strings.TrimSpace(url)
	s.logger.Info("inspect url", slog.String("url", url))
	return s.d.Resolver.ResolveURL(ctx, url)
}

// Related returns the tracks related to the current one, without the
// current track itself. It is empty until the lookup completes.
func (s *Service) Related() []provider.TrackRef {
	current := s.d.Store.Snapshot().CurrentTrackURL
	if current == "" {
		return nil
	}
	var out []provider.TrackRef
	for _, ref := range s.d.Related.Tracks(current) {
		if ref.URL != current {
			out = append(out, ref)
		}
	}
	return out
}

// TogglePlayback pauses or resumes. A stopped or finished track is loaded
// again from the start.
func (s *Service) TogglePlayback(ctx context.Context) error {
	snap := s.d.Store.Snapshot()
	switch snap.PlaybackState {
	case player.StateIdle, player.StateEnded:
		if snap.Rendition == nil || snap.Metadata == nil || snap.IsLoadingStream {
			return nil
		}
		s.loadMu.Lock()
		defer s.loadMu.Unlock()
		return s.d.Bridge.Load(ctx, item(snap.CurrentTrack, *snap.Metadata, *snap.Rendition))
	}
	return s.d.Bridge.TogglePlayback()
}

// Seek moves to fraction of the current track.
func (s *Service) Seek(fraction float64) error { return s.d.Bridge.Seek(fraction) }

// PlayNext plays a related track, or stops when there is none.
func (s *Service) PlayNext(ctx context.Context) error {
	return s.d.Autoplay.PlayNext(ctx, s)
}

// PlayPrevious selects the track played before the current one. Without
// one, the current track restarts.
func (s *Service) PlayPrevious(ctx context.Context) error {
	prev, ok := s.d.Store.Previous()
	if !ok {
		return s.d.Bridge.SeekTo(0)
	}
	return s.selectTrack(ctx, prev, s.d.Store.BeginPrevious)
}

func (s *Service) Stop() error { return s.d.Bridge.Stop() }

func (s *Service) History(ctx context.Context) []provider.TrackRef { return s.d.History.List(ctx) }

func (s *Service) ClearHistory(ctx context.Context) { s.d.History.Clear(ctx) }

func (s *Service) AutoplayEnabled() bool { return s.autoplay.Load() }

func (s *Service) SetAutoplay(enabled bool) {
	s.autoplay.Store(enabled)
	s.logger.Info("autoplay", slog.Bool("enabled", enabled))
}
