package playback

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/discombobulate/discombobulate/internal/autoplay"
	"github.com/discombobulate/discombobulate/internal/bus"
	"github.com/discombobulate/discombobulate/internal/history"
	"github.com/discombobulate/discombobulate/internal/kv"
	"github.com/discombobulate/discombobulate/internal/player"
	"github.com/discombobulate/discombobulate/internal/provider"
	"github.com/discombobulate/discombobulate/internal/resolver"
	"github.com/discombobulate/discombobulate/internal/session"
	"github.com/discombobulate/discombobulate/internal/transport"
)

// fakeProvider serves canned results. Resolution of a url listed in gates
// blocks until the gate is closed.
type fakeProvider struct {
	mu       sync.Mutex
	search   map[string][]provider.TrackRef
	streams  map[string]provider.StreamMetadata
	related  map[string][]provider.TrackRef
	gates    map[string]chan struct{}
	started  chan string
	queries  []string
	failWith error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		search:  map[string][]provider.TrackRef{},
		streams: map[string]provider.StreamMetadata{},
		related: map[string][]provider.TrackRef{},
		gates:   map[string]chan struct{}{},
		started: make(chan string, 16),
	}
}

func (p *fakeProvider) ID() string   { return "fake" }
func (p *fakeProvider) Name() string { return "Fake" }

func (p *fakeProvider) Search(ctx context.Context, q string) ([]provider.TrackRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, q)
	return p.search[q], nil
}

func (p *fakeProvider) ResolveStream(ctx context.Context, url string) (provider.StreamMetadata, error) {
	p.started <- url
	p.mu.Lock()
	gate := p.gates[url]
	failWith := p.failWith
	meta, ok := p.streams[url]
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return provider.StreamMetadata{}, ctx.Err()
		}
	}
	if failWith != nil {
		return provider.StreamMetadata{}, failWith
	}
	if !ok {
		return provider.StreamMetadata{}, provider.ErrNotFound
	}
	return meta, nil
}

func (p *fakeProvider) RelatedTracks(ctx context.Context, url string) ([]provider.TrackRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.related[url], nil
}

type fakeEngine struct {
	mu     sync.Mutex
	state  player.State
	loads  []player.Item
	queue  []player.Item
	seeks  []float64
	events chan player.Event
}

func (e *fakeEngine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = nil
	e.state = player.StateIdle
	return nil
}

func (e *fakeEngine) Add(item player.Item) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, item)
	return nil
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) > 0 {
		e.loads = append(e.loads, e.queue[0])
		e.queue = e.queue[1:]
	}
	e.state = player.StatePlaying
	return nil
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = player.StatePaused
	return nil
}

func (e *fakeEngine) SeekTo(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeks = append(e.seeks, seconds)
	return nil
}

func (e *fakeEngine) State() (player.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

func (e *fakeEngine) Progress() (player.Progress, error) { return player.Progress{}, nil }
func (e *fakeEngine) Events() <-chan player.Event        { return e.events }

func (e *fakeEngine) loaded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.loads))
	for i, it := range e.loads {
		out[i] = it.URL
	}
	return out
}

type harness struct {
	svc    *Service
	prov   *fakeProvider
	engine *fakeEngine
	store  *session.Store
	bus    *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := kv.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b := bus.New(nil)
	t.Cleanup(b.Close)
	prov := newFakeProvider()
	engine := &fakeEngine{events: make(chan player.Event, 8)}
	store := session.New(b)
	bridge := transport.New(engine, store, b, transport.Options{ProgressInterval: time.Hour})
	related := autoplay.NewRelated(prov, b, autoplay.RelatedOptions{})

	svc := New(Deps{
		Provider: prov,
		Store:    store,
		Bus:      b,
		History:  history.New(db, history.Options{}),
		Resolver: resolver.New(prov, store, resolver.Options{Timeout: 5 * time.Second, Bus: b}),
		Bridge:   bridge,
		Related:  related,
		Autoplay: autoplay.New(related, store, bridge, autoplay.Options{}),
	}, Options{SearchSuffix: DefaultSearchSuffix, Autoplay: true})
	return &harness{svc: svc, prov: prov, engine: engine, store: store, bus: b}
}

func stream(url string, bitrates ...int) provider.StreamMetadata {
	m := provider.StreamMetadata{SourceURL: url, Title: "Title " + url, UploaderName: "Uploader"}
	for _, br := range bitrates {
		m.AudioRenditions = append(m.AudioRenditions, provider.AudioRendition{
			URL:            fmt.Sprintf("%s/audio/%d", url, br),
			AverageBitrate: br,
			Format:         "m4a",
		})
	}
	return m
}

func TestSearchThenSelect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.search["lofi music"] = []provider.TrackRef{{URL: "v1", Title: "Lofi Beats"}}
	h.prov.streams["v1"] = stream("v1", 64000, 128000)

	results, err := h.svc.Search(ctx, "  lofi ")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if err := h.svc.SelectTrack(ctx, results[0]); err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}

	snap := h.svc.Session()
	if snap.Rendition == nil || snap.Rendition.AverageBitrate != 128000 {
		t.Errorf("expected 128000 rendition, got %+v", snap.Rendition)
	}
	if snap.IsLoadingStream || snap.CurrentTrackURL != "v1" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	hist := h.svc.History(ctx)
	if len(hist) != 1 || hist[0].URL != "v1" {
		t.Errorf("expected history [v1], got %+v", hist)
	}
	if got := h.engine.loaded(); len(got) != 1 || got[0] != "v1/audio/128000" {
		t.Errorf("unexpected engine loads %v", got)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Search(context.Background(), "   "); !errors.Is(err, provider.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(h.prov.queries) != 0 {
		t.Error("provider queried for empty input")
	}
}

func TestSelectTrackRejectsEmptyURL(t *testing.T) {
	h := newHarness(t)
	err := h.svc.SelectTrack(context.Background(), provider.TrackRef{Title: "no url"})
	if !errors.Is(err, provider.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if snap := h.svc.Session(); snap.IsLoadingStream || snap.CurrentTrackURL != "" {
		t.Errorf("state touched by invalid selection: %+v", snap)
	}
}

func TestLastRequestWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.streams["A"] = stream("A", 96000)
	h.prov.streams["B"] = stream("B", 160000)
	gate := make(chan struct{})
	h.prov.gates["A"] = gate

	errA := make(chan error, 1)
	go func() { errA <- h.svc.SelectTrack(ctx, provider.TrackRef{URL: "A"}) }()
	if got := <-h.prov.started; got != "A" {
		t.Fatalf("expected A to start first, got %s", got)
	}

	if err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: "B"}); err != nil {
		t.Fatalf("SelectTrack(B): %v", err)
	}
	close(gate)
	if err := <-errA; !errors.Is(err, resolver.ErrSuperseded) {
		t.Fatalf("expected A to be superseded, got %v", err)
	}

	snap := h.svc.Session()
	if snap.CurrentTrackURL != "B" || snap.Metadata == nil || snap.Metadata.SourceURL != "B" {
		t.Errorf("expected B to win, got %+v", snap)
	}
	if snap.IsLoadingStream {
		t.Error("loading flag stuck")
	}
	if got := h.engine.loaded(); len(got) != 1 || got[0] != "B/audio/160000" {
		t.Errorf("unexpected engine loads %v", got)
	}
	hist := h.svc.History(ctx)
	if len(hist) != 2 || hist[0].URL != "B" {
		t.Errorf("expected history [B A], got %+v", hist)
	}
}

func TestSelectFailureKeepsPreviousTrack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.streams["v1"] = stream("v1", 128000)
	if err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: "v1", Title: "One"}); err != nil {
		t.Fatal(err)
	}
	<-h.prov.started

	err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: "broken"})
	var rerr *resolver.ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	snap := h.svc.Session()
	if snap.CurrentTrackURL != "v1" || snap.Metadata.SourceURL != "v1" || snap.LastError == "" {
		t.Errorf("unexpected snapshot after failure: %+v", snap)
	}
	if hist := h.svc.History(ctx); len(hist) != 2 || hist[0].URL != "broken" {
		t.Errorf("failed selection should still be recorded: %+v", hist)
	}
}

func TestSelectRenditionReloads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.streams["v1"] = stream("v1", 64000, 128000)
	if err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: "v1"}); err != nil {
		t.Fatal(err)
	}
	low := h.svc.Session().Metadata.AudioRenditions[0]
	if err := h.svc.SelectRendition(ctx, low); err != nil {
		t.Fatalf("SelectRendition: %v", err)
	}
	if got := h.engine.loaded(); len(got) != 2 || got[1] != "v1/audio/64000" {
		t.Errorf("unexpected engine loads %v", got)
	}
	if snap := h.svc.Session(); !snap.RenditionOverridden {
		t.Error("override flag not set")
	}
	if err := h.svc.SelectRendition(ctx, provider.AudioRendition{URL: "foreign"}); !errors.Is(err, provider.ErrInvalidInput) {
		t.Errorf("expected foreign rendition to be rejected, got %v", err)
	}
}

func TestPlayNextWithoutRelatedStops(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.streams["v1"] = stream("v1", 128000)
	if err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: "v1"}); err != nil {
		t.Fatal(err)
	}
	h.store.SetPlaybackState(player.StatePlaying)
	if err := h.svc.PlayNext(ctx); err != nil {
		t.Fatalf("PlayNext: %v", err)
	}
	if st := h.svc.Session().PlaybackState; st != player.StateIdle {
		t.Errorf("expected Idle, got %s", st)
	}
}

func TestPlayNextAndPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.streams["v1"] = stream("v1", 128000)
	h.prov.streams["v2"] = stream("v2", 128000)
	h.prov.related["v1"] = []provider.TrackRef{{URL: "v1"}, {URL: "v2", Title: "Two"}}

	if err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: "v1"}); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.PlayNext(ctx); err != nil {
		t.Fatalf("PlayNext: %v", err)
	}
	if got := h.svc.Session().CurrentTrackURL; got != "v2" {
		t.Fatalf("expected v2 after next, got %s", got)
	}
	if err := h.svc.PlayPrevious(ctx); err != nil {
		t.Fatalf("PlayPrevious: %v", err)
	}
	if got := h.svc.Session().CurrentTrackURL; got != "v1" {
		t.Errorf("expected v1 after previous, got %s", got)
	}
	if err := h.svc.PlayPrevious(ctx); err != nil {
		t.Fatalf("PlayPrevious at start: %v", err)
	}
	if len(h.engine.seeks) != 1 || h.engine.seeks[0] != 0 {
		t.Errorf("expected restart seek, got %v", h.engine.seeks)
	}
}

func TestFailedPreviousKeepsTrail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, u := range []string{"v1", "v2", "v3"} {
		h.prov.streams[u] = stream(u, 128000)
		if err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: u}); err != nil {
			t.Fatal(err)
		}
	}

	delete(h.prov.streams, "v2")
	if err := h.svc.PlayPrevious(ctx); err == nil {
		t.Fatal("expected previous to fail while v2 is unavailable")
	}
	if got := h.svc.Session().CurrentTrackURL; got != "v3" {
		t.Fatalf("expected v3 restored, got %s", got)
	}

	h.prov.streams["v2"] = stream("v2", 128000)
	if err := h.svc.PlayPrevious(ctx); err != nil {
		t.Fatalf("PlayPrevious: %v", err)
	}
	if got := h.svc.Session().CurrentTrackURL; got != "v2" {
		t.Fatalf("expected v2 after retry, got %s", got)
	}
	if err := h.svc.PlayPrevious(ctx); err != nil {
		t.Fatalf("PlayPrevious: %v", err)
	}
	if got := h.svc.Session().CurrentTrackURL; got != "v1" {
		t.Errorf("expected v1, got %s", got)
	}
}

func TestInspectURLLeavesSessionAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.streams["v1"] = stream("v1", 128000)
	h.prov.streams["v9"] = stream("v9", 48000, 160000)
	if err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: "v1"}); err != nil {
		t.Fatal(err)
	}
	<-h.prov.started

	if _, err := h.svc.InspectURL(ctx, "  "); !errors.Is(err, provider.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	select {
	case url := <-h.prov.started:
		t.Fatalf("blank url reached the provider: %q", url)
	default:
	}

	res, err := h.svc.InspectURL(ctx, " v9 ")
	if err != nil {
		t.Fatalf("InspectURL: %v", err)
	}
	if res.Metadata.SourceURL != "v9" || res.Rendition == nil || res.Rendition.AverageBitrate != 160000 {
		t.Errorf("unexpected resolution %+v", res)
	}
	snap := h.svc.Session()
	if snap.CurrentTrackURL != "v1" || snap.Metadata.SourceURL != "v1" || snap.IsLoadingStream {
		t.Errorf("session changed by inspection: %+v", snap)
	}
	if got := h.engine.loaded(); len(got) != 1 {
		t.Errorf("engine loaded by inspection: %v", got)
	}
	if hist := h.svc.History(ctx); len(hist) != 1 {
		t.Errorf("inspection recorded in history: %+v", hist)
	}
}

func TestRelatedExcludesCurrentTrack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if got := h.svc.Related(); got != nil {
		t.Fatalf("expected nothing without a track, got %v", got)
	}
	h.prov.streams["v1"] = stream("v1", 128000)
	h.prov.related["v1"] = []provider.TrackRef{{URL: "v1"}, {URL: "v2", Title: "Two"}, {URL: "v3", Title: "Three"}}
	if err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: "v1"}); err != nil {
		t.Fatal(err)
	}
	h.svc.d.Related.Refresh(ctx, "v1")
	if _, err := h.svc.d.Related.Wait(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	got := h.svc.Related()
	if len(got) != 2 || got[0].URL != "v2" || got[1].URL != "v3" {
		t.Errorf("unexpected up next %+v", got)
	}
}

func TestTogglePlaybackReloadsAfterStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.prov.streams["v1"] = stream("v1", 128000)
	if err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: "v1"}); err != nil {
		t.Fatal(err)
	}
	h.store.SetPlaybackState(player.StatePlaying)
	if err := h.svc.TogglePlayback(ctx); err != nil {
		t.Fatal(err)
	}
	if st, _ := h.engine.State(); st != player.StatePaused {
		t.Errorf("expected paused engine, got %s", st)
	}

	if err := h.svc.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.TogglePlayback(ctx); err != nil {
		t.Fatal(err)
	}
	if got := h.engine.loaded(); len(got) != 2 {
		t.Errorf("expected reload after stop, got %v", got)
	}
}

func TestDispatcherExecutesActions(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.prov.streams["v1"] = stream("v1", 128000)
	if err := h.svc.SelectTrack(ctx, provider.TrackRef{URL: "v1"}); err != nil {
		t.Fatal(err)
	}
	h.svc.SetAutoplay(false)

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	// The queue ending with autoplay off stops playback.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.store.SetPlaybackState(player.StatePlaying)
		h.engine.events <- player.Event{Kind: player.EventQueueEnded}
		time.Sleep(20 * time.Millisecond)
		if h.svc.Session().PlaybackState == player.StateIdle {
			break
		}
	}
	if st := h.svc.Session().PlaybackState; st != player.StateIdle {
		t.Fatalf("expected Idle after queue end, got %s", st)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
