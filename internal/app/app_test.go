package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/discombobulate/discombobulate/internal/bus"
	"github.com/discombobulate/discombobulate/internal/player"
	"github.com/discombobulate/discombobulate/internal/provider"
	"github.com/discombobulate/discombobulate/internal/resolver"
	"github.com/discombobulate/discombobulate/internal/session"
	"github.com/discombobulate/discombobulate/internal/ui"
)

type fakeController struct {
	snap      session.Snapshot
	results   []provider.TrackRef
	searchErr error
	selectErr error
	history   []provider.TrackRef
	autoplay  bool
	related   []provider.TrackRef
	inspect   map[string]provider.StreamMetadata

	queries    []string
	selected   []provider.TrackRef
	renditions []provider.AudioRendition
	seeks      []float64
	calls      []string
	inspected  []string
}

func (f *fakeController) Session() session.Snapshot { return f.snap }

func (f *fakeController) Search(ctx context.Context, q string) ([]provider.TrackRef, error) {
	f.queries = append(f.queries, q)
	return f.results, f.searchErr
}

func (f *fakeController) SelectTrack(ctx context.Context, ref provider.TrackRef) error {
	f.selected = append(f.selected, ref)
	return f.selectErr
}

func (f *fakeController) SelectRendition(ctx context.Context, r provider.AudioRendition) error {
	f.renditions = append(f.renditions, r)
	return nil
}

func (f *fakeController) Inspect(show bool) { f.snap.ShowStreamInfo = show }

func (f *fakeController) InspectURL(ctx context.Context, url string) (resolver.Resolution, error) {
	f.inspected = append(f.inspected, url)
	meta, ok := f.inspect[url]
	if !ok {
		return resolver.Resolution{}, &resolver.ResolutionError{URL: url, Err: provider.ErrNotFound}
	}
	res := resolver.Resolution{Metadata: meta}
	if len(meta.AudioRenditions) > 0 {
		res.Rendition = &meta.AudioRenditions[0]
	}
	return res, nil
}

func (f *fakeController) Related() []provider.TrackRef { return f.related }

func (f *fakeController) TogglePlayback(ctx context.Context) error {
	f.calls = append(f.calls, "toggle")
	return nil
}

func (f *fakeController) Seek(fraction float64) error {
	f.seeks = append(f.seeks, fraction)
	return nil
}

func (f *fakeController) PlayNext(ctx context.Context) error {
	f.calls = append(f.calls, "next")
	return nil
}

func (f *fakeController) PlayPrevious(ctx context.Context) error {
	f.calls = append(f.calls, "previous")
	return nil
}

func (f *fakeController) Stop() error {
	f.calls = append(f.calls, "stop")
	return nil
}

func (f *fakeController) History(ctx context.Context) []provider.TrackRef { return f.history }

func (f *fakeController) ClearHistory(ctx context.Context) { f.history = nil }

func (f *fakeController) AutoplayEnabled() bool { return f.autoplay }

func (f *fakeController) SetAutoplay(enabled bool) { f.autoplay = enabled }

func newModel(ctrl *fakeController) Model {
	return New(context.Background(), ctrl, Options{Theme: ui.NoColor(), NoEmoji: true})
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

var (
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	esc   = tea.KeyMsg{Type: tea.KeyEsc}
)

// send feeds msg to the model and then runs any resulting command
// synchronously, feeding its message back in once.
func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	switch out := cmd().(type) {
	case nil:
	case tea.BatchMsg, tea.QuitMsg:
	case clearErrorMsg:
	default:
		next, _ = m.Update(out)
		m = next.(Model)
	}
	return m
}

func lofiRefs() []provider.TrackRef {
	return []provider.TrackRef{
		{Title: "Lofi Beats", URL: "https://www.youtube.com/watch?v=v1", Uploader: "Chill", Duration: 3 * time.Minute},
		{Title: "Lofi Rain", URL: "https://www.youtube.com/watch?v=v2"},
	}
}

func TestSearchThenSelect(t *testing.T) {
	ctrl := &fakeController{results: lofiRefs()}
	m := newModel(ctrl)
	if !m.typing {
		t.Fatal("expected the search input to be focused at start")
	}

	for _, r := range "lofi" {
		m = send(t, m, runes(string(r)))
	}
	m = send(t, m, enter)
	if len(ctrl.queries) != 1 || ctrl.queries[0] != "lofi" {
		t.Fatalf("unexpected queries %v", ctrl.queries)
	}
	if len(m.results) != 2 || m.typing {
		t.Fatalf("expected results and unfocused input, got %d results typing=%v", len(m.results), m.typing)
	}

	m = send(t, m, runes("j"))
	m = send(t, m, enter)
	if len(ctrl.selected) != 1 || ctrl.selected[0].URL != "https://www.youtube.com/watch?v=v2" {
		t.Fatalf("unexpected selection %v", ctrl.selected)
	}
	if m.screen != screenNowPlaying {
		t.Errorf("expected now playing screen, got %s", m.screen)
	}
}

func TestEmptySearchIsNotSent(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(ctrl)
	m = send(t, m, runes(" "))
	m = send(t, m, enter)
	if len(ctrl.queries) != 0 {
		t.Fatalf("expected no search, got %v", ctrl.queries)
	}
	if !strings.Contains(m.status, "Type something") {
		t.Errorf("unexpected status %q", m.status)
	}
}

func TestSearchErrorIsShown(t *testing.T) {
	ctrl := &fakeController{searchErr: fmt.Errorf("yt-dlp: %w", provider.ErrRateLimited)}
	m := newModel(ctrl)
	m = send(t, m, runes("x"))
	m = send(t, m, enter)
	if !strings.Contains(m.errorMsg, "rate limited") {
		t.Errorf("expected rate limit error, got %q", m.errorMsg)
	}
	if m.diag.SearchCount != 1 {
		t.Errorf("expected search to be recorded, got %d", m.diag.SearchCount)
	}
}

func TestInitialQuerySearchesImmediately(t *testing.T) {
	ctrl := &fakeController{results: lofiRefs()}
	m := New(context.Background(), ctrl, Options{Theme: ui.NoColor(), Query: " lofi "})
	if m.typing || m.query != "lofi" {
		t.Fatalf("unexpected initial input state typing=%v query=%q", m.typing, m.query)
	}
	msg := m.searchCmd(m.initialQuery)()
	next, _ := m.Update(msg)
	if got := next.(Model).results; len(got) != 2 {
		t.Fatalf("expected results, got %v", got)
	}
}

func TestSupersededSelectionIsSilent(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(ctrl)
	next, _ := m.Update(actionMsg{op: "select", err: resolver.ErrSuperseded})
	if got := next.(Model).errorMsg; got != "" {
		t.Errorf("expected no error, got %q", got)
	}
	next, _ = m.Update(actionMsg{op: "select", err: errors.New("boom")})
	if got := next.(Model).errorMsg; got != "boom" {
		t.Errorf("expected error to be shown, got %q", got)
	}
}

func TestBusErrorIsShown(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(ctrl)
	next, _ := m.Update(busMsg{Kind: bus.Error, Source: "playback", Err: errors.New("mpv died")})
	if got := next.(Model).errorMsg; got != "playback: mpv died" {
		t.Errorf("unexpected error message %q", got)
	}
}

func TestBusEventRefreshesSnapshot(t *testing.T) {
	events := make(chan bus.Event, 1)
	ctrl := &fakeController{}
	m := New(context.Background(), ctrl, Options{Theme: ui.NoColor(), Events: events})

	ctrl.snap.PlaybackState = player.StatePlaying
	events <- bus.Event{Kind: bus.StateChanged}
	msg := m.waitEventCmd()()
	next, cmd := m.Update(msg)
	if next.(Model).snap.PlaybackState != player.StatePlaying {
		t.Error("expected snapshot refresh")
	}
	if cmd == nil {
		t.Error("expected the model to keep listening")
	}

	close(events)
	next, _ = next.(Model).Update(next.(Model).waitEventCmd()())
	if next.(Model).events != nil {
		t.Error("expected closed channel to stop listening")
	}
}

func TestTransportKeys(t *testing.T) {
	ctrl := &fakeController{}
	ctrl.snap.Position = 50 * time.Second
	ctrl.snap.Duration = 100 * time.Second
	m := newModel(ctrl)
	m = send(t, m, esc)

	m = send(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	m = send(t, m, runes("n"))
	m = send(t, m, runes("p"))
	m = send(t, m, runes("s"))
	if got := strings.Join(ctrl.calls, ","); got != "toggle,next,previous,stop" {
		t.Errorf("unexpected calls %s", got)
	}

	m = send(t, m, runes("l"))
	m = send(t, m, runes("h"))
	m = send(t, m, runes("3"))
	want := []float64{0.55, 0.45, 0.3}
	if len(ctrl.seeks) != len(want) {
		t.Fatalf("unexpected seeks %v", ctrl.seeks)
	}
	for i, w := range want {
		if d := ctrl.seeks[i] - w; d > 1e-9 || d < -1e-9 {
			t.Errorf("seek[%d] = %v, want %v", i, ctrl.seeks[i], w)
		}
	}

	ctrl.snap.Duration = 0
	send(t, m, runes("l"))
	if len(ctrl.seeks) != 3 {
		t.Error("expected no seek with unknown duration")
	}
}

func TestAutoplayToggle(t *testing.T) {
	ctrl := &fakeController{autoplay: true}
	m := newModel(ctrl)
	m = send(t, m, esc)
	m = send(t, m, runes("a"))
	if ctrl.autoplay || m.status != "Autoplay off" {
		t.Errorf("expected autoplay off, status %q", m.status)
	}
}

func TestInspectAndSelectRendition(t *testing.T) {
	meta := &provider.StreamMetadata{
		Title:     "Lofi Beats",
		ViewCount: 1234567,
		AudioRenditions: []provider.AudioRendition{
			{URL: "a/128", AverageBitrate: 128000, Format: "m4a"},
			{URL: "a/160", AverageBitrate: 160000, Format: "webm", Codec: "opus"},
		},
	}
	ctrl := &fakeController{}
	ctrl.snap.CurrentTrackURL = "https://www.youtube.com/watch?v=v1"
	ctrl.snap.Metadata = meta
	ctrl.snap.Rendition = &meta.AudioRenditions[1]
	m := newModel(ctrl)
	m = send(t, m, esc)

	m = send(t, m, runes("i"))
	if !m.snap.ShowStreamInfo || m.screen != screenNowPlaying {
		t.Fatal("expected stream info on the now playing screen")
	}
	if m.selection != 1 {
		t.Errorf("expected cursor on the active rendition, got %d", m.selection)
	}
	view := m.View()
	if !strings.Contains(view, "1,234,567 views") || !strings.Contains(view, "(auto)") {
		t.Errorf("stream info missing from view:\n%s", view)
	}

	m = send(t, m, runes("k"))
	send(t, m, enter)
	if len(ctrl.renditions) != 1 || ctrl.renditions[0].URL != "a/128" {
		t.Fatalf("unexpected rendition selection %v", ctrl.renditions)
	}
}

func TestUpNextListPlaysRelatedTrack(t *testing.T) {
	ctrl := &fakeController{}
	ctrl.snap.CurrentTrackURL = "https://www.youtube.com/watch?v=v1"
	ctrl.snap.CurrentTrack = provider.TrackRef{URL: ctrl.snap.CurrentTrackURL, Title: "Lofi Beats"}
	m := newModel(ctrl)
	m = send(t, m, esc)
	m.setScreen(screenNowPlaying)
	if view := m.View(); !strings.Contains(view, "Looking for related tracks") {
		t.Errorf("expected pending up next:\n%s", view)
	}

	ctrl.related = lofiRefs()[1:]
	ctrl.related = append(ctrl.related, provider.TrackRef{Title: "Jazz Hop", URL: "https://www.youtube.com/watch?v=v3"})
	next, _ := m.Update(busMsg{Kind: bus.Progress})
	m = next.(Model)
	view := m.View()
	if !strings.Contains(view, "Up next") || !strings.Contains(view, "Lofi Rain") || !strings.Contains(view, "Jazz Hop") {
		t.Fatalf("up next missing from view:\n%s", view)
	}

	m = send(t, m, runes("j"))
	m = send(t, m, enter)
	if len(ctrl.selected) != 1 || ctrl.selected[0].Title != "Jazz Hop" {
		t.Fatalf("unexpected selection %v", ctrl.selected)
	}
	if m.screen != screenNowPlaying || m.selection != 0 {
		t.Errorf("expected cursor reset on now playing, got screen %s selection %d", m.screen, m.selection)
	}
}

func TestInspectURL(t *testing.T) {
	ctrl := &fakeController{inspect: map[string]provider.StreamMetadata{
		"https://www.youtube.com/watch?v=v9": {
			Title:           "Rain Sounds",
			UploaderName:    "Ambience",
			AudioRenditions: []provider.AudioRendition{{URL: "a/160", AverageBitrate: 160000, Format: "webm", Codec: "opus"}},
		},
	}}
	m := newModel(ctrl)
	m = send(t, m, esc)

	m = send(t, m, runes("u"))
	if !m.snap.ShowStreamInfo || m.screen != screenNowPlaying || !m.typing {
		t.Fatal("expected the url input in the stream info view")
	}
	m = send(t, m, enter)
	if len(ctrl.inspected) != 0 || m.status != "Type a video URL to inspect" {
		t.Fatalf("blank url was looked up: %v %q", ctrl.inspected, m.status)
	}

	m = send(t, m, runes("u"))
	m = send(t, m, runes("https://www.youtube.com/watch?v=v9"))
	m = send(t, m, enter)
	if len(ctrl.inspected) != 1 || m.inspected == nil {
		t.Fatalf("expected one lookup, got %v", ctrl.inspected)
	}
	view := m.View()
	for _, want := range []string{"Rain Sounds", "Ambience", "(auto)"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	send(t, m, enter)
	if len(ctrl.renditions) != 0 || len(ctrl.selected) != 0 {
		t.Error("inspection must not change playback")
	}

	m = send(t, m, esc)
	if m.inspected != nil {
		t.Error("esc should return to the current stream")
	}

	m = send(t, m, runes("u"))
	m = send(t, m, runes("https://www.youtube.com/watch?v=gone"))
	m = send(t, m, enter)
	if m.errorMsg == "" || m.status != "Lookup failed" {
		t.Errorf("expected lookup error, status %q", m.status)
	}
}

func TestHistoryFilter(t *testing.T) {
	ctrl := &fakeController{history: []provider.TrackRef{
		{Title: "Deep House Mix", URL: "u1"},
		{Title: "Lofi Beats", URL: "u2", Uploader: "Chill"},
		{Title: "Jazz Cafe", URL: "u3"},
	}}
	m := newModel(ctrl)
	m = send(t, m, m.loadHistoryCmd()())
	if len(m.matches) != 3 {
		t.Fatalf("expected every entry to match an empty filter, got %d", len(m.matches))
	}

	m = send(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.screen != screenHistory {
		t.Fatalf("expected history screen, got %s", m.screen)
	}
	m = send(t, m, runes("/"))
	for _, r := range "lofi" {
		m = send(t, m, runes(string(r)))
	}
	if len(m.matches) != 1 || m.history[m.matches[0].Index].URL != "u2" {
		t.Fatalf("unexpected matches %+v", m.matches)
	}
	m = send(t, m, enter)
	send(t, m, enter)
	if len(ctrl.selected) != 1 || ctrl.selected[0].URL != "u2" {
		t.Fatalf("unexpected selection %v", ctrl.selected)
	}
}

func TestClearHistory(t *testing.T) {
	ctrl := &fakeController{history: lofiRefs()}
	m := newModel(ctrl)
	m = send(t, m, m.loadHistoryCmd()())
	m = send(t, m, esc)
	m = send(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = send(t, m, runes("C"))
	if len(m.history) != 0 || ctrl.history != nil {
		t.Errorf("expected history to be cleared, got %v", m.history)
	}
}

func TestPlayerBar(t *testing.T) {
	ctrl := &fakeController{}
	ctrl.snap.CurrentTrackURL = "u1"
	ctrl.snap.CurrentTrack = provider.TrackRef{Title: "Lofi Beats", Uploader: "Chill", URL: "u1"}
	ctrl.snap.PlaybackState = player.StatePaused
	ctrl.snap.Position = 65 * time.Second
	ctrl.snap.Duration = 3 * time.Minute
	m := newModel(ctrl)

	bar := m.renderPlayerBar()
	for _, want := range []string{"|| Paused", "Chill · Lofi Beats", "1:05/3:00"} {
		if !strings.Contains(bar, want) {
			t.Errorf("player bar %q missing %q", bar, want)
		}
	}
}
