package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"github.com/discombobulate/discombobulate/internal/bus"
	"github.com/discombobulate/discombobulate/internal/provider"
	"github.com/discombobulate/discombobulate/internal/resolver"
	"github.com/discombobulate/discombobulate/internal/session"
	"github.com/discombobulate/discombobulate/internal/ui"
)

// Controller is the session surface the TUI drives. playback.Service
// implements it.
type Controller interface {
	Session() session.Snapshot
	Search(ctx context.Context, query string) ([]provider.TrackRef, error)
	SelectTrack(ctx context.Context, ref provider.TrackRef) error
	SelectRendition(ctx context.Context, r provider.AudioRendition) error
	Inspect(show bool)
	InspectURL(ctx context.Context, url string) (resolver.Resolution, error)
	Related() []provider.TrackRef
	TogglePlayback(ctx context.Context) error
	Seek(fraction float64) error
	PlayNext(ctx context.Context) error
	PlayPrevious(ctx context.Context) error
	Stop() error
	History(ctx context.Context) []provider.TrackRef
	ClearHistory(ctx context.Context)
	AutoplayEnabled() bool
	SetAutoplay(enabled bool)
}

type screen int

const (
	screenSearch screen = iota
	screenHistory
	screenNowPlaying
	screenCount
)

func (s screen) String() string {
	switch s {
	case screenSearch:
		return "Search"
	case screenHistory:
		return "History"
	case screenNowPlaying:
		return "Now Playing"
	default:
		return ""
	}
}

type Options struct {
	Theme    ui.Theme
	NoEmoji  bool
	SeekStep time.Duration
	// Events should be subscribed to StateChanged, TrackChanged, Progress
	// and Error. A nil channel disables live updates.
	Events <-chan bus.Event
	// Query runs a search as soon as the program starts.
	Query string
}

type Model struct {
	ctx      context.Context
	ctrl     Controller
	events   <-chan bus.Event
	theme    ui.Theme
	noEmoji  bool
	seekStep time.Duration

	screen    screen
	typing    bool
	query     string
	searching bool
	results   []provider.TrackRef
	history   []provider.TrackRef
	filter    string
	matches   []fuzzy.Match
	selection int

	snap     session.Snapshot
	upNext   []provider.TrackRef
	status   string
	errorMsg string
	width    int
	height   int
	showHelp bool

	// urlInput and inspected back the stream-info lookup of an arbitrary
	// url; inspected replaces the current stream in the info view.
	urlInput   string
	inspecting bool
	inspected  *resolver.Resolution

	palette     *PaletteState
	showPalette bool
	diag        *DiagnosticsState
	showDiag    bool

	initialQuery string
}

// New builds the TUI model. ctx bounds every operation the model starts.
func New(ctx context.Context, ctrl Controller, opts Options) Model {
	if opts.SeekStep <= 0 {
		opts.SeekStep = 5 * time.Second
	}
	m := Model{
		ctx:          ctx,
		ctrl:         ctrl,
		events:       opts.Events,
		theme:        opts.Theme,
		noEmoji:      opts.NoEmoji,
		seekStep:     opts.SeekStep,
		snap:         ctrl.Session(),
		upNext:       ctrl.Related(),
		status:       "Press / to search",
		diag:         NewDiagnosticsState(),
		initialQuery: strings.TrimSpace(opts.Query),
	}
	m.palette = NewPaletteState(NewCommandRegistry())
	if m.initialQuery != "" {
		m.query = m.initialQuery
	} else {
		m.typing = true
	}
	return m
}

type busMsg bus.Event

type eventsClosedMsg struct{}

type searchMsg struct {
	query   string
	results []provider.TrackRef
	err     error
	took    time.Duration
}

type historyMsg struct {
	items []provider.TrackRef
}

type actionMsg struct {
	op  string
	err error
}

type inspectMsg struct {
	url string
	res resolver.Resolution
	err error
}

type clearErrorMsg struct{}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.waitEventCmd(), m.loadHistoryCmd()}
	if m.initialQuery != "" {
		cmds = append(cmds, m.searchCmd(m.initialQuery))
	}
	return tea.Batch(cmds...)
}

func (m Model) waitEventCmd() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		evt, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return busMsg(evt)
	}
}

func (m Model) searchCmd(q string) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		results, err := m.ctrl.Search(m.ctx, q)
		return searchMsg{query: q, results: results, err: err, took: time.Since(start)}
	}
}

func (m Model) loadHistoryCmd() tea.Cmd {
	return func() tea.Msg {
		return historyMsg{items: m.ctrl.History(m.ctx)}
	}
}

// actionCmd runs fn off the update loop and reports its outcome.
func (m Model) actionCmd(op string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{op: op, err: fn(m.ctx)}
	}
}

func (m Model) selectCmd(ref provider.TrackRef) tea.Cmd {
	return m.actionCmd("select", func(ctx context.Context) error {
		return m.ctrl.SelectTrack(ctx, ref)
	})
}

func (m Model) inspectCmd(url string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.ctrl.InspectURL(m.ctx, url)
		return inspectMsg{url: url, res: res, err: err}
	}
}

func (m Model) clearErrorCmd() tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return clearErrorMsg{}
	})
}

func (m Model) setError(err error) (Model, tea.Cmd) {
	m.errorMsg = err.Error()
	return m, m.clearErrorCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case clearErrorMsg:
		m.errorMsg = ""
		return m, nil
	case busMsg:
		return m.handleEvent(bus.Event(msg))
	case eventsClosedMsg:
		m.events = nil
		return m, nil
	case searchMsg:
		m.searching = false
		m.diag.RecordSearch(msg.took)
		if msg.err != nil {
			m.status = "Search failed"
			return m.setError(msg.err)
		}
		m.results = msg.results
		m.selection = 0
		m.status = fmt.Sprintf("%d results for %q", len(msg.results), msg.query)
		return m, nil
	case historyMsg:
		m.history = msg.items
		m.refilter()
		return m, nil
	case inspectMsg:
		m.inspecting = false
		if msg.err != nil {
			m.status = "Lookup failed"
			m.diag.RecordFailure("inspect", msg.err)
			return m.setError(msg.err)
		}
		m.inspected = &msg.res
		m.status = "Stream info for " + msg.url
		return m, nil
	case actionMsg:
		m.refresh()
		if msg.err == nil || errors.Is(msg.err, resolver.ErrSuperseded) || errors.Is(msg.err, context.Canceled) {
			return m, nil
		}
		m.diag.RecordFailure(msg.op, msg.err)
		return m.setError(msg.err)
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleEvent(evt bus.Event) (tea.Model, tea.Cmd) {
	next := m.waitEventCmd()
	switch evt.Kind {
	case bus.Error:
		m.refresh()
		m.diag.RecordFailure(evt.Source, evt.Err)
		if evt.Err == nil {
			return m, next
		}
		m, clearCmd := m.setError(fmt.Errorf("%s: %w", evt.Source, evt.Err))
		return m, tea.Batch(next, clearCmd)
	case bus.TrackChanged:
		m.refresh()
		return m, tea.Batch(next, m.loadHistoryCmd())
	default:
		m.refresh()
		return m, next
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.showPalette {
		return m.handlePaletteKey(msg)
	}
	if m.typing {
		return m.handleInput(msg)
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
	case "ctrl+p", ":":
		m.palette.Reset()
		m.showPalette = true
	case "ctrl+d":
		m.showDiag = !m.showDiag
	case "esc":
		m.showHelp = false
		m.showDiag = false
		m.inspected = nil
	case "tab":
		m.setScreen((m.screen + 1) % screenCount)
	case "shift+tab":
		m.setScreen((m.screen + screenCount - 1) % screenCount)
	case "/":
		if m.screen == screenNowPlaying {
			m.setScreen(screenSearch)
		}
		m.typing = true
	case "j", "down":
		if m.selection < m.listLen()-1 {
			m.selection++
		}
	case "k", "up":
		if m.selection > 0 {
			m.selection--
		}
	case "enter":
		return m.handleEnter()
	case " ":
		return m, m.actionCmd("toggle", m.ctrl.TogglePlayback)
	case "h", "left":
		return m, m.seekBy(-m.seekStep)
	case "l", "right":
		return m, m.seekBy(m.seekStep)
	case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9":
		fraction := float64(msg.String()[0]-'0') / 10
		return m, m.actionCmd("seek", func(context.Context) error { return m.ctrl.Seek(fraction) })
	case "n":
		m.status = "Finding a related track…"
		return m, m.actionCmd("next", m.ctrl.PlayNext)
	case "p":
		return m, m.actionCmd("previous", m.ctrl.PlayPrevious)
	case "s":
		return m, m.actionCmd("stop", func(context.Context) error { return m.ctrl.Stop() })
	case "a":
		m.toggleAutoplay()
	case "i":
		m.toggleInspect()
	case "u":
		m.startURLInput()
	case "C":
		if m.screen == screenHistory {
			m.ctrl.ClearHistory(m.ctx)
			m.status = "History cleared"
			return m, m.loadHistoryCmd()
		}
	}
	return m, nil
}

// handleInput edits the search query or the history filter.
func (m Model) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.typing = false
		return m, nil
	case tea.KeyEnter:
		m.typing = false
		switch m.screen {
		case screenSearch:
			return m.submitSearch()
		case screenNowPlaying:
			return m.submitInspect()
		}
		return m, nil
	case tea.KeyBackspace:
		switch m.screen {
		case screenHistory:
			m.filter = dropLastRune(m.filter)
			m.refilter()
		case screenNowPlaying:
			m.urlInput = dropLastRune(m.urlInput)
		default:
			m.query = dropLastRune(m.query)
		}
		return m, nil
	case tea.KeyTab:
		m.typing = false
		m.setScreen((m.screen + 1) % screenCount)
		return m, nil
	case tea.KeyRunes, tea.KeySpace:
		text := string(msg.Runes)
		if msg.Type == tea.KeySpace {
			text = " "
		}
		switch m.screen {
		case screenHistory:
			m.filter += text
			m.refilter()
		case screenNowPlaying:
			m.urlInput += text
		default:
			m.query += text
		}
	}
	return m, nil
}

func (m Model) submitSearch() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.query)
	if q == "" {
		m.status = "Type something to search for"
		return m, nil
	}
	m.searching = true
	m.status = fmt.Sprintf("Searching for %q…", q)
	return m, m.searchCmd(q)
}

func (m Model) submitInspect() (tea.Model, tea.Cmd) {
	url := strings.TrimSpace(m.urlInput)
	if url == "" {
		m.status = "Type a video URL to inspect"
		return m, nil
	}
	m.inspecting = true
	m.status = "Looking up " + url + "…"
	return m, m.inspectCmd(url)
}

func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.screen {
	case screenSearch:
		if len(m.results) == 0 {
			return m, nil
		}
		return m.play(m.results[clamp(m.selection, 0, len(m.results)-1)])
	case screenHistory:
		if len(m.matches) == 0 {
			return m, nil
		}
		idx := m.matches[clamp(m.selection, 0, len(m.matches)-1)].Index
		return m.play(m.history[idx])
	case screenNowPlaying:
		if !m.snap.ShowStreamInfo {
			if len(m.upNext) == 0 {
				return m, nil
			}
			return m.play(m.upNext[clamp(m.selection, 0, len(m.upNext)-1)])
		}
		renditions := m.renditions()
		if m.inspected != nil || len(renditions) == 0 {
			return m, nil
		}
		r := renditions[clamp(m.selection, 0, len(renditions)-1)]
		m.status = "Switching to " + r.String()
		return m, m.actionCmd("rendition", func(ctx context.Context) error {
			return m.ctrl.SelectRendition(ctx, r)
		})
	}
	return m, nil
}

func (m Model) play(ref provider.TrackRef) (Model, tea.Cmd) {
	m.status = "Loading " + ref.Title + "…"
	m.setScreen(screenNowPlaying)
	if !m.snap.ShowStreamInfo {
		m.selection = 0
	}
	return m, m.selectCmd(ref)
}

// seekBy converts a relative jump into a fraction of the known duration.
func (m Model) seekBy(delta time.Duration) tea.Cmd {
	snap := m.ctrl.Session()
	if snap.Duration <= 0 {
		return nil
	}
	fraction := float64(snap.Position+delta) / float64(snap.Duration)
	return m.actionCmd("seek", func(context.Context) error { return m.ctrl.Seek(fraction) })
}

func (m *Model) toggleAutoplay() {
	enabled := !m.ctrl.AutoplayEnabled()
	m.ctrl.SetAutoplay(enabled)
	if enabled {
		m.status = "Autoplay on"
	} else {
		m.status = "Autoplay off"
	}
}

func (m *Model) toggleInspect() {
	show := !m.snap.ShowStreamInfo
	m.ctrl.Inspect(show)
	m.refresh()
	m.inspected = nil
	if show {
		m.setScreen(screenNowPlaying)
		m.selection = m.activeRendition()
	} else if m.screen == screenNowPlaying {
		m.selection = 0
	}
}

// startURLInput opens the stream-info view with the url input focused.
func (m *Model) startURLInput() {
	if !m.snap.ShowStreamInfo {
		m.ctrl.Inspect(true)
		m.refresh()
	}
	m.setScreen(screenNowPlaying)
	m.urlInput = ""
	m.typing = true
}

// refresh reloads the session snapshot and the up-next list.
func (m *Model) refresh() {
	m.snap = m.ctrl.Session()
	m.upNext = m.ctrl.Related()
	if m.screen == screenNowPlaying && !m.snap.ShowStreamInfo {
		m.selection = clamp(m.selection, 0, max(len(m.upNext)-1, 0))
	}
}

func (m *Model) setScreen(s screen) {
	if m.screen != s {
		m.selection = 0
	}
	m.screen = s
	if s == screenNowPlaying && m.snap.ShowStreamInfo {
		m.selection = m.activeRendition()
	}
}

// refilter recomputes history matches. An empty filter matches everything
// in recency order.
func (m *Model) refilter() {
	labels := make([]string, len(m.history))
	for i, ref := range m.history {
		labels[i] = historyLabel(ref)
	}
	if strings.TrimSpace(m.filter) == "" {
		m.matches = make([]fuzzy.Match, len(labels))
		for i, l := range labels {
			m.matches[i] = fuzzy.Match{Str: l, Index: i}
		}
	} else {
		m.matches = fuzzy.Find(m.filter, labels)
	}
	if m.screen == screenHistory {
		m.selection = clamp(m.selection, 0, max(len(m.matches)-1, 0))
	}
}

func historyLabel(ref provider.TrackRef) string {
	if ref.Uploader == "" {
		return ref.Title
	}
	return ref.Title + " · " + ref.Uploader
}

func (m Model) renditions() []provider.AudioRendition {
	if m.snap.Metadata == nil {
		return nil
	}
	return m.snap.Metadata.AudioRenditions
}

func (m Model) activeRendition() int {
	if m.snap.Rendition == nil {
		return 0
	}
	for i, r := range m.renditions() {
		if r.URL == m.snap.Rendition.URL {
			return i
		}
	}
	return 0
}

func (m Model) listLen() int {
	switch m.screen {
	case screenSearch:
		return len(m.results)
	case screenHistory:
		return len(m.matches)
	case screenNowPlaying:
		if !m.snap.ShowStreamInfo {
			return len(m.upNext)
		}
		if m.inspected == nil {
			return len(m.renditions())
		}
	}
	return 0
}

func dropLastRune(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return string(r[:len(r)-1])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
