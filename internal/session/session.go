// Package session holds the single source of truth for what is playing.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/discombobulate/discombobulate/internal/bus"
	"github.com/discombobulate/discombobulate/internal/player"
	"github.com/discombobulate/discombobulate/internal/provider"
)

// Snapshot is a copy of the session state. Pointer fields are owned by the
// snapshot and safe to read.
type Snapshot struct {
	CurrentTrackURL     string
	CurrentTrack        provider.TrackRef
	Metadata            *provider.StreamMetadata
	Rendition           *provider.AudioRendition
	RenditionOverridden bool
	IsLoadingStream     bool
	LastError           string
	PlaybackState       player.State
	Position            time.Duration
	Duration            time.Duration
	ShowStreamInfo      bool
}

// Ticket identifies one selection request. Only the most recently issued
// ticket may write its outcome to the store.
type Ticket struct {
	seq  uint64
	ref  provider.TrackRef
	back bool
}

func (t Ticket) Ref() provider.TrackRef { return t.ref }

// Store is the session state container. All methods are safe for concurrent
// use; events are published after the lock is released.
type Store struct {
	bus *bus.Bus

	mu     sync.Mutex
	state  Snapshot
	seq    uint64
	loaded provider.TrackRef // track whose metadata is held
	played map[string]bool
	trail  []provider.TrackRef
}

// New creates an empty store. b may be nil.
func New(b *bus.Bus) *Store {
	return &Store{bus: b, played: make(map[string]bool)}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() Snapshot {
	out := s.state
	if s.state.Metadata != nil {
		m := *s.state.Metadata
		m.AudioRenditions = append([]provider.AudioRendition(nil), m.AudioRenditions...)
		m.VideoRenditions = append([]provider.VideoRendition(nil), m.VideoRenditions...)
		out.Metadata = &m
	}
	if s.state.Rendition != nil {
		r := *s.state.Rendition
		out.Rendition = &r
	}
	return out
}

// Begin starts a selection for ref: it becomes the current track, the loading
// flag is raised and any previous error is cleared.
func (s *Store) Begin(ref provider.TrackRef) Ticket {
	return s.begin(ref, false)
}

// BeginPrevious starts a selection of the track returned by Previous. When
// it commits, the track it replaces is dropped from the trail.
func (s *Store) BeginPrevious(ref provider.TrackRef) Ticket {
	return s.begin(ref, true)
}

func (s *Store) begin(ref provider.TrackRef, back bool) Ticket {
	s.mu.Lock()
	s.seq++
	t := Ticket{seq: s.seq, ref: ref, back: back}
	trackChanged := s.state.CurrentTrackURL != ref.URL
	s.state.CurrentTrackURL = ref.URL
	s.state.CurrentTrack = ref
	s.state.IsLoadingStream = true
	s.state.LastError = ""
	s.played[ref.URL] = true
	s.mu.Unlock()

	s.publishChange(trackChanged, ref.URL)
	return t
}

// IsCurrent reports whether t is the latest issued ticket.
func (s *Store) IsCurrent(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.seq == s.seq
}

// Commit stores the resolved metadata and rendition for t. It returns false
// and writes nothing if a newer ticket has been issued.
func (s *Store) Commit(t Ticket, meta provider.StreamMetadata, rendition *provider.AudioRendition) bool {
	s.mu.Lock()
	if t.seq != s.seq {
		s.mu.Unlock()
		return false
	}
	m := meta
	s.state.Metadata = &m
	s.state.Rendition = nil
	if rendition != nil {
		r := *rendition
		s.state.Rendition = &r
	}
	s.state.RenditionOverridden = false
	s.state.IsLoadingStream = false
	s.state.LastError = ""
	s.loaded = t.ref
	n := len(s.trail)
	switch {
	case t.back && n >= 2 && s.trail[n-2].URL == t.ref.URL:
		s.trail = s.trail[:n-1]
	case n == 0 || s.trail[n-1].URL != t.ref.URL:
		s.trail = append(s.trail, t.ref)
	}
	s.mu.Unlock()

	s.publishChange(false, "")
	return true
}

// Fail records err for t and restores the current track to the one whose
// metadata is still held. It returns false if t is stale.
func (s *Store) Fail(t Ticket, err error) bool {
	s.mu.Lock()
	if t.seq != s.seq {
		s.mu.Unlock()
		return false
	}
	s.state.IsLoadingStream = false
	if err != nil {
		s.state.LastError = err.Error()
	}
	trackChanged := s.state.CurrentTrackURL != s.loaded.URL
	s.state.CurrentTrackURL = s.loaded.URL
	s.state.CurrentTrack = s.loaded
	url := s.loaded.URL
	s.mu.Unlock()

	s.publishChange(trackChanged, url)
	return true
}

// SelectRendition overrides the automatic rendition choice. r must belong to
// the current metadata.
func (s *Store) SelectRendition(r provider.AudioRendition) error {
	s.mu.Lock()
	if s.state.Metadata == nil || !s.state.Metadata.HasAudio(r) {
		s.mu.Unlock()
		return fmt.Errorf("rendition %q is not part of the current stream: %w", r.URL, provider.ErrInvalidInput)
	}
	rr := r
	s.state.Rendition = &rr
	s.state.RenditionOverridden = true
	s.mu.Unlock()

	s.publishChange(false, "")
	return nil
}

func (s *Store) SetPlaybackState(st player.State) {
	s.mu.Lock()
	if s.state.PlaybackState == st {
		s.mu.Unlock()
		return
	}
	s.state.PlaybackState = st
	if st == player.StateIdle {
		s.state.Position, s.state.Duration = 0, 0
	}
	s.mu.Unlock()
	s.publishChange(false, "")
}

// SetProgress stores the engine position. It does not publish StateChanged;
// the transport bridge publishes Progress events instead.
func (s *Store) SetProgress(pos, dur time.Duration) {
	s.mu.Lock()
	s.state.Position = pos
	s.state.Duration = dur
	s.mu.Unlock()
}

func (s *Store) SetLastError(msg string) {
	s.mu.Lock()
	s.state.LastError = msg
	s.mu.Unlock()
	s.publishChange(false, "")
}

func (s *Store) SetShowStreamInfo(show bool) {
	s.mu.Lock()
	s.state.ShowStreamInfo = show
	s.mu.Unlock()
	s.publishChange(false, "")
}

// Played reports whether url was selected during this session.
func (s *Store) Played(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played[url]
}

// Previous returns the track committed before the current one. The trail is
// only trimmed once a BeginPrevious ticket for it commits.
func (s *Store) Previous() (provider.TrackRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.trail) < 2 {
		return provider.TrackRef{}, false
	}
	return s.trail[len(s.trail)-2], true
}

func (s *Store) publishChange(trackChanged bool, url string) {
	if s.bus == nil {
		return
	}
	if trackChanged {
		s.bus.Publish(bus.Event{Kind: bus.TrackChanged, URL: url})
	}
	s.bus.Publish(bus.Event{Kind: bus.StateChanged})
}
