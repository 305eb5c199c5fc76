// Package bus carries typed session events between components that must not
// hold references to each other (UI, transport bridge, autoplay).
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Kind identifies the type of an Event.
type Kind int

const (
	// StateChanged is published after any session store write.
	StateChanged Kind = iota
	// TrackChanged is published when the active track url changes.
	TrackChanged
	// Progress carries the periodically polled engine position.
	Progress
	// Error reports a resolution, playback or related-lookup failure.
	Error
	// Action asks the session to perform a transport action.
	Action
)

func (k Kind) String() string {
	switch k {
	case StateChanged:
		return "state_changed"
	case TrackChanged:
		return "track_changed"
	case Progress:
		return "progress"
	case Error:
		return "error"
	case Action:
		return "action"
	default:
		return "unknown"
	}
}

// ActionKind is the transport action requested by an Action event.
type ActionKind int

const (
	ActPlay ActionKind = iota
	ActPause
	ActNext
	ActPrevious
	ActSeek
	ActStop
)

func (a ActionKind) String() string {
	switch a {
	case ActPlay:
		return "play"
	case ActPause:
		return "pause"
	case ActNext:
		return "next"
	case ActPrevious:
		return "previous"
	case ActSeek:
		return "seek"
	case ActStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Event is a single bus message. Only the fields relevant to Kind are set.
type Event struct {
	Kind     Kind
	URL      string        // TrackChanged
	Act      ActionKind    // Action
	Position time.Duration // Action(ActSeek), Progress
	Duration time.Duration // Progress
	Source   string        // Error: "resolve", "playback", "related"; Action: "remote", "queue", "ui"
	Err      error         // Error
}

const defaultBuffer = 64

type subscriber struct {
	ch    chan Event
	kinds map[Kind]bool
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
	logger *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[int]*subscriber), logger: logger}
}

// Subscribe returns a channel receiving events of the given kinds (all kinds
// when none are given) and a function that cancels the subscription.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{ch: make(chan Event, defaultBuffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.kinds != nil && !s.kinds[evt.Kind] {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.logger.Debug("bus subscriber full, dropping event", slog.String("kind", evt.Kind.String()))
		}
	}
}

// PublishAction publishes an Action event from source.
func (b *Bus) PublishAction(act ActionKind, pos time.Duration, source string) {
	b.Publish(Event{Kind: Action, Act: act, Position: pos, Source: source})
}

// Close closes every subscriber channel. Further publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
