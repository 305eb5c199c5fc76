package player

import "fmt"

// Engine is the audio-rendering capability driven by the transport bridge.
// Implementations serialize their own commands.
type Engine interface {
	Reset() error
	Add(item Item) error
	Play() error
	Pause() error
	SeekTo(seconds float64) error
	State() (State, error)
	Progress() (Progress, error)
	Events() <-chan Event
}

// Item is a single playable entry in the engine queue.
type Item struct {
	URL    string
	Title  string
	Artist string
}

// Progress is the engine position in seconds. A Duration of 0 means unknown.
type Progress struct {
	Position float64
	Duration float64
}

type State int

const (
	StateIdle State = iota
	StateLoading
	StateBuffering
	StatePlaying
	StatePaused
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StateBuffering:
		return "Buffering"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateEnded:
		return "Ended"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// IsLoading reports whether the engine is fetching or buffering media.
func (s State) IsLoading() bool {
	return s == StateLoading || s == StateBuffering
}

type EventKind int

const (
	EventStateChanged EventKind = iota
	EventRemotePlay
	EventRemotePause
	EventRemoteNext
	EventRemotePrevious
	EventRemoteSeek
	EventRemoteStop
	EventPlaybackError
	EventQueueEnded
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventRemotePlay:
		return "remote_play"
	case EventRemotePause:
		return "remote_pause"
	case EventRemoteNext:
		return "remote_next"
	case EventRemotePrevious:
		return "remote_previous"
	case EventRemoteSeek:
		return "remote_seek"
	case EventRemoteStop:
		return "remote_stop"
	case EventPlaybackError:
		return "playback_error"
	case EventQueueEnded:
		return "queue_ended"
	default:
		return "unknown"
	}
}

// Event is emitted by an Engine. State is set for EventStateChanged, Position
// (seconds) for EventRemoteSeek and Err for EventPlaybackError.
type Event struct {
	Kind     EventKind
	State    State
	Position float64
	Err      error
}

func (e Event) String() string {
	switch e.Kind {
	case EventStateChanged:
		return fmt.Sprintf("%s(%s)", e.Kind, e.State)
	case EventRemoteSeek:
		return fmt.Sprintf("%s(%.1f)", e.Kind, e.Position)
	case EventPlaybackError:
		return fmt.Sprintf("%s(%v)", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}
