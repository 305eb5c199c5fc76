// Package transport bridges the playback engine and the session: it forwards
// user transport commands to the engine, mirrors engine state and progress
// into the session store, and turns remote-control events into bus actions.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/discombobulate/discombobulate/internal/bus"
	"github.com/discombobulate/discombobulate/internal/player"
	"github.com/discombobulate/discombobulate/internal/session"
)

const DefaultProgressInterval = time.Second

// Action sources set on bus actions published by the bridge.
const (
	SourceRemote = "remote"
	SourceQueue  = "queue"
)

// PlaybackError reports a failed engine operation. Playback is halted and
// the session returns to Idle.
type PlaybackError struct {
	Op  string
	Err error
}

func (e *PlaybackError) Error() string { return fmt.Sprintf("playback %s: %v", e.Op, e.Err) }
func (e *PlaybackError) Unwrap() error { return e.Err }

type Options struct {
	Logger           *slog.Logger
	ProgressInterval time.Duration
}

type Bridge struct {
	engine   player.Engine
	store    *session.Store
	bus      *bus.Bus
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	duration float64
}

func New(engine player.Engine, store *session.Store, b *bus.Bus, opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	return &Bridge{
		engine:   engine,
		store:    store,
		bus:      b,
		logger:   opts.Logger,
		interval: opts.ProgressInterval,
	}
}

// Run consumes engine events and polls progress until ctx is done or the
// engine event channel closes.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	events := b.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			b.handle(evt)
		case <-ticker.C:
			b.pollProgress()
		}
	}
}

func (b *Bridge) handle(evt player.Event) {
	b.logger.Debug("engine event", slog.String("event", evt.String()))
	switch evt.Kind {
	case player.EventStateChanged:
		b.store.SetPlaybackState(evt.State)
	case player.EventRemotePlay:
		b.action(bus.ActPlay, 0, SourceRemote)
	case player.EventRemotePause:
		b.action(bus.ActPause, 0, SourceRemote)
	case player.EventRemoteNext:
		b.action(bus.ActNext, 0, SourceRemote)
	case player.EventRemotePrevious:
		b.action(bus.ActPrevious, 0, SourceRemote)
	case player.EventRemoteSeek:
		b.action(bus.ActSeek, secondsToDuration(evt.Position), SourceRemote)
	case player.EventRemoteStop:
		b.action(bus.ActStop, 0, SourceRemote)
	case player.EventQueueEnded:
		b.store.SetPlaybackState(player.StateEnded)
		b.action(bus.ActNext, 0, SourceQueue)
	case player.EventPlaybackError:
		b.halt(&PlaybackError{Op: "engine", Err: evt.Err})
	}
}

func (b *Bridge) action(act bus.ActionKind, pos time.Duration, source string) {
	if b.bus == nil {
		return
	}
	b.bus.PublishAction(act, pos, source)
}

func (b *Bridge) pollProgress() {
	p, err := b.engine.Progress()
	if err != nil {
		b.logger.Debug("progress poll failed", slog.Any("err", err))
		return
	}
	b.mu.Lock()
	b.duration = p.Duration
	b.mu.Unlock()

	pos, dur := secondsToDuration(p.Position), secondsToDuration(p.Duration)
	b.store.SetProgress(pos, dur)
	if b.bus != nil {
		b.bus.Publish(bus.Event{Kind: bus.Progress, Position: pos, Duration: dur})
	}
}

// Load replaces the engine queue with item and starts playback.
func (b *Bridge) Load(ctx context.Context, item player.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.logger.Info("loading stream", slog.String("title", item.Title))
	if err := b.engine.Reset(); err != nil {
		return b.halt(&PlaybackError{Op: "reset", Err: err})
	}
	b.mu.Lock()
	b.duration = 0
	b.mu.Unlock()
	b.store.SetProgress(0, 0)
	if err := b.engine.Add(item); err != nil {
		return b.halt(&PlaybackError{Op: "add", Err: err})
	}
	if err := b.engine.Play(); err != nil {
		return b.halt(&PlaybackError{Op: "play", Err: err})
	}
	return nil
}

// TogglePlayback pauses a playing engine and resumes it otherwise.
func (b *Bridge) TogglePlayback() error {
	st, err := b.engine.State()
	if err != nil {
		return b.halt(&PlaybackError{Op: "state", Err: err})
	}
	if st == player.StatePlaying {
		return b.Pause()
	}
	return b.Play()
}

func (b *Bridge) Play() error {
	if err := b.engine.Play(); err != nil {
		return b.halt(&PlaybackError{Op: "play", Err: err})
	}
	return nil
}

func (b *Bridge) Pause() error {
	if err := b.engine.Pause(); err != nil {
		return b.halt(&PlaybackError{Op: "pause", Err: err})
	}
	return nil
}

// Seek moves to fraction of the known duration. Fractions are clamped to
// [0, 1]; nothing happens for NaN or while the duration is unknown.
func (b *Bridge) Seek(fraction float64) error {
	if math.IsNaN(fraction) {
		return nil
	}
	dur := b.knownDuration()
	if dur <= 0 {
		return nil
	}
	fraction = min(max(fraction, 0), 1)
	return b.SeekTo(fraction * dur)
}

// SeekTo seeks to an absolute position in seconds.
func (b *Bridge) SeekTo(seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	if err := b.engine.SeekTo(seconds); err != nil {
		return b.halt(&PlaybackError{Op: "seek", Err: err})
	}
	return nil
}

// Stop clears the engine queue and returns the session to Idle.
func (b *Bridge) Stop() error {
	err := b.engine.Reset()
	b.mu.Lock()
	b.duration = 0
	b.mu.Unlock()
	b.store.SetPlaybackState(player.StateIdle)
	if err != nil {
		return b.halt(&PlaybackError{Op: "stop", Err: err})
	}
	return nil
}

func (b *Bridge) knownDuration() float64 {
	b.mu.Lock()
	dur := b.duration
	b.mu.Unlock()
	if dur > 0 {
		return dur
	}
	if p, err := b.engine.Progress(); err == nil {
		return p.Duration
	}
	return 0
}

// halt logs err, resets the engine and records the failure in the session.
func (b *Bridge) halt(err *PlaybackError) error {
	b.logger.Error("playback failed", slog.String("op", err.Op), slog.Any("err", err.Err))
	if err.Op != "reset" && err.Op != "stop" {
		if rerr := b.engine.Reset(); rerr != nil {
			b.logger.Warn("engine reset after failure failed", slog.Any("err", rerr))
		}
	}
	b.store.SetPlaybackState(player.StateIdle)
	b.store.SetLastError(err.Error())
	if b.bus != nil {
		b.bus.Publish(bus.Event{Kind: bus.Error, Source: "playback", Err: err})
	}
	return err
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
