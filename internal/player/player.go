package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ClientMessageTarget is the first argument mpv client messages must carry to
// be treated as remote-control commands, e.g. in input.conf:
//
//	NEXT script-message discombobulate next
const ClientMessageTarget = "discombobulate"

// Options configures the Controller.
type Options struct {
	MPVPath        string
	IPCPath        string
	Logger         *slog.Logger
	DisableProcess bool
	Dial           func(ctx context.Context, network, addr string) (net.Conn, error)
	ExtraArgs      []string
}

// Controller manages the mpv process and IPC connection. It implements Engine
// on top of mpv's single-file playback: the queue lives here and entries are
// handed to mpv one at a time.
type Controller struct {
	opts Options
	cmd  *exec.Cmd

	writeMu sync.Mutex
	conn    net.Conn

	mu       sync.Mutex
	state    State
	pausedP  bool
	timePos  float64
	duration float64
	queue    []Item
	current  *Item
	// starting is set by loadfile until mpv reports start-file; entryID is
	// the playlist_entry_id of the file mpv is playing for current.
	starting bool
	entryID  int64

	events chan Event
	done   chan struct{}
}

var _ Engine = (*Controller)(nil)

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		opts:   opts,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
}

func defaultIPCPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\discombobulate-mpv`
	}
	return filepath.Join(os.TempDir(), "discombobulate-mpv.sock")
}

// Start launches mpv (unless disabled) and connects to the IPC socket.
func (c *Controller) Start(ctx context.Context) error {
	c.opts.Logger.Debug("starting player controller", slog.String("ipc_path", c.opts.IPCPath), slog.Bool("disable_process", c.opts.DisableProcess))
	if c.opts.IPCPath == "" {
		c.opts.IPCPath = defaultIPCPath()
	}
	if !c.opts.DisableProcess {
		if err := c.spawnMPV(ctx); err != nil {
			c.opts.Logger.Error("failed to spawn mpv", slog.Any("err", err))
			return err
		}
	}
	if err := c.connect(ctx); err != nil {
		c.opts.Logger.Error("failed to connect to mpv ipc", slog.Any("err", err))
		return err
	}
	if err := c.observeProperties(); err != nil {
		c.opts.Logger.Error("failed to observe mpv properties", slog.Any("err", err))
		return err
	}
	go c.readLoop()
	c.opts.Logger.Debug("player controller started")
	return nil
}

func (c *Controller) spawnMPV(ctx context.Context) error {
	args := []string{
		"--idle=yes",
		"--force-window=no",
		"--no-terminal",
		"--no-video",
		"--input-ipc-server=" + c.opts.IPCPath,
	}
	args = append(args, c.opts.ExtraArgs...)
	c.opts.Logger.Debug("spawning mpv process", slog.String("mpv_path", c.opts.MPVPath), slog.Any("args", args))
	c.cmd = exec.CommandContext(ctx, c.opts.MPVPath, args...)
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("start mpv: %w", err)
	}
	return nil
}

func (c *Controller) connect(ctx context.Context) error {
	dial := c.opts.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: 5 * time.Second}).DialContext
	}
	var conn net.Conn
	var err error
	baseDelay := 50 * time.Millisecond
	maxDelay := 500 * time.Millisecond
	maxRetries := 10
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < maxRetries; i++ {
		conn, err = dial(ctx, "unix", c.opts.IPCPath)
		if err == nil {
			c.writeMu.Lock()
			c.conn = conn
			c.writeMu.Unlock()
			c.opts.Logger.Debug("connected to mpv ipc", slog.Int("attempt", i+1))
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect mpv ipc: %w", ctx.Err())
		default:
		}

		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(i))
			if delay > maxDelay {
				delay = maxDelay
			}
			jitter := time.Duration(float64(delay) * 0.2 * rng.Float64())
			c.opts.Logger.Debug("mpv ipc connection failed, retrying", slog.Int("attempt", i+1), slog.Any("err", err), slog.Duration("delay", delay+jitter))
			time.Sleep(delay + jitter)
		}
	}
	return fmt.Errorf("connect mpv ipc: %w", err)
}

func (c *Controller) observeProperties() error {
	props := []string{"time-pos", "duration", "pause", "paused-for-cache"}
	for i, p := range props {
		if err := c.send("observe_property", i+1, p); err != nil {
			return err
		}
	}
	return nil
}

// Events returns the event channel. It is closed when the IPC connection ends.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) send(args ...any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	b, err := json.Marshal(map[string]any{"command": args})
	if err != nil {
		return err
	}
	_, err = c.conn.Write(append(b, '\n'))
	return err
}

// Reset stops playback and empties the queue.
func (c *Controller) Reset() error {
	c.mu.Lock()
	c.queue = nil
	c.current = nil
	c.starting, c.entryID = false, 0
	c.timePos, c.duration = 0, 0
	changed := c.setStateLocked(StateIdle)
	c.mu.Unlock()
	if changed {
		c.emit(Event{Kind: EventStateChanged, State: StateIdle})
	}
	return c.send("stop")
}

// Add appends an item to the queue; it starts when Play is called on an idle
// engine or when the current item ends.
func (c *Controller) Add(item Item) error {
	if item.URL == "" {
		return fmt.Errorf("add: empty url")
	}
	c.mu.Lock()
	c.queue = append(c.queue, item)
	c.mu.Unlock()
	return nil
}

func (c *Controller) Play() error {
	c.mu.Lock()
	var next *Item
	if c.current == nil && len(c.queue) > 0 {
		it := c.queue[0]
		c.queue = c.queue[1:]
		c.current = &it
		next = &it
	}
	c.mu.Unlock()
	if next != nil {
		if err := c.load(*next); err != nil {
			return err
		}
	}
	return c.send("set_property", "pause", false)
}

func (c *Controller) load(it Item) error {
	c.opts.Logger.Debug("loading item", slog.String("url", it.URL), slog.String("title", it.Title))
	title := it.Title
	if it.Artist != "" {
		title = it.Artist + " - " + it.Title
	}
	if title != "" {
		_ = c.send("set_property", "force-media-title", title)
	}
	c.mu.Lock()
	c.starting, c.entryID = true, 0
	changed := c.setStateLocked(StateLoading)
	c.mu.Unlock()
	if changed {
		c.emit(Event{Kind: EventStateChanged, State: StateLoading})
	}
	if err := c.send("loadfile", it.URL, "replace"); err != nil {
		c.opts.Logger.Error("failed to send loadfile", slog.Any("err", err))
		return err
	}
	return nil
}

func (c *Controller) Pause() error {
	return c.send("set_property", "pause", true)
}

// SeekTo seeks to an absolute position in seconds.
func (c *Controller) SeekTo(seconds float64) error {
	c.opts.Logger.Debug("seeking", slog.Float64("seconds", seconds))
	return c.send("seek", seconds, "absolute")
}

func (c *Controller) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, nil
}

func (c *Controller) Progress() (Progress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Progress{Position: c.timePos, Duration: c.duration}, nil
}

func (c *Controller) Stop() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}

	if c.conn != nil {
		b, _ := json.Marshal(map[string]any{"command": []any{"quit"}})
		_, _ = c.conn.Write(append(b, '\n'))
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
		c.cmd = nil
	}
	return nil
}

func (c *Controller) emit(evt Event) {
	select {
	case c.events <- evt:
	case <-c.done:
	}
}

// setStateLocked updates the state and reports whether it changed. c.mu must
// be held.
func (c *Controller) setStateLocked(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	return true
}

func (c *Controller) readLoop() {
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	if conn == nil {
		close(c.events)
		return
	}
	defer close(c.events)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			c.opts.Logger.Debug("undecodable mpv message", slog.Any("err", err))
			continue
		}
		for _, evt := range c.handle(msg) {
			c.emit(evt)
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-c.done:
		default:
			c.emit(Event{Kind: EventPlaybackError, Err: fmt.Errorf("mpv ipc: %w", err)})
		}
	}
}

type ipcMessage struct {
	Event     string   `json:"event"`
	Name      string   `json:"name"`
	Data      any      `json:"data"`
	Reason    string   `json:"reason"`     // end-file: "eof", "stop", "quit", "error", "redirect"
	FileError string   `json:"file_error"` // end-file with reason "error"
	Args      []string `json:"args"`       // client-message

	PlaylistEntryID int64 `json:"playlist_entry_id"` // start-file, end-file
}

// handle applies an mpv message to the controller state and returns the
// events it produces.
func (c *Controller) handle(msg ipcMessage) []Event {
	switch msg.Event {
	case "property-change":
		return c.handlePropertyChange(msg)
	case "file-loaded", "playback-restart":
		c.mu.Lock()
		s := StatePlaying
		if c.pausedP {
			s = StatePaused
		}
		changed := c.setStateLocked(s)
		c.mu.Unlock()
		if changed {
			return []Event{{Kind: EventStateChanged, State: s}}
		}
	case "start-file":
		c.mu.Lock()
		if c.current != nil {
			c.starting = false
			c.entryID = msg.PlaylistEntryID
		}
		c.mu.Unlock()
	case "end-file":
		return c.handleEndFile(msg)
	case "client-message":
		if evt, ok := parseClientMessage(msg.Args); ok {
			return []Event{evt}
		}
	}
	return nil
}

// staleEndFileLocked reports whether an end-file message belongs to a file
// that was replaced before mpv reported its end. c.mu must be held.
func (c *Controller) staleEndFileLocked(msg ipcMessage) bool {
	if c.current == nil || c.starting {
		return true
	}
	return msg.PlaylistEntryID != 0 && c.entryID != 0 && msg.PlaylistEntryID != c.entryID
}

func (c *Controller) handleEndFile(msg ipcMessage) []Event {
	c.mu.Lock()
	stale := c.staleEndFileLocked(msg)
	c.mu.Unlock()
	if stale {
		c.opts.Logger.Debug("ignoring end-file for replaced file", slog.String("reason", msg.Reason), slog.Int64("entry_id", msg.PlaylistEntryID))
		return nil
	}
	switch msg.Reason {
	case "eof":
		c.mu.Lock()
		c.current = nil
		var next *Item
		if len(c.queue) > 0 {
			it := c.queue[0]
			c.queue = c.queue[1:]
			c.current = &it
			next = &it
		}
		if next == nil {
			c.setStateLocked(StateEnded)
		}
		c.mu.Unlock()
		if next != nil {
			if err := c.load(*next); err != nil {
				return []Event{{Kind: EventPlaybackError, Err: err}}
			}
			return nil
		}
		return []Event{{Kind: EventStateChanged, State: StateEnded}, {Kind: EventQueueEnded}}
	case "error":
		c.mu.Lock()
		c.current = nil
		c.setStateLocked(StateError)
		c.mu.Unlock()
		reason := msg.FileError
		if reason == "" {
			reason = "unknown error"
		}
		return []Event{
			{Kind: EventStateChanged, State: StateError},
			{Kind: EventPlaybackError, Err: fmt.Errorf("mpv: %s", reason)},
		}
	}
	// "stop" is emitted when a new file replaces the current one or on Reset.
	return nil
}

func (c *Controller) handlePropertyChange(msg ipcMessage) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var newState State
	changed := false
	switch msg.Name {
	case "time-pos":
		if v, ok := toFloat(msg.Data); ok {
			c.timePos = v
		}
	case "duration":
		if v, ok := toFloat(msg.Data); ok {
			c.duration = v
		} else {
			c.duration = 0
		}
	case "pause":
		b, ok := msg.Data.(bool)
		if !ok {
			return nil
		}
		c.pausedP = b
		if c.state == StatePlaying || c.state == StatePaused || c.state == StateBuffering {
			newState = StatePlaying
			if b {
				newState = StatePaused
			}
			changed = c.setStateLocked(newState)
		}
	case "paused-for-cache":
		b, ok := msg.Data.(bool)
		if !ok {
			return nil
		}
		if b && (c.state == StatePlaying || c.state == StateLoading) {
			newState = StateBuffering
			changed = c.setStateLocked(newState)
		} else if !b && c.state == StateBuffering {
			newState = StatePlaying
			if c.pausedP {
				newState = StatePaused
			}
			changed = c.setStateLocked(newState)
		}
	}
	if changed {
		return []Event{{Kind: EventStateChanged, State: newState}}
	}
	return nil
}

// parseClientMessage maps "script-message discombobulate <verb> [arg]" to a
// remote-control event.
func parseClientMessage(args []string) (Event, bool) {
	if len(args) < 2 || args[0] != ClientMessageTarget {
		return Event{}, false
	}
	switch strings.ToLower(args[1]) {
	case "play":
		return Event{Kind: EventRemotePlay}, true
	case "pause":
		return Event{Kind: EventRemotePause}, true
	case "next":
		return Event{Kind: EventRemoteNext}, true
	case "previous", "prev":
		return Event{Kind: EventRemotePrevious}, true
	case "stop":
		return Event{Kind: EventRemoteStop}, true
	case "seek":
		if len(args) < 3 {
			return Event{}, false
		}
		pos, err := strconv.ParseFloat(args[2], 64)
		if err != nil || pos < 0 {
			return Event{}, false
		}
		return Event{Kind: EventRemoteSeek, Position: pos}, true
	}
	return Event{}, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
