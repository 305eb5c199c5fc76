package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Command represents an action that can be invoked via the command palette.
type Command struct {
	ID          string
	Name        string
	Description string
	Category    string
	Keybinding  string
	Handler     func(m Model) (Model, tea.Cmd)
}

// CommandRegistry holds all available commands.
type CommandRegistry struct {
	commands []Command
}

// NewCommandRegistry creates a registry with all available commands.
func NewCommandRegistry() *CommandRegistry {
	r := &CommandRegistry{}

	for _, s := range []screen{screenSearch, screenHistory, screenNowPlaying} {
		r.register(Command{
			ID:          "nav." + s.String(),
			Name:        "Go to " + s.String(),
			Description: "Show the " + s.String() + " screen",
			Category:    "Navigation",
			Handler: func(m Model) (Model, tea.Cmd) {
				m.setScreen(s)
				return m, nil
			},
		})
	}
	r.register(Command{
		ID:          "nav.search_new",
		Name:        "New Search",
		Description: "Type a new search query",
		Category:    "Navigation",
		Keybinding:  "/",
		Handler: func(m Model) (Model, tea.Cmd) {
			m.setScreen(screenSearch)
			m.query = ""
			m.typing = true
			return m, nil
		},
	})

	r.register(Command{
		ID:          "playback.toggle",
		Name:        "Play/Pause",
		Description: "Toggle playback, reloading a stopped track",
		Category:    "Playback",
		Keybinding:  "space",
		Handler: func(m Model) (Model, tea.Cmd) {
			return m, m.actionCmd("toggle", m.ctrl.TogglePlayback)
		},
	})
	r.register(Command{
		ID:          "playback.next",
		Name:        "Next Track",
		Description: "Play a related track",
		Category:    "Playback",
		Keybinding:  "n",
		Handler: func(m Model) (Model, tea.Cmd) {
			return m, m.actionCmd("next", m.ctrl.PlayNext)
		},
	})
	r.register(Command{
		ID:          "playback.prev",
		Name:        "Previous Track",
		Description: "Go back to the previous track",
		Category:    "Playback",
		Keybinding:  "p",
		Handler: func(m Model) (Model, tea.Cmd) {
			return m, m.actionCmd("previous", m.ctrl.PlayPrevious)
		},
	})
	r.register(Command{
		ID:          "playback.stop",
		Name:        "Stop",
		Description: "Stop playback",
		Category:    "Playback",
		Keybinding:  "s",
		Handler: func(m Model) (Model, tea.Cmd) {
			return m, m.actionCmd("stop", func(context.Context) error { return m.ctrl.Stop() })
		},
	})
	r.register(Command{
		ID:          "playback.restart",
		Name:        "Restart Track",
		Description: "Seek to the beginning of the current track",
		Category:    "Playback",
		Keybinding:  "0",
		Handler: func(m Model) (Model, tea.Cmd) {
			return m, m.actionCmd("seek", func(context.Context) error { return m.ctrl.Seek(0) })
		},
	})
	r.register(Command{
		ID:          "playback.autoplay",
		Name:        "Toggle Autoplay",
		Description: "Continue with related tracks when a track ends",
		Category:    "Playback",
		Keybinding:  "a",
		Handler: func(m Model) (Model, tea.Cmd) {
			m.toggleAutoplay()
			return m, nil
		},
	})

	r.register(Command{
		ID:          "stream.inspect",
		Name:        "Stream Info",
		Description: "Show renditions and metadata of the current stream",
		Category:    "Stream",
		Keybinding:  "i",
		Handler: func(m Model) (Model, tea.Cmd) {
			m.toggleInspect()
			return m, nil
		},
	})
	r.register(Command{
		ID:          "stream.inspect_url",
		Name:        "Inspect URL",
		Description: "Show renditions and metadata of any video URL",
		Category:    "Stream",
		Keybinding:  "u",
		Handler: func(m Model) (Model, tea.Cmd) {
			m.startURLInput()
			return m, nil
		},
	})
	r.register(Command{
		ID:          "history.clear",
		Name:        "Clear History",
		Description: "Forget recently played tracks",
		Category:    "History",
		Keybinding:  "C",
		Handler: func(m Model) (Model, tea.Cmd) {
			m.ctrl.ClearHistory(m.ctx)
			m.status = "History cleared"
			return m, m.loadHistoryCmd()
		},
	})

	r.register(Command{
		ID:          "app.diagnostics",
		Name:        "Diagnostics",
		Description: "Show runtime and session diagnostics",
		Category:    "App",
		Keybinding:  "ctrl+d",
		Handler: func(m Model) (Model, tea.Cmd) {
			m.showDiag = !m.showDiag
			return m, nil
		},
	})
	r.register(Command{
		ID:          "app.help",
		Name:        "Help",
		Description: "Show key bindings",
		Category:    "App",
		Keybinding:  "?",
		Handler: func(m Model) (Model, tea.Cmd) {
			m.showHelp = !m.showHelp
			return m, nil
		},
	})
	r.register(Command{
		ID:          "app.quit",
		Name:        "Quit",
		Description: "Exit discombobulate",
		Category:    "App",
		Keybinding:  "q",
		Handler: func(m Model) (Model, tea.Cmd) {
			return m, tea.Quit
		},
	})

	return r
}

func (r *CommandRegistry) register(cmd Command) {
	r.commands = append(r.commands, cmd)
}

// Commands returns all registered commands.
func (r *CommandRegistry) Commands() []Command {
	return r.commands
}

// SearchableNames returns the strings fuzzy matching runs against, one per
// command in registration order.
func (r *CommandRegistry) SearchableNames() []string {
	names := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		names[i] = cmd.Name + " " + cmd.Category
	}
	return names
}

// ByID looks up a command.
func (r *CommandRegistry) ByID(id string) (Command, bool) {
	for _, cmd := range r.commands {
		if cmd.ID == id {
			return cmd, true
		}
	}
	return Command{}, false
}
