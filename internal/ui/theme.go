package ui

import (
	"sort"

	"github.com/charmbracelet/lipgloss"
)

// DefaultTheme is used when the configured name is unknown.
const DefaultTheme = "dusk"

type Theme struct {
	Name      string
	Accent    lipgloss.Style
	Dim       lipgloss.Style
	Text      lipgloss.Style
	Title     lipgloss.Style
	Error     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Border    lipgloss.Style
	Highlight lipgloss.Style
	// Bar renders the filled part of the progress bar.
	Bar lipgloss.Style
	// Badge renders the playback state label in the status line.
	Badge lipgloss.Style
}

// palette is the set of colors a colored theme is derived from.
type palette struct {
	accent, dim, text, title, err, ok, warn, border lipgloss.Color
}

func (p palette) theme(name string) Theme {
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Theme{
		Name:      name,
		Accent:    fg(p.accent),
		Dim:       fg(p.dim),
		Text:      fg(p.text),
		Title:     fg(p.title).Bold(true),
		Error:     fg(p.err).Bold(true),
		Success:   fg(p.ok).Bold(true),
		Warning:   fg(p.warn).Bold(true),
		Border:    fg(p.border),
		Highlight: fg(p.accent).Bold(true),
		Bar:       fg(p.accent),
		Badge:     lipgloss.NewStyle().Foreground(p.text).Background(p.border).Bold(true).Padding(0, 1),
	}
}

var palettes = map[string]palette{
	"dusk": {
		accent: "#F78FB3", dim: "#5C6080", text: "#DCDCF0", title: "#7FDBCA",
		err: "#FF5F6D", ok: "#8BD49C", warn: "#F5C06F", border: "#5D4B8A",
	},
	"mono": {
		accent: "#FFFFFF", dim: "#666666", text: "#CCCCCC", title: "#FFFFFF",
		err: "#FFFFFF", ok: "#CCCCCC", warn: "#AAAAAA", border: "#444444",
	},
	"phosphor": {
		accent: "#39FF14", dim: "#1E5B12", text: "#2FCC1A", title: "#39FF14",
		err: "#39FF14", ok: "#39FF14", warn: "#2FCC1A", border: "#14400C",
	},
}

// ThemeNames returns the available theme names, sorted.
func ThemeNames() []string {
	names := make([]string, 0, len(palettes)+1)
	for name := range palettes {
		names = append(names, name)
	}
	names = append(names, "nocolor")
	sort.Strings(names)
	return names
}

// GetTheme returns the named theme. noColor forces the NoColor theme and an
// unknown name falls back to DefaultTheme.
func GetTheme(name string, noColor bool) Theme {
	if noColor || name == "nocolor" {
		return NoColor()
	}
	p, ok := palettes[name]
	if !ok {
		name = DefaultTheme
		p = palettes[DefaultTheme]
	}
	return p.theme(name)
}

func ValidTheme(name string) bool {
	if name == "nocolor" {
		return true
	}
	_, ok := palettes[name]
	return ok
}

// NoColor uses only bold, underline and reverse, for NO_COLOR terminals.
func NoColor() Theme {
	reset := lipgloss.NewStyle()
	return Theme{
		Name:      "nocolor",
		Accent:    reset.Bold(true),
		Dim:       reset,
		Text:      reset,
		Title:     reset.Bold(true),
		Error:     reset.Bold(true).Underline(true),
		Success:   reset.Bold(true),
		Warning:   reset.Bold(true),
		Border:    reset,
		Highlight: reset.Reverse(true),
		Bar:       reset.Bold(true),
		Badge:     reset.Reverse(true),
	}
}
