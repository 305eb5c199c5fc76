package app

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
)

// PaletteState holds the command palette state.
type PaletteState struct {
	input    string
	matches  []fuzzy.Match
	selected int
	registry *CommandRegistry
}

func NewPaletteState(registry *CommandRegistry) *PaletteState {
	return &PaletteState{registry: registry}
}

func (p *PaletteState) Reset() {
	p.input = ""
	p.matches = nil
	p.selected = 0
}

func (p *PaletteState) Input() string { return p.input }

// SetInput replaces the input and updates matches.
func (p *PaletteState) SetInput(input string) {
	p.input = input
	p.updateMatches()
}

func (p *PaletteState) InsertRunes(rs []rune) {
	p.input += string(rs)
	p.updateMatches()
}

func (p *PaletteState) Backspace() {
	if p.input == "" {
		return
	}
	p.input = dropLastRune(p.input)
	p.updateMatches()
}

func (p *PaletteState) SelectUp() {
	if p.selected > 0 {
		p.selected--
	}
}

func (p *PaletteState) SelectDown() {
	if p.selected < len(p.items())-1 {
		p.selected++
	}
}

// SelectedCommand returns the highlighted command, or nil when nothing
// matches.
func (p *PaletteState) SelectedCommand() *Command {
	items := p.items()
	if p.selected < len(items) {
		return &items[p.selected]
	}
	return nil
}

// items lists every command when the input is empty, otherwise the fuzzy
// matches best first.
func (p *PaletteState) items() []Command {
	if p.input == "" {
		return p.registry.commands
	}
	out := make([]Command, len(p.matches))
	for i, match := range p.matches {
		out[i] = p.registry.commands[match.Index]
	}
	return out
}

func (p *PaletteState) updateMatches() {
	p.selected = 0
	if p.input == "" {
		p.matches = nil
		return
	}
	p.matches = fuzzy.Find(p.input, p.registry.SearchableNames())
}

func (m Model) handlePaletteKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.showPalette = false
	case tea.KeyUp:
		m.palette.SelectUp()
	case tea.KeyDown:
		m.palette.SelectDown()
	case tea.KeyBackspace:
		m.palette.Backspace()
	case tea.KeyEnter:
		m.showPalette = false
		if cmd := m.palette.SelectedCommand(); cmd != nil {
			next, run := cmd.Handler(m)
			return next, run
		}
	case tea.KeyRunes, tea.KeySpace:
		m.palette.InsertRunes(msg.Runes)
	}
	return m, nil
}

// Render renders the command palette overlay.
func (p *PaletteState) Render(m Model) string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Commands"))
	b.WriteString("\n\n")

	input := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Width(40)
	b.WriteString(input.Render(p.input + "│"))
	b.WriteString("\n\n")

	items := p.items()
	if len(items) == 0 {
		b.WriteString(m.theme.Dim.Render("  No matching commands"))
		b.WriteString("\n")
	}

	const maxDisplay = 10
	start := 0
	if p.selected >= maxDisplay {
		start = p.selected - maxDisplay + 1
	}
	end := min(start+maxDisplay, len(items))

	category := ""
	for i := start; i < end; i++ {
		cmd := items[i]
		if p.input == "" && cmd.Category != category {
			category = cmd.Category
			b.WriteString(m.theme.Accent.Render("  " + category))
			b.WriteString("\n")
		}

		prefix := "   "
		if i == p.selected {
			prefix = m.theme.Highlight.Render(" ▸ ")
		}
		name := cmd.Name
		if p.input != "" {
			// Matched indexes refer to SearchableNames, which starts with Name.
			name = highlightMatches(cmd.Name, p.matches[i].MatchedIndexes, m.theme.Accent)
		}
		hint := ""
		if cmd.Keybinding != "" {
			hint = m.theme.Dim.Render(fmt.Sprintf(" [%s]", cmd.Keybinding))
		}
		if i == p.selected {
			b.WriteString(prefix + m.theme.Text.Bold(true).Render(name) + hint)
		} else {
			b.WriteString(prefix + m.theme.Text.Render(name) + hint)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.Dim.Render("  ↑↓ navigate  enter run  esc close"))

	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2).Render(b.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// highlightMatches renders the runes of s at the given byte offsets with
// style.
func highlightMatches(s string, indexes []int, style lipgloss.Style) string {
	if len(indexes) == 0 {
		return s
	}
	hit := make(map[int]bool, len(indexes))
	for _, idx := range indexes {
		hit[idx] = true
	}
	var out strings.Builder
	for i, ch := range s {
		if hit[i] {
			out.WriteString(style.Render(string(ch)))
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}
