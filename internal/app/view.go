package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/discombobulate/discombobulate/internal/player"
	"github.com/discombobulate/discombobulate/internal/provider"
	"github.com/discombobulate/discombobulate/internal/ui"
)

const descriptionLines = 4

func (m Model) View() string {
	if m.showPalette {
		return m.palette.Render(m)
	}
	if m.showDiag {
		return m.diag.Render(m)
	}
	if m.showHelp {
		return m.renderHelp()
	}

	var main string
	switch m.screen {
	case screenSearch:
		main = m.renderSearch()
	case screenHistory:
		main = m.renderHistory()
	case screenNowPlaying:
		main = m.renderNowPlaying()
	}

	top := m.renderTabs()
	status := m.theme.Dim.Render(m.status)
	if m.errorMsg != "" {
		status = m.theme.Error.Render(m.errorMsg)
	}
	return lipgloss.JoinVertical(lipgloss.Left, top, "", main, status, m.renderPlayerBar())
}

func (m Model) renderTabs() string {
	tabs := []string{m.theme.Title.Render("discombobulate")}
	for s := screen(0); s < screenCount; s++ {
		if s == m.screen {
			tabs = append(tabs, m.theme.Highlight.Render(s.String()))
		} else {
			tabs = append(tabs, m.theme.Dim.Render(s.String()))
		}
	}
	autoplay := "autoplay off"
	if m.ctrl.AutoplayEnabled() {
		autoplay = "autoplay on"
	}
	tabs = append(tabs, m.theme.Dim.Render("· "+autoplay))
	return strings.Join(tabs, "  ")
}

func (m Model) cursor(i int) string {
	if i != m.selection {
		return "  "
	}
	if m.noEmoji {
		return "> "
	}
	return "⏵ "
}

func (m Model) listWindow(n int) (int, int) {
	visible := m.height - 8
	if visible < 5 {
		visible = 5
	}
	start := 0
	if m.selection >= visible {
		start = m.selection - visible + 1
	}
	return start, min(start+visible, n)
}

func (m Model) renderSearch() string {
	var b strings.Builder
	prompt := m.query
	if m.typing {
		prompt += "│"
	}
	b.WriteString(m.theme.Title.Render("Search: "))
	b.WriteString(m.theme.Text.Render(prompt))
	b.WriteString("\n\n")

	switch {
	case m.searching:
		b.WriteString(m.theme.Dim.Render("Searching…") + "\n")
	case len(m.results) == 0:
		b.WriteString(m.theme.Dim.Render("No results") + "\n")
	}
	start, end := m.listWindow(len(m.results))
	for i := start; i < end; i++ {
		b.WriteString(m.cursor(i) + m.trackLine(m.results[i]) + "\n")
	}
	return b.String()
}

func (m Model) trackLine(ref provider.TrackRef) string {
	width := m.width - 16
	if width < 20 {
		width = 60
	}
	line := m.theme.Text.Render(ui.Truncate(ref.Title, width))
	if ref.Uploader != "" {
		line += m.theme.Dim.Render(" · " + ref.Uploader)
	}
	if ref.Duration > 0 {
		line += m.theme.Dim.Render(" (" + ui.Clock(ref.Duration) + ")")
	}
	if ref.URL == m.snap.CurrentTrackURL {
		line += m.theme.Accent.Render(" ♪")
	}
	return line
}

func (m Model) renderHistory() string {
	var b strings.Builder
	filter := m.filter
	if m.typing {
		filter += "│"
	}
	b.WriteString(m.theme.Title.Render("Recently played "))
	b.WriteString(m.theme.Dim.Render("filter: "))
	b.WriteString(m.theme.Text.Render(filter))
	b.WriteString("\n\n")

	if len(m.history) == 0 {
		b.WriteString(m.theme.Dim.Render("Nothing played yet") + "\n")
		return b.String()
	}
	if len(m.matches) == 0 {
		b.WriteString(m.theme.Dim.Render("No matches") + "\n")
		return b.String()
	}
	start, end := m.listWindow(len(m.matches))
	for i := start; i < end; i++ {
		match := m.matches[i]
		label := highlightMatches(match.Str, match.MatchedIndexes, m.theme.Accent)
		b.WriteString(m.cursor(i) + m.theme.Text.Render(label) + "\n")
	}
	return b.String()
}

func (m Model) renderNowPlaying() string {
	var b strings.Builder
	snap := m.snap
	if snap.CurrentTrackURL == "" {
		b.WriteString(m.theme.Dim.Render("Nothing playing. Search with / and press enter on a result.") + "\n")
		if snap.ShowStreamInfo {
			b.WriteString("\n" + m.renderStreamInfo())
		}
		return b.String()
	}

	title, uploader := snap.CurrentTrack.Title, snap.CurrentTrack.Uploader
	if snap.Metadata != nil {
		if snap.Metadata.Title != "" {
			title = snap.Metadata.Title
		}
		if snap.Metadata.UploaderName != "" {
			uploader = snap.Metadata.UploaderName
		}
	}
	b.WriteString(m.theme.Accent.Render(title) + "\n")
	if uploader != "" {
		b.WriteString(m.theme.Text.Render(uploader) + "\n")
	}
	if snap.Metadata != nil && snap.Metadata.ViewCount > 0 {
		b.WriteString(m.theme.Dim.Render(humanize.Comma(snap.Metadata.ViewCount)+" views") + "\n")
	}
	if snap.IsLoadingStream {
		b.WriteString(m.theme.Warning.Render("Resolving stream…") + "\n")
	}
	if snap.LastError != "" {
		b.WriteString(m.theme.Error.Render(snap.LastError) + "\n")
	}
	b.WriteString("\n")

	width := max(m.width-4, 10)
	b.WriteString(m.theme.ProgressBar(width, snap.Position, snap.Duration) + "\n")
	b.WriteString(m.theme.Dim.Render(ui.Clock(snap.Position)+" / "+ui.Clock(snap.Duration)) + "\n")

	if snap.ShowStreamInfo {
		b.WriteString("\n" + m.renderStreamInfo())
	} else {
		b.WriteString("\n" + m.renderUpNext())
	}
	return b.String()
}

func (m Model) renderUpNext() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Up next") + m.theme.Dim.Render("  enter to play") + "\n")
	if len(m.upNext) == 0 {
		b.WriteString(m.theme.Dim.Render("Looking for related tracks…") + "\n")
		return b.String()
	}
	start, end := m.listWindow(len(m.upNext))
	for i := start; i < end; i++ {
		b.WriteString(m.cursor(i) + m.trackLine(m.upNext[i]) + "\n")
	}
	return b.String()
}

func (m Model) renderStreamInfo() string {
	var b strings.Builder
	input := m.urlInput
	if m.typing && m.screen == screenNowPlaying {
		input += "│"
	}
	b.WriteString(m.theme.Title.Render("Inspect URL: "))
	b.WriteString(m.theme.Text.Render(input))
	b.WriteString(m.theme.Dim.Render("  u to type, esc to return") + "\n\n")

	if m.inspecting {
		b.WriteString(m.theme.Dim.Render("Resolving…") + "\n")
		return b.String()
	}
	if m.inspected != nil {
		res := m.inspected
		b.WriteString(m.renderMetadata(&res.Metadata, res.Rendition, false, false))
		return b.String()
	}
	snap := m.snap
	if snap.Metadata == nil {
		b.WriteString(m.theme.Dim.Render("Stream info is not available yet") + "\n")
		return b.String()
	}
	b.WriteString(m.renderMetadata(snap.Metadata, snap.Rendition, snap.RenditionOverridden, true))
	return b.String()
}

// renderMetadata lists a stream's details and renditions. active is marked
// as chosen; selectable adds the list cursor.
func (m Model) renderMetadata(meta *provider.StreamMetadata, active *provider.AudioRendition, overridden, selectable bool) string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Stream") + "\n")
	if !selectable && meta.Title != "" {
		b.WriteString(m.theme.Accent.Render(meta.Title) + "\n")
		if meta.UploaderName != "" {
			b.WriteString(m.theme.Text.Render(meta.UploaderName) + "\n")
		}
		if meta.ViewCount > 0 {
			b.WriteString(m.theme.Dim.Render(humanize.Comma(meta.ViewCount)+" views") + "\n")
		}
	}
	if meta.SourceURL != "" {
		b.WriteString(m.theme.Dim.Render(meta.SourceURL) + "\n")
	}
	if desc := strings.TrimSpace(meta.Description); desc != "" {
		lines := strings.Split(desc, "\n")
		if len(lines) > descriptionLines {
			lines = append(lines[:descriptionLines], "…")
		}
		b.WriteString(m.theme.Text.Render(strings.Join(lines, "\n")) + "\n")
	}

	audio := m.theme.Title.Render("Audio")
	if selectable {
		audio += m.theme.Dim.Render("  enter to switch")
	}
	b.WriteString("\n" + audio + "\n")
	if len(meta.AudioRenditions) == 0 {
		b.WriteString(m.theme.Dim.Render("  no audio renditions") + "\n")
	}
	for i, r := range meta.AudioRenditions {
		line := r.String()
		if active != nil && r.URL == active.URL {
			marker := " (auto)"
			if overridden {
				marker = " (selected)"
			}
			line = m.theme.Accent.Render(line + marker)
		}
		prefix := "  "
		if selectable {
			prefix = m.cursor(i)
		}
		b.WriteString(prefix + line + "\n")
	}
	if len(meta.VideoRenditions) > 0 {
		res := make([]string, 0, len(meta.VideoRenditions))
		for _, v := range meta.VideoRenditions {
			if v.Resolution != "" {
				res = append(res, v.Resolution)
			}
		}
		b.WriteString("\n" + m.theme.Dim.Render(fmt.Sprintf("Video: %d renditions %s", len(meta.VideoRenditions), strings.Join(res, " "))) + "\n")
	}
	return b.String()
}

func (m Model) renderHelp() string {
	lines := []string{
		m.theme.Title.Render("Help"),
		"",
		m.theme.Accent.Render("Global"),
		"  tab/shift+tab : Switch screens",
		"  ctrl+p or :   : Command palette",
		"  ctrl+d        : Diagnostics",
		"  ?             : Toggle help",
		"  q / ctrl+c    : Quit",
		"",
		m.theme.Accent.Render("Player"),
		"  space         : Play/Pause",
		"  n / p         : Next related / Previous track",
		"  h / l         : Seek back / forward",
		"  0-9           : Jump to 0%-90%",
		"  s             : Stop",
		"  a             : Toggle autoplay",
		"  i             : Stream info and renditions",
		"  u             : Inspect any video URL",
		"",
		m.theme.Accent.Render("Lists"),
		"  /             : Type a query or history filter",
		"  j / k         : Move selection down / up",
		"  enter         : Play / play up next / switch rendition",
		"  C             : Clear history (History screen)",
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderPlayerBar() string {
	snap := m.snap
	state := snap.PlaybackState
	if snap.IsLoadingStream {
		state = player.StateLoading
	}
	name := "(stopped)"
	if snap.CurrentTrackURL != "" {
		name = snap.CurrentTrack.Title
		if snap.CurrentTrack.Uploader != "" {
			name = snap.CurrentTrack.Uploader + " · " + name
		}
	}
	progress := ""
	if snap.Duration > 0 {
		progress = " " + ui.Clock(snap.Position) + "/" + ui.Clock(snap.Duration)
	}
	rendition := ""
	if snap.Rendition != nil {
		rendition = m.theme.Dim.Render("  " + snap.Rendition.String())
	}
	return m.theme.Badge.Render(ui.StateGlyph(state, m.noEmoji)+" "+state.String()) + " " +
		m.theme.Text.Render(name) + m.theme.Dim.Render(progress) + rendition
}
