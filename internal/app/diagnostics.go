package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/discombobulate/discombobulate/internal/ui"
)

// DiagnosticsState holds diagnostic metrics for the debug overlay.
type DiagnosticsState struct {
	SearchCount       int
	LastSearchLatency time.Duration
	TotalSearchTime   time.Duration

	Failures      int
	LastFailure   string
	LastFailureAt time.Time

	StartTime      time.Time
	MemoryUsage    uint64
	GoroutineCount int
}

func NewDiagnosticsState() *DiagnosticsState {
	return &DiagnosticsState{StartTime: time.Now()}
}

// RecordSearch records the latency of one search round trip.
func (d *DiagnosticsState) RecordSearch(latency time.Duration) {
	d.SearchCount++
	d.LastSearchLatency = latency
	d.TotalSearchTime += latency
}

func (d *DiagnosticsState) AverageSearchLatency() time.Duration {
	if d.SearchCount == 0 {
		return 0
	}
	return d.TotalSearchTime / time.Duration(d.SearchCount)
}

// RecordFailure records a failed operation. source names where it came
// from: an action such as "select", or a bus error source.
func (d *DiagnosticsState) RecordFailure(source string, err error) {
	d.Failures++
	d.LastFailure = source
	if err != nil {
		d.LastFailure = source + ": " + err.Error()
	}
	d.LastFailureAt = time.Now()
}

// Update refreshes runtime stats.
func (d *DiagnosticsState) Update() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	d.MemoryUsage = ms.Alloc
	d.GoroutineCount = runtime.NumGoroutine()
}

func (d *DiagnosticsState) Uptime() time.Duration {
	return time.Since(d.StartTime)
}

// Render renders the diagnostics overlay.
func (d *DiagnosticsState) Render(m Model) string {
	d.Update()
	var b strings.Builder

	b.WriteString(m.theme.Title.Render("Diagnostics"))
	b.WriteString("\n\n")
	b.WriteString(m.theme.Dim.Render("Uptime: "))
	b.WriteString(m.theme.Text.Render(d.Uptime().Round(time.Second).String()))
	b.WriteString("\n\n")

	b.WriteString(m.theme.Accent.Render("Runtime"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Memory: %s\n", humanize.Bytes(d.MemoryUsage))
	fmt.Fprintf(&b, "  Goroutines: %d\n\n", d.GoroutineCount)

	b.WriteString(m.theme.Accent.Render("Search"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Requests: %d\n", d.SearchCount)
	if d.SearchCount > 0 {
		fmt.Fprintf(&b, "  Last latency: %s\n", d.LastSearchLatency.Round(time.Millisecond))
		fmt.Fprintf(&b, "  Avg latency: %s\n", d.AverageSearchLatency().Round(time.Millisecond))
	}
	b.WriteString("\n")

	snap := m.snap
	b.WriteString(m.theme.Accent.Render("Session"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  State: %s\n", snap.PlaybackState)
	if snap.CurrentTrackURL != "" {
		fmt.Fprintf(&b, "  Track: %s\n", ui.Truncate(snap.CurrentTrackURL, 40))
	}
	if snap.Rendition != nil {
		fmt.Fprintf(&b, "  Rendition: %s\n", snap.Rendition)
	}
	fmt.Fprintf(&b, "  Resolving: %v\n", snap.IsLoadingStream)
	fmt.Fprintf(&b, "  Autoplay: %v\n", m.ctrl.AutoplayEnabled())
	fmt.Fprintf(&b, "  History: %d entries\n\n", len(m.history))

	b.WriteString(m.theme.Accent.Render("Failures"))
	b.WriteString("\n")
	if d.Failures == 0 {
		b.WriteString(m.theme.Success.Render("  ● None"))
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "  Count: %d\n", d.Failures)
		b.WriteString(m.theme.Error.Render("  " + ui.Truncate(d.LastFailure, 44)))
		b.WriteString("\n")
		b.WriteString(m.theme.Dim.Render("  " + humanize.Time(d.LastFailureAt)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.Dim.Render("Press ctrl+d to close"))

	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2).Width(52).Render(b.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Right, lipgloss.Top, box)
}
