package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/discombobulate/discombobulate/internal/player"
)

// ProgressBar renders a width-cell bar filled to pos/dur. An unknown
// duration renders an empty bar.
func (t Theme) ProgressBar(width int, pos, dur time.Duration) string {
	if width < 1 {
		return ""
	}
	filled := 0
	if dur > 0 {
		filled = int(float64(width) * pos.Seconds() / dur.Seconds())
	}
	filled = max(0, min(filled, width))
	return t.Bar.Render(strings.Repeat("━", filled)) + t.Dim.Render(strings.Repeat("─", width-filled))
}

// Clock formats d as m:ss, or h:mm:ss past an hour.
func Clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d.Round(time.Second).Seconds())
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, (s/60)%60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// StateGlyph is the short label shown for a playback state.
func StateGlyph(s player.State, noEmoji bool) string {
	if noEmoji {
		switch s {
		case player.StatePlaying:
			return ">"
		case player.StatePaused:
			return "||"
		case player.StateLoading, player.StateBuffering:
			return "..."
		case player.StateError:
			return "!"
		default:
			return "[]"
		}
	}
	switch s {
	case player.StatePlaying:
		return "▶"
	case player.StatePaused:
		return "⏸"
	case player.StateLoading, player.StateBuffering:
		return "⏳"
	case player.StateError:
		return "⚠"
	default:
		return "⏹"
	}
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
