package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/discombobulate/discombobulate/internal/player"
)

func TestGetTheme(t *testing.T) {
	tests := []struct {
		name     string
		noColor  bool
		expected string
	}{
		{"dusk", false, "dusk"},
		{"mono", false, "mono"},
		{"phosphor", false, "phosphor"},
		{"nocolor", false, "nocolor"},
		{"rainbow", false, DefaultTheme},
		{"dusk", true, "nocolor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			theme := GetTheme(tt.name, tt.noColor)
			if theme.Name != tt.expected {
				t.Errorf("GetTheme(%q, %v) = %q, want %q", tt.name, tt.noColor, theme.Name, tt.expected)
			}
		})
	}
}

func TestColoredThemesHaveForeground(t *testing.T) {
	for _, name := range []string{"dusk", "mono", "phosphor"} {
		if GetTheme(name, false).Accent.GetForeground() == nil {
			t.Errorf("%s should have colors", name)
		}
	}
	if !NoColor().Title.GetBold() {
		t.Error("NoColor should use bold for title")
	}
}

func TestThemeNames(t *testing.T) {
	names := ThemeNames()
	if strings.Join(names, ",") != "dusk,mono,nocolor,phosphor" {
		t.Errorf("unexpected theme names %v", names)
	}
	for _, name := range names {
		if !ValidTheme(name) {
			t.Errorf("ValidTheme(%q) should be true", name)
		}
	}
	if ValidTheme("invalid") {
		t.Error("ValidTheme('invalid') should be false")
	}
}

func TestProgressBar(t *testing.T) {
	theme := NoColor()
	tests := []struct {
		name     string
		pos, dur time.Duration
		filled   int
	}{
		{"half", 50 * time.Second, 100 * time.Second, 5},
		{"unknown duration", 10 * time.Second, 0, 0},
		{"past end", 200 * time.Second, 100 * time.Second, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := theme.ProgressBar(10, tt.pos, tt.dur)
			if got := strings.Count(bar, "━"); got != tt.filled {
				t.Errorf("filled = %d, want %d (%q)", got, tt.filled, bar)
			}
			if got := strings.Count(bar, "─"); got != 10-tt.filled {
				t.Errorf("empty = %d, want %d", got, 10-tt.filled)
			}
		})
	}
}

func TestClock(t *testing.T) {
	tests := map[time.Duration]string{
		0:                  "0:00",
		65 * time.Second:   "1:05",
		-time.Second:       "0:00",
		3723 * time.Second: "1:02:03",
	}
	for in, want := range tests {
		if got := Clock(in); got != want {
			t.Errorf("Clock(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestStateGlyph(t *testing.T) {
	if StateGlyph(player.StatePaused, true) != "||" {
		t.Error("expected ascii pause glyph")
	}
	if StateGlyph(player.StatePlaying, false) != "▶" {
		t.Error("expected play glyph")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("discombobulate", 6); got != "disco…" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
}
