package app

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	t.Run("has categories", func(t *testing.T) {
		seen := map[string]bool{}
		for _, cmd := range registry.Commands() {
			seen[cmd.Category] = true
		}
		for _, want := range []string{"Navigation", "Playback", "Stream", "History", "App"} {
			if !seen[want] {
				t.Errorf("expected %s category", want)
			}
		}
	})

	t.Run("ids are unique", func(t *testing.T) {
		ids := map[string]bool{}
		for _, cmd := range registry.Commands() {
			if ids[cmd.ID] {
				t.Errorf("duplicate command id %s", cmd.ID)
			}
			ids[cmd.ID] = true
		}
	})

	t.Run("searchable names match commands", func(t *testing.T) {
		if len(registry.SearchableNames()) != len(registry.Commands()) {
			t.Error("expected one searchable name per command")
		}
	})

	t.Run("lookup by id", func(t *testing.T) {
		if _, ok := registry.ByID("playback.autoplay"); !ok {
			t.Error("expected autoplay command")
		}
		if _, ok := registry.ByID("nope"); ok {
			t.Error("unexpected command")
		}
	})
}

func TestPaletteState(t *testing.T) {
	palette := NewPaletteState(NewCommandRegistry())

	t.Run("insert and backspace", func(t *testing.T) {
		palette.Reset()
		palette.InsertRunes([]rune("go"))
		palette.Backspace()
		if palette.Input() != "g" {
			t.Errorf("expected 'g', got %q", palette.Input())
		}
	})

	t.Run("selection navigation", func(t *testing.T) {
		palette.Reset()
		palette.SelectUp()
		if palette.selected != 0 {
			t.Errorf("expected selection to stay at 0, got %d", palette.selected)
		}
		palette.SelectDown()
		if palette.selected != 1 {
			t.Errorf("expected selection at 1, got %d", palette.selected)
		}
	})

	t.Run("fuzzy search filters commands", func(t *testing.T) {
		palette.Reset()
		palette.SetInput("autopl")
		cmd := palette.SelectedCommand()
		if cmd == nil || cmd.ID != "playback.autoplay" {
			t.Fatalf("expected autoplay command first, got %+v", cmd)
		}
	})

	t.Run("no match selects nothing", func(t *testing.T) {
		palette.Reset()
		palette.SetInput("zzzzqqq")
		if palette.SelectedCommand() != nil {
			t.Error("expected no command")
		}
	})
}

func TestPaletteRunsCommand(t *testing.T) {
	ctrl := &fakeController{autoplay: false}
	m := newModel(ctrl)
	m = send(t, m, esc)
	m = send(t, m, tea.KeyMsg{Type: tea.KeyCtrlP})
	if !m.showPalette {
		t.Fatal("expected palette to open")
	}
	if !strings.Contains(m.View(), "Commands") {
		t.Error("expected palette view")
	}
	m = send(t, m, runes("autopl"))
	m = send(t, m, enter)
	if m.showPalette || !ctrl.autoplay {
		t.Errorf("expected autoplay enabled via palette, showPalette=%v", m.showPalette)
	}
}

func TestPaletteEscCloses(t *testing.T) {
	m := newModel(&fakeController{})
	m = send(t, m, esc)
	m = send(t, m, runes(":"))
	m = send(t, m, esc)
	if m.showPalette {
		t.Error("expected palette to close")
	}
}
