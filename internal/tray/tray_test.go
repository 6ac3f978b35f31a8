package tray

import (
	"testing"

	"github.com/ayusman/moodwall/internal/emotion"
)

func TestTitles(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"enabled", toggleTitle(true), "● Detecting"},
		{"disabled", toggleTitle(false), "○ Paused"},
		{"no mood", moodTitle(""), "Mood: none"},
		{"happy", moodTitle(emotion.Happy), "Mood: happy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// Menu items are nil until the tray runs, so the handlers must work without them.
func TestTray_HandlersBeforeRun(t *testing.T) {
	tr := New(true)

	var toggled []bool
	tr.OnToggle(func(enabled bool) { toggled = append(toggled, enabled) })

	opened := 0
	tr.OnOpenUI(func() { opened++ })

	tr.handleToggle()
	tr.handleToggle()
	tr.handleOpenUI()

	if len(toggled) != 2 || toggled[0] != false || toggled[1] != true {
		t.Errorf("toggle callbacks = %v, want [false true]", toggled)
	}
	if opened != 1 {
		t.Errorf("open callbacks = %d, want 1", opened)
	}
	if !tr.IsEnabled() {
		t.Error("expected tray enabled after two toggles")
	}

	tr.SetEnabled(false)
	if tr.IsEnabled() {
		t.Error("SetEnabled(false) not applied")
	}

	tr.SetMood(emotion.Sad)
	if tr.Mood() != emotion.Sad {
		t.Errorf("Mood() = %q, want sad", tr.Mood())
	}
}

func TestTray_ToggleAfterExternalChange(t *testing.T) {
	tr := New(true)

	var toggled []bool
	tr.OnToggle(func(enabled bool) { toggled = append(toggled, enabled) })

	// Detection paused elsewhere; one click must resume it.
	tr.SetEnabled(false)
	tr.handleToggle()

	if len(toggled) != 1 || !toggled[0] {
		t.Errorf("toggle callbacks = %v, want [true]", toggled)
	}
	if !tr.IsEnabled() {
		t.Error("expected tray enabled after one click")
	}
}
