// Package tray provides a menu bar interface for moodwall.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/moodwall/internal/emotion"
)

// Tray represents the menu bar application.
type Tray struct {
	onToggle func(enabled bool)
	onOpenUI func()
	onQuit   func()
	enabled  bool
	mood     emotion.Label
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuMood   *systray.MenuItem
}

// New creates a new Tray reflecting the given detection state.
func New(enabled bool) *Tray {
	return &Tray{
		enabled: enabled,
	}
}

// OnToggle sets the callback function to be called when detection is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpenUI sets the callback function to be called when the UI menu item is clicked.
func (t *Tray) OnOpenUI(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpenUI = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the menu bar application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops a running tray.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("moodwall")
	systray.SetTooltip("moodwall emotion background")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle emotion detection")
	systray.AddSeparator()
	t.menuMood = systray.AddMenuItem(moodTitle(t.mood), "Committed mood")
	t.menuMood.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open moodwall...", "Open the mood page in the browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit moodwall")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuOpen.ClickedCh:
				t.handleOpenUI()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleOpenUI() {
	t.mu.RLock()
	callback := t.onOpenUI
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetMood updates the mood display in the menu.
func (t *Tray) SetMood(mood emotion.Label) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.mood = mood
	if t.menuMood != nil {
		t.menuMood.SetTitle(moodTitle(mood))
	}
}

// SetEnabled syncs the toggle with a change made elsewhere.
func (t *Tray) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Mood returns the last mood shown.
func (t *Tray) Mood() emotion.Label {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mood
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Detecting"
	}
	return "○ Paused"
}

func moodTitle(mood emotion.Label) string {
	if mood == "" {
		return "Mood: none"
	}
	return "Mood: " + string(mood)
}
