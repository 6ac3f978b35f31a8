// Package plugin runs external color-sink plugins when the mood color changes.
package plugin

import "encoding/json"

// EventColorChange is sent to plugins each time a new color is committed.
const EventColorChange = "color-change"

// Manifest describes a plugin's metadata and the events it handles.
type Manifest struct {
	Name          string          `json:"name"`
	Version       string          `json:"version"`
	Description   string          `json:"description"`
	Executable    string          `json:"executable"`
	Events        []string        `json:"events"`
	DefaultConfig json.RawMessage `json:"config,omitempty"`
}

// Handles reports whether the plugin subscribed to event.
func (m Manifest) Handles(event string) bool {
	for _, e := range m.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Request is written to a plugin's stdin as JSON.
type Request struct {
	Event     string          `json:"event"`
	Emotion   string          `json:"emotion"`
	Color     string          `json:"color"`
	Hex       string          `json:"hex"`
	Timestamp int64           `json:"timestamp"`
	Config    json.RawMessage `json:"config"`
}

// Response is read from a plugin's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
