// Package main provides a notification plugin for macOS.
// It posts a Notification Center banner via AppleScript when the mood color changes.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Request represents the input from the plugin executor.
type Request struct {
	Event     string          `json:"event"`
	Emotion   string          `json:"emotion"`
	Color     string          `json:"color"`
	Hex       string          `json:"hex"`
	Timestamp int64           `json:"timestamp"`
	Config    json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the plugin's own settings, taken from plugin.json.
type Config struct {
	Title  string `json:"title"`
	Sound  string `json:"sound"`
	DryRun bool   `json:"dry_run"`
}

func main() {
	resp := handle(os.Stdin, runAppleScript)
	json.NewEncoder(os.Stdout).Encode(resp)
}

// handle decodes one request and posts the notification through run.
func handle(in io.Reader, run func(script string) error) Response {
	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return errorResponse(fmt.Sprintf("failed to decode request: %v", err))
	}

	if req.Event != "color-change" {
		return errorResponse(fmt.Sprintf("unknown event: %s", req.Event))
	}

	cfg := Config{Title: "moodwall"}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return errorResponse(fmt.Sprintf("failed to parse config: %v", err))
		}
	}

	script := buildScript(cfg, req)
	if cfg.DryRun {
		data, _ := json.Marshal(map[string]string{"script": script})
		return Response{Success: true, Data: data}
	}

	if err := run(script); err != nil {
		return errorResponse(fmt.Sprintf("notification failed: %v", err))
	}
	return Response{Success: true}
}

// buildScript returns the AppleScript that shows the notification.
func buildScript(cfg Config, req Request) string {
	msg := fmt.Sprintf("Mood: %s (%s)", req.Emotion, req.Color)

	var b strings.Builder
	fmt.Fprintf(&b, "display notification %s with title %s", quote(msg), quote(cfg.Title))
	if cfg.Sound != "" {
		fmt.Fprintf(&b, " sound name %s", quote(cfg.Sound))
	}
	return b.String()
}

// quote renders s as an AppleScript string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func errorResponse(msg string) Response {
	return Response{Success: false, Error: msg}
}

// runAppleScript executes an AppleScript command and returns any error.
func runAppleScript(script string) error {
	cmd := exec.Command("osascript", "-e", script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
