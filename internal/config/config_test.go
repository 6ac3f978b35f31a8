package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/ayusman/moodwall/internal/detector"
	"github.com/ayusman/moodwall/internal/emotion"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moodwall.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// isolate keeps the search path away from the developer's real config.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Detection.Interval != DefaultInterval {
		t.Errorf("Detection.Interval = %v, want %v", cfg.Detection.Interval, DefaultInterval)
	}
	if cfg.Stabilizer.Threshold != emotion.DefaultThreshold {
		t.Errorf("Stabilizer.Threshold = %v, want %v", cfg.Stabilizer.Threshold, emotion.DefaultThreshold)
	}
	if !cfg.Detection.Enabled {
		t.Error("detection should be enabled by default")
	}
	if cfg.Detection.Backend != string(detector.BackendOpenCV) {
		t.Errorf("Detection.Backend = %q, want opencv", cfg.Detection.Backend)
	}
	if cfg.Models.Face != detector.DefaultFaceModel || cfg.Models.Expression != detector.DefaultExpressionModel {
		t.Errorf("unexpected model names: %+v", cfg.Models)
	}
	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Errorf("unexpected camera size %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Tray {
		t.Error("tray should be off by default")
	}
}

func TestLoad_SearchPath(t *testing.T) {
	isolate(t)

	if err := os.WriteFile(FileName+".yaml", []byte("server:\n  addr: \":7000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %q, want :7000", cfg.Server.Addr)
	}
}

func TestLoad_File(t *testing.T) {
	isolate(t)

	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
camera:
  device: 2
detection:
  backend: mock
  interval: 25ms
stabilizer:
  threshold: 1s
plugins:
  dir: /tmp/moodwall-plugins
  timeout: 2s
log:
  level: debug
  format: json
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Camera.Device != 2 {
		t.Errorf("Camera.Device = %d, want 2", cfg.Camera.Device)
	}
	if cfg.Detection.Interval != 25*time.Millisecond {
		t.Errorf("Detection.Interval = %v, want 25ms", cfg.Detection.Interval)
	}
	if cfg.Stabilizer.Threshold != time.Second {
		t.Errorf("Stabilizer.Threshold = %v, want 1s", cfg.Stabilizer.Threshold)
	}
	if cfg.Plugins.Dir != "/tmp/moodwall-plugins" || cfg.Plugins.Timeout != 2*time.Second {
		t.Errorf("unexpected plugins: %+v", cfg.Plugins)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log: %+v", cfg.Log)
	}
	// Unset keys keep their defaults.
	if cfg.Camera.FPS != 30 {
		t.Errorf("Camera.FPS = %d, want 30", cfg.Camera.FPS)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)

	path := writeConfig(t, "stabilizer:\n  threshold: 1s\n")
	t.Setenv("MOODWALL_STABILIZER_THRESHOLD", "750ms")
	t.Setenv("MOODWALL_SERVER_ADDR", ":9999")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Stabilizer.Threshold != 750*time.Millisecond {
		t.Errorf("Stabilizer.Threshold = %v, want 750ms", cfg.Stabilizer.Threshold)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Server.Addr = %q, want :9999", cfg.Server.Addr)
	}
}

func TestLoad_Flags(t *testing.T) {
	isolate(t)

	path := writeConfig(t, "server:\n  addr: \":7000\"\ncamera:\n  device: 1\n")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("addr", ":8080", "")
	flags.Int("camera", 0, "")
	flags.Bool("tray", false, "")
	flags.String("log-level", "info", "")
	if err := flags.Parse([]string{"--addr", ":6000", "--tray"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Addr != ":6000" {
		t.Errorf("Server.Addr = %q, want flag value :6000", cfg.Server.Addr)
	}
	if !cfg.Tray {
		t.Error("expected --tray to enable the tray")
	}
	// Unchanged flags do not override the file.
	if cfg.Camera.Device != 1 {
		t.Errorf("Camera.Device = %d, want file value 1", cfg.Camera.Device)
	}
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero threshold", "stabilizer:\n  threshold: 0s\n", "stabilizer.threshold"},
		{"negative interval", "detection:\n  interval: -5ms\n", "detection.interval"},
		{"confidence out of range", "detection:\n  min_confidence: 1.5\n", "min_confidence"},
		{"unknown backend", "detection:\n  backend: tensorflow\n", "unknown detector backend"},
		{"malformed yaml", "server: [\n", "read config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestConfig_Conversions(t *testing.T) {
	isolate(t)

	cfg, err := Load(writeConfig(t, "camera:\n  device: 3\nmodels:\n  dir: /opt/models\ndetection:\n  backend: service\n"), nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	dc := cfg.DetectorConfig()
	if dc.Backend != detector.BackendService || dc.ModelDir != "/opt/models" {
		t.Errorf("unexpected detector config: %+v", dc)
	}
	if dc.FaceModel != detector.DefaultFaceModel {
		t.Errorf("FaceModel = %q", dc.FaceModel)
	}

	cc := cfg.Constraints()
	if cc.DeviceID != 3 || cc.Width != 640 || cc.FPS != 30 {
		t.Errorf("unexpected constraints: %+v", cc)
	}
}

func TestConfig_YAML(t *testing.T) {
	isolate(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() failed: %v", err)
	}
	for _, want := range []string{"stabilizer:", "threshold: 300ms", "interval: 10ms", "addr:"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("YAML output missing %q:\n%s", want, out)
		}
	}
}

func TestValidate_BackendSentinel(t *testing.T) {
	cfg := &Config{
		Detection:  Detection{Backend: "bogus", Interval: time.Millisecond},
		Stabilizer: Stabilizer{Threshold: time.Millisecond},
	}
	if err := cfg.Validate(); !errors.Is(err, detector.ErrUnknownBackend) {
		t.Errorf("Validate() error = %v, want ErrUnknownBackend", err)
	}
}
