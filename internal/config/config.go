// Package config loads moodwall settings from a YAML file, the environment
// and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/moodwall/internal/capture"
	"github.com/ayusman/moodwall/internal/detector"
	"github.com/ayusman/moodwall/internal/emotion"
	"github.com/ayusman/moodwall/internal/plugin"
)

// EnvPrefix is prepended to every environment override, e.g. MOODWALL_SERVER_ADDR.
const EnvPrefix = "MOODWALL"

// FileName is the config file name searched for without extension.
const FileName = "moodwall"

// DefaultInterval is the detection tick period.
const DefaultInterval = 10 * time.Millisecond

// Config is the full application configuration.
type Config struct {
	Server     Server     `mapstructure:"server" yaml:"server"`
	Camera     Camera     `mapstructure:"camera" yaml:"camera"`
	Detection  Detection  `mapstructure:"detection" yaml:"detection"`
	Models     Models     `mapstructure:"models" yaml:"models"`
	Stabilizer Stabilizer `mapstructure:"stabilizer" yaml:"stabilizer"`
	Plugins    Plugins    `mapstructure:"plugins" yaml:"plugins"`
	Log        Log        `mapstructure:"log" yaml:"log"`
	Tray       bool       `mapstructure:"tray" yaml:"tray"`
}

type Server struct {
	Addr   string `mapstructure:"addr" yaml:"addr"`
	WebDir string `mapstructure:"web_dir" yaml:"web_dir"`
}

type Camera struct {
	Device int `mapstructure:"device" yaml:"device"`
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
	FPS    int `mapstructure:"fps" yaml:"fps"`
}

type Detection struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend        string        `mapstructure:"backend" yaml:"backend"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	MinConfidence  float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	ServiceScript  string        `mapstructure:"service_script" yaml:"service_script"`
	ServiceCommand string        `mapstructure:"service_command" yaml:"service_command"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

type Models struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Face       string `mapstructure:"face" yaml:"face"`
	Expression string `mapstructure:"expression" yaml:"expression"`
}

type Stabilizer struct {
	Threshold time.Duration `mapstructure:"threshold" yaml:"threshold"`
}

type Plugins struct {
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"camera":    "camera.device",
	"tray":      "tray",
	"log-level": "log.level",
	"backend":   "detection.backend",
}

func setDefaults(v *viper.Viper) {
	dc := detector.DefaultConfig()
	cc := capture.DefaultConstraints()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.web_dir", "")

	v.SetDefault("camera.device", cc.DeviceID)
	v.SetDefault("camera.width", cc.Width)
	v.SetDefault("camera.height", cc.Height)
	v.SetDefault("camera.fps", cc.FPS)

	v.SetDefault("detection.enabled", true)
	v.SetDefault("detection.backend", string(dc.Backend))
	v.SetDefault("detection.interval", DefaultInterval)
	v.SetDefault("detection.min_confidence", dc.MinConfidence)
	v.SetDefault("detection.service_script", dc.ServiceScript)
	v.SetDefault("detection.service_command", dc.ServiceCommand)
	v.SetDefault("detection.idle_timeout", dc.IdleTimeout)

	v.SetDefault("models.dir", dc.ModelDir)
	v.SetDefault("models.face", dc.FaceModel)
	v.SetDefault("models.expression", dc.ExpressionModel)

	v.SetDefault("stabilizer.threshold", emotion.DefaultThreshold)

	v.SetDefault("plugins.dir", defaultPluginDir())
	v.SetDefault("plugins.timeout", plugin.DefaultTimeout)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tray", false)
}

func defaultPluginDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "plugins"
	}
	return filepath.Join(home, ".moodwall", "plugins")
}

// Load reads configuration from path, or from moodwall.yaml in the working
// directory or ~/.moodwall when path is empty. A missing search-path file is
// not an error. Environment variables override the file and set flags
// override both. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".moodwall"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the detection loop cannot run with.
func (c *Config) Validate() error {
	if c.Detection.Interval <= 0 {
		return fmt.Errorf("detection.interval must be positive, got %s", c.Detection.Interval)
	}
	if c.Stabilizer.Threshold <= 0 {
		return fmt.Errorf("stabilizer.threshold must be positive, got %s", c.Stabilizer.Threshold)
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("detection.min_confidence must be within [0, 1], got %v", c.Detection.MinConfidence)
	}
	switch detector.Backend(c.Detection.Backend) {
	case detector.BackendOpenCV, detector.BackendService, detector.BackendMock:
	default:
		return fmt.Errorf("%w: %q", detector.ErrUnknownBackend, c.Detection.Backend)
	}
	return nil
}

// DetectorConfig converts the detection and model settings for detector.Load.
func (c *Config) DetectorConfig() detector.Config {
	return detector.Config{
		Backend:         detector.Backend(c.Detection.Backend),
		ModelDir:        c.Models.Dir,
		FaceModel:       c.Models.Face,
		ExpressionModel: c.Models.Expression,
		MinConfidence:   c.Detection.MinConfidence,
		ServiceScript:   c.Detection.ServiceScript,
		ServiceCommand:  c.Detection.ServiceCommand,
		IdleTimeout:     c.Detection.IdleTimeout,
	}
}

// Constraints converts the camera settings for capture.NewCamera.
func (c *Config) Constraints() capture.Constraints {
	return capture.Constraints{
		DeviceID: c.Camera.Device,
		Width:    c.Camera.Width,
		Height:   c.Camera.Height,
		FPS:      c.Camera.FPS,
	}
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
