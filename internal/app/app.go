// Package app wires the camera, expression detector and stabilizer into the
// moodwall detection loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/moodwall/internal/capture"
	"github.com/ayusman/moodwall/internal/config"
	"github.com/ayusman/moodwall/internal/detector"
	"github.com/ayusman/moodwall/internal/emotion"
	"github.com/ayusman/moodwall/internal/overlay"
	"github.com/ayusman/moodwall/internal/plugin"
)

// ErrDetectionUnavailable is returned when the models could not be loaded.
var ErrDetectionUnavailable = errors.New("emotion detection unavailable")

// Lifecycle states reported by Status.
const (
	StateStopped     = "stopped"
	StateStarting    = "starting"
	StateRunning     = "running"
	StateUnavailable = "unavailable"
)

// subscriberBuffer is the per-subscriber queue length. Events beyond it are
// dropped for that subscriber.
const subscriberBuffer = 8

// Config holds configuration options for the application.
type Config struct {
	Detector      detector.Config
	Camera        capture.Constraints
	Interval      time.Duration
	Threshold     time.Duration
	Enabled       bool
	PluginDir     string
	PluginTimeout time.Duration
}

// ConfigFrom converts the loaded settings into an app Config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Detector:      c.DetectorConfig(),
		Camera:        c.Constraints(),
		Interval:      c.Detection.Interval,
		Threshold:     c.Stabilizer.Threshold,
		Enabled:       c.Detection.Enabled,
		PluginDir:     c.Plugins.Dir,
		PluginTimeout: c.Plugins.Timeout,
	}
}

// Option customizes an App.
type Option func(*App)

// WithCamera replaces the device camera.
func WithCamera(c capture.Camera) Option {
	return func(a *App) { a.camera = c }
}

// WithDetector skips model loading and uses d.
func WithDetector(d detector.Detector) Option {
	return func(a *App) {
		a.loadDetector = func(detector.Config) (detector.Detector, error) { return d, nil }
	}
}

// WithDetectorLoader replaces detector.Load.
func WithDetectorLoader(fn func(detector.Config) (detector.Detector, error)) Option {
	return func(a *App) { a.loadDetector = fn }
}

// WithClock replaces time.Now for the detection loop.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// Status is a point-in-time view of the app.
type Status struct {
	State         string        `json:"state"`
	Emotion       emotion.Label `json:"emotion"`
	Observed      emotion.Label `json:"observed"`
	Color         emotion.Color `json:"color"`
	Enabled       bool          `json:"enabled"`
	Faces         int           `json:"faces"`
	CameraError   string        `json:"camera_error,omitempty"`
	DetectorError string        `json:"detector_error,omitempty"`
	SessionID     string        `json:"session_id"`
}

// App is the main application that turns camera frames into mood colors.
type App struct {
	config       Config
	sessionID    string
	camera       capture.Camera
	loadDetector func(detector.Config) (detector.Detector, error)
	detector     detector.Detector
	renderer     *overlay.Renderer
	canvas       *overlay.Canvas
	stabilizer   *emotion.Stabilizer
	pluginMgr    *plugin.Manager
	notifier     *plugin.Notifier
	now          func() time.Time

	mu          sync.RWMutex
	enabled     bool
	onEnabled   []func(enabled bool)
	state       string
	faces       int
	cameraErr   error
	detectorErr error

	subMu   sync.Mutex
	subs    map[int]chan emotion.ColorChange
	nextSub int

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	unsub     func()
}

// New creates a new App instance with the given configuration.
func New(cfg Config, opts ...Option) *App {
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultInterval
	}

	pluginMgr := plugin.NewManager(cfg.PluginDir)

	a := &App{
		config:       cfg,
		sessionID:    uuid.NewString(),
		loadDetector: detector.Load,
		renderer:     overlay.NewRenderer(cfg.Camera.Width, cfg.Camera.Height),
		canvas:       overlay.NewCanvas(),
		stabilizer:   emotion.NewStabilizer(cfg.Threshold),
		pluginMgr:    pluginMgr,
		notifier:     plugin.NewNotifier(pluginMgr, plugin.NewExecutor(cfg.PluginTimeout)),
		now:          time.Now,
		enabled:      cfg.Enabled,
		state:        StateStopped,
		subs:         make(map[int]chan emotion.ColorChange),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.camera == nil {
		a.camera = capture.NewCamera(cfg.Camera)
	}

	return a
}

// Start loads the detector, opens the camera and starts the detection loop.
//
// A detector load failure is fatal: the app reports StateUnavailable and
// Start returns an error wrapping ErrDetectionUnavailable. A camera failure
// is only logged and surfaced in Status. Calling Start while running is a no-op.
func (a *App) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.cancel != nil {
		return nil
	}

	log := logrus.WithField("session", a.sessionID)
	a.setState(StateStarting)

	det, err := a.loadDetector(a.config.Detector)
	if err != nil {
		a.mu.Lock()
		a.state = StateUnavailable
		a.detectorErr = err
		a.mu.Unlock()
		log.WithError(err).Error("emotion detection unavailable")
		return fmt.Errorf("%w: %w", ErrDetectionUnavailable, err)
	}

	// Plugins are optional color sinks
	if err := a.pluginMgr.Discover(); err != nil {
		log.WithError(err).WithField("dir", a.pluginMgr.PluginDir()).Warn("plugin discovery failed")
	} else if n := len(a.pluginMgr.Subscribers(plugin.EventColorChange)); n > 0 {
		log.WithField("plugins", n).Info("color plugins loaded")
	}

	// A missing camera leaves the loop running with nothing to read
	var camErr error
	if err := a.camera.Open(); err != nil {
		camErr = err
		log.WithError(err).Error("camera unavailable")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.detector = det
	a.detectorErr = nil
	a.cameraErr = camErr
	a.state = StateRunning
	a.mu.Unlock()

	// Plugins get commits through their own subscription
	events, unsub := a.Subscribe()
	go a.forwardToPlugins(loopCtx, events)

	a.cancel = cancel
	a.done = done
	a.unsub = unsub

	go a.run(loopCtx, done)

	log.WithFields(logrus.Fields{
		"interval":  a.config.Interval,
		"threshold": a.stabilizer.Threshold(),
	}).Info("detection loop started")
	return nil
}

// Stop halts the detection loop and releases the camera and detector.
// The stabilizer state is discarded.
func (a *App) Stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.cancel == nil {
		return
	}

	a.cancel()
	<-a.done
	a.unsub()
	a.cancel, a.done, a.unsub = nil, nil, nil

	if err := a.camera.Close(); err != nil {
		logrus.WithError(err).Warn("error closing camera")
	}

	a.mu.Lock()
	det := a.detector
	a.detector = nil
	a.state = StateStopped
	a.faces = 0
	a.mu.Unlock()

	if det != nil {
		if err := det.Close(); err != nil {
			logrus.WithError(err).Warn("error closing detector")
		}
	}

	a.stabilizer.Reset()
	logrus.Info("detection loop stopped")
}

// SetEnabled enables or disables emotion detection. A disabled loop keeps
// ticking but leaves all state untouched. Listeners registered with
// OnEnabledChange run when the value actually changes.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	changed := a.enabled != enabled
	a.enabled = enabled
	listeners := append(([]func(bool))(nil), a.onEnabled...)
	a.mu.Unlock()

	if !changed {
		return
	}
	// Run listeners outside the lock so they may call back into the app
	for _, fn := range listeners {
		fn(enabled)
	}
}

// OnEnabledChange registers fn to be called after every change of the
// enabled flag, whichever caller made it.
func (a *App) OnEnabledChange(fn func(enabled bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEnabled = append(a.onEnabled, fn)
}

// IsEnabled returns whether emotion detection is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Subscribe returns a channel receiving every committed ColorChange and a
// function that unsubscribes and closes the channel. Slow subscribers miss
// events rather than blocking the loop.
func (a *App) Subscribe() (<-chan emotion.ColorChange, func()) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	id := a.nextSub
	a.nextSub++
	ch := make(chan emotion.ColorChange, subscriberBuffer)
	a.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subMu.Lock()
			defer a.subMu.Unlock()
			delete(a.subs, id)
			close(ch)
		})
	}
}

func (a *App) publish(ev emotion.ColorChange) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	for id, ch := range a.subs {
		select {
		case ch <- ev:
		default:
			logrus.WithField("subscriber", id).Debug("subscriber full, dropping color change")
		}
	}
}

func (a *App) forwardToPlugins(ctx context.Context, events <-chan emotion.ColorChange) {
	for ev := range events {
		if err := a.notifier.ColorChanged(ctx, ev); err != nil {
			logrus.WithError(err).Debug("color plugins reported errors")
		}
	}
}

// Status returns the current state of the app.
func (a *App) Status() Status {
	snap := a.stabilizer.Snapshot()

	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Status{
		State:     a.state,
		Emotion:   snap.CommittedEmotion,
		Observed:  snap.Current,
		Color:     snap.Committed,
		Enabled:   a.enabled,
		Faces:     a.faces,
		SessionID: a.sessionID,
	}
	if a.cameraErr != nil {
		s.CameraError = a.cameraErr.Error()
	}
	if a.detectorErr != nil {
		s.DetectorError = a.detectorErr.Error()
	}
	return s
}

// Color returns the committed background color.
func (a *App) Color() emotion.Color {
	return a.stabilizer.Snapshot().Committed
}

// SessionID identifies this App instance.
func (a *App) SessionID() string {
	return a.sessionID
}

// Canvas returns the overlay canvas updated on every processed frame.
func (a *App) Canvas() *overlay.Canvas {
	return a.canvas
}

// PluginManager returns the plugin manager.
func (a *App) PluginManager() *plugin.Manager {
	return a.pluginMgr
}

// Detector returns the loaded detector, or nil before Start.
func (a *App) Detector() detector.Detector {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.detector
}

func (a *App) setState(state string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
}
