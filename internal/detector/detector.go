// Package detector finds faces in video frames and scores their expressions.
package detector

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/moodwall/internal/emotion"
)

var (
	// ErrModelLoad is returned when a model bundle cannot be loaded.
	// Detection cannot run without both bundles.
	ErrModelLoad = errors.New("model load failed")
	// ErrEmptyFrame is returned when Detect is given a nil or empty frame.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrUnknownBackend is returned by Load for an unrecognized backend name.
	ErrUnknownBackend = errors.New("unknown detector backend")
)

// Face is one detected face with its expression scores.
type Face struct {
	Box         image.Rectangle `json:"box"`
	Score       float64         `json:"score"`
	Expressions emotion.Scores  `json:"expressions"`
}

// Detector defines the interface for face + expression detection.
type Detector interface {
	// Detect analyzes a video frame and returns detected faces, most
	// confident first. Returns an empty slice if no face is found.
	Detect(frame *gocv.Mat) ([]Face, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Backend selects a Detector implementation.
type Backend string

const (
	BackendOpenCV  Backend = "opencv"
	BackendService Backend = "service"
	BackendMock    Backend = "mock"
)

// Model bundle file names looked up under Config.ModelDir.
const (
	DefaultFaceModel       = "face_detection_yunet_2023mar.onnx"
	DefaultExpressionModel = "emotion-ferplus-8.onnx"
)

// Config holds configuration options for detection.
type Config struct {
	Backend Backend

	// ModelDir holds the two model bundles.
	ModelDir        string
	FaceModel       string
	ExpressionModel string

	// MinConfidence is the minimum face detection score (0.0-1.0).
	MinConfidence float64

	// ServiceScript is the expression service started by BackendService.
	ServiceScript string
	// ServiceCommand is the interpreter used to run ServiceScript.
	ServiceCommand string
	// IdleTimeout stops the service process after this long without frames.
	IdleTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Backend:         BackendOpenCV,
		ModelDir:        "models",
		FaceModel:       DefaultFaceModel,
		ExpressionModel: DefaultExpressionModel,
		MinConfidence:   0.6,
		ServiceScript:   "scripts/expression_service.py",
		ServiceCommand:  "python3",
		IdleTimeout:     30 * time.Second,
	}
}

func (c Config) faceModelPath() string {
	return filepath.Join(c.ModelDir, c.FaceModel)
}

func (c Config) expressionModelPath() string {
	return filepath.Join(c.ModelDir, c.ExpressionModel)
}

// Load builds the configured detector, loading its model assets up front.
// A returned error means detection is unavailable for this run.
func Load(cfg Config) (Detector, error) {
	log := logrus.WithField("backend", cfg.Backend)

	switch cfg.Backend {
	case BackendOpenCV, "":
		d, err := NewOpenCVDetector(cfg)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"face_model":       cfg.faceModelPath(),
			"expression_model": cfg.expressionModelPath(),
		}).Info("models loaded")
		return d, nil

	case BackendService:
		d, err := NewServiceDetector(cfg)
		if err != nil {
			return nil, err
		}
		if err := d.Start(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
		}
		log.WithField("script", d.script).Info("expression service started")
		return d, nil

	case BackendMock:
		log.Warn("using mock detector, no faces will be reported")
		return NewMockDetector(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
