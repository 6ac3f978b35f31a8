package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/moodwall/internal/emotion"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	faces []Face
	err   error
	calls int
	mu    sync.Mutex
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetFaces sets the faces that will be returned by Detect.
func (m *MockDetector) SetFaces(faces ...Face) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = faces
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured faces or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]Face, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.faces, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// FaceWith returns a centered 640x480-frame face carrying the given scores.
func FaceWith(scores emotion.Scores) Face {
	return Face{
		Box:         image.Rect(220, 140, 420, 340),
		Score:       0.95,
		Expressions: scores,
	}
}

// HappyFace returns a face whose dominant expression is happy.
func HappyFace() Face {
	return FaceWith(emotion.Scores{emotion.Happy: 0.9, emotion.Neutral: 0.1, emotion.Sad: 0.0})
}

// SadFace returns a face whose dominant expression is sad.
func SadFace() Face {
	return FaceWith(emotion.Scores{emotion.Happy: 0.05, emotion.Neutral: 0.15, emotion.Sad: 0.8})
}

// NeutralFace returns a face whose dominant expression is neutral.
func NeutralFace() Face {
	return FaceWith(emotion.Scores{emotion.Happy: 0.1, emotion.Neutral: 0.85, emotion.Sad: 0.05})
}
