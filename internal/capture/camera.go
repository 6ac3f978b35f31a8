// Package capture provides webcam capture using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture settings.
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when reading from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrEmptyFrame is returned when the device hands back an empty image.
	ErrEmptyFrame = errors.New("captured frame is empty")
)

// Constraints describes the video stream requested from the device.
type Constraints struct {
	DeviceID int
	Width    int
	Height   int
	FPS      int
}

// DefaultConstraints requests 640x480 at 30fps from the first device.
func DefaultConstraints() Constraints {
	return Constraints{
		DeviceID: 0,
		Width:    DefaultWidth,
		Height:   DefaultHeight,
		FPS:      DefaultFPS,
	}
}

// withDefaults fills zero fields with the package defaults.
func (c Constraints) withDefaults() Constraints {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	return c
}

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	constraints Constraints
	capture     *gocv.VideoCapture
	mu          sync.Mutex
	running     bool
}

// NewCamera creates a Camera for the given constraints. The device is not
// touched until Open.
func NewCamera(c Constraints) Camera {
	return &cameraImpl{
		constraints: c.withDefaults(),
	}
}

// Open acquires the device and applies the requested resolution and rate.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.constraints.DeviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.constraints.DeviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open camera %d: device unavailable", c.constraints.DeviceID)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.constraints.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.constraints.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.constraints.FPS))

	c.capture = capture
	c.running = true

	return nil
}

// Close releases the device.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}

	return &mat, nil
}

// SetFPS sets the capture rate. Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.constraints.FPS = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current capture rate.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.constraints.FPS
}

// IsOpen returns true if the camera is currently open.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
