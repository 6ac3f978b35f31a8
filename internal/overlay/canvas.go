package overlay

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Canvas holds the most recently rendered frame as JPEG bytes.
type Canvas struct {
	jpeg    []byte
	seq     uint64
	updated time.Time
	mu      sync.RWMutex
}

// NewCanvas creates an empty Canvas.
func NewCanvas() *Canvas {
	return &Canvas{}
}

// Update encodes img and replaces the current frame.
func (c *Canvas) Update(img gocv.Mat) error {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	c.mu.Lock()
	c.jpeg = data
	c.seq++
	c.updated = time.Now()
	c.mu.Unlock()

	return nil
}

// Frame returns the current JPEG and its sequence number. The sequence is
// zero until the first Update.
func (c *Canvas) Frame() ([]byte, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jpeg, c.seq
}

// Updated returns when the frame last changed.
func (c *Canvas) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}
