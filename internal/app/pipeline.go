package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/moodwall/internal/emotion"
)

// run is the detection loop. Ticks are handled one at a time on this
// goroutine; time.Ticker drops ticks that arrive while one is still running.
func (a *App) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

// tick reads one frame and processes it. Read and detection failures drop
// the tick.
func (a *App) tick() {
	if !a.IsEnabled() {
		return
	}

	frame, err := a.camera.ReadFrame()
	if err != nil {
		logrus.WithError(err).Trace("frame dropped")
		return
	}
	defer frame.Close()

	if _, err := a.Process(frame, a.now()); err != nil {
		logrus.WithError(err).Debug("tick dropped")
	}
}

// Process runs detection, overlay and stabilization on a single frame.
//
// When detection is disabled nothing is touched. The overlay is redrawn for
// every processed frame whether or not a face was found. Only the first
// face's expressions feed the stabilizer; no face means an empty score map.
// A non-nil ColorChange is returned, and published, when a color commits.
func (a *App) Process(frame *gocv.Mat, now time.Time) (*emotion.ColorChange, error) {
	if !a.IsEnabled() {
		return nil, nil
	}

	det := a.Detector()
	if det == nil {
		return nil, ErrDetectionUnavailable
	}

	faces, err := det.Detect(frame)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	// Redraw the overlay even when no face was found
	if out, err := a.renderer.Render(frame, faces); err != nil {
		out.Close()
		logrus.WithError(err).Debug("overlay skipped")
	} else {
		if err := a.canvas.Update(out); err != nil {
			logrus.WithError(err).Debug("canvas update failed")
		}
		out.Close()
	}

	// Only the most confident face drives the background
	scores := emotion.Scores{}
	if len(faces) > 0 && faces[0].Expressions != nil {
		scores = faces[0].Expressions
	}

	ev, ok := a.stabilizer.Observe(scores, now)

	a.mu.Lock()
	a.faces = len(faces)
	a.mu.Unlock()

	if !ok {
		return nil, nil
	}

	logrus.WithFields(logrus.Fields{
		"emotion": ev.Emotion,
		"color":   ev.Color.Name,
	}).Info("mood color committed")

	a.publish(ev)
	return &ev, nil
}
