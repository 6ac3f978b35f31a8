// Package overlay draws face boxes and expression labels onto video frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/moodwall/internal/detector"
	"github.com/ayusman/moodwall/internal/emotion"
)

// Default display size for rendered frames.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

var labelShadow = color.RGBA{A: 255}

// Renderer scales detections to a display size and draws them.
type Renderer struct {
	display   image.Point
	thickness int
}

// NewRenderer creates a Renderer for the given display size.
// Non-positive dimensions use the defaults.
func NewRenderer(width, height int) *Renderer {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &Renderer{
		display:   image.Pt(width, height),
		thickness: 2,
	}
}

// DisplaySize returns the output frame size.
func (r *Renderer) DisplaySize() image.Point {
	return r.display
}

// Render returns a display-sized copy of frame with every face drawn on it.
// The caller owns the returned Mat.
func (r *Renderer) Render(frame *gocv.Mat, faces []detector.Face) (gocv.Mat, error) {
	if frame == nil || frame.Empty() {
		return gocv.NewMat(), detector.ErrEmptyFrame
	}

	src := image.Pt(frame.Cols(), frame.Rows())

	out := gocv.NewMat()
	if src == r.display {
		frame.CopyTo(&out)
	} else {
		gocv.Resize(*frame, &out, r.display, 0, 0, gocv.InterpolationLinear)
	}

	for _, f := range faces {
		box := ScaleBox(f.Box, src, r.display)
		if box.Empty() {
			continue
		}
		c := boxColor(f)
		gocv.Rectangle(&out, box, c, r.thickness)

		text := Label(f)
		if text == "" {
			continue
		}
		org := image.Pt(box.Min.X, box.Min.Y-8)
		if org.Y < 16 {
			org.Y = box.Max.Y + 20
		}
		gocv.PutText(&out, text, org.Add(image.Pt(1, 1)), gocv.FontHersheySimplex, 0.6, labelShadow, r.thickness)
		gocv.PutText(&out, text, org, gocv.FontHersheySimplex, 0.6, c, r.thickness)
	}

	return out, nil
}

// ScaleBox maps a rectangle from one frame size to another.
func ScaleBox(box image.Rectangle, from, to image.Point) image.Rectangle {
	if from.X <= 0 || from.Y <= 0 {
		return image.Rectangle{}
	}
	if from == to {
		return box
	}

	sx := float64(to.X) / float64(from.X)
	sy := float64(to.Y) / float64(from.Y)

	return image.Rect(
		int(float64(box.Min.X)*sx),
		int(float64(box.Min.Y)*sy),
		int(float64(box.Max.X)*sx),
		int(float64(box.Max.Y)*sy),
	)
}

// Label is the text drawn above a face: its top expression and score.
func Label(f detector.Face) string {
	top, score := emotion.Top(f.Expressions)
	if top == "" {
		return ""
	}
	return fmt.Sprintf("%s (%.2f)", top, score)
}

// boxColor tints a face box with the color its dominant emotion would commit.
func boxColor(f detector.Face) color.RGBA {
	if f.Expressions.Empty() {
		return emotion.White.RGBA()
	}
	return emotion.ColorFor(emotion.Dominant(f.Expressions)).RGBA()
}
