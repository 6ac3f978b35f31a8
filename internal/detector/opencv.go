package detector

import (
	"fmt"
	"image"
	"math"
	"os"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/moodwall/internal/emotion"
)

// ferInputSize is the square grayscale input expected by FER+.
const ferInputSize = 64

// ferPlusLabels is the FER+ output order. Empty entries are dropped.
var ferPlusLabels = [...]emotion.Label{
	emotion.Neutral,
	emotion.Happy,
	emotion.Surprised,
	emotion.Sad,
	emotion.Angry,
	emotion.Disgusted,
	emotion.Fearful,
	"", // contempt
}

// OpenCVDetector runs YuNet for faces and FER+ for expressions, both
// through OpenCV's DNN module.
type OpenCVDetector struct {
	faces       gocv.FaceDetectorYN
	expressions gocv.Net
	config      Config
	mu          sync.Mutex
}

// NewOpenCVDetector loads both model bundles. Errors wrap ErrModelLoad.
func NewOpenCVDetector(cfg Config) (*OpenCVDetector, error) {
	facePath := cfg.faceModelPath()
	exprPath := cfg.expressionModelPath()

	for _, p := range []string{facePath, exprPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, p, err)
		}
	}

	net := gocv.ReadNet(exprPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("%w: %s: unreadable network", ErrModelLoad, exprPath)
	}

	faces := gocv.NewFaceDetectorYNWithParams(
		facePath,
		"",
		image.Pt(320, 320), // resized per frame
		float32(cfg.MinConfidence),
		0.3,  // NMS threshold
		5000, // top K
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &OpenCVDetector{
		faces:       faces,
		expressions: net,
		config:      cfg,
	}, nil
}

// Detect finds faces in a BGR frame and scores each one.
func (d *OpenCVDetector) Detect(frame *gocv.Mat) ([]Face, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	d.faces.SetInputSize(bounds.Max)

	rows := gocv.NewMat()
	defer rows.Close()
	d.faces.Detect(*frame, &rows)

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	// YuNet rows: x, y, w, h, 5 landmark pairs, score.
	faces := make([]Face, 0, rows.Rows())
	for r := 0; r < rows.Rows(); r++ {
		x := int(rows.GetFloatAt(r, 0))
		y := int(rows.GetFloatAt(r, 1))
		w := int(rows.GetFloatAt(r, 2))
		h := int(rows.GetFloatAt(r, 3))
		score := float64(rows.GetFloatAt(r, 14))

		box := image.Rect(x, y, x+w, y+h).Intersect(bounds)
		if box.Empty() {
			continue
		}

		scores, err := d.classify(gray, box)
		if err != nil {
			return nil, err
		}

		faces = append(faces, Face{Box: box, Score: score, Expressions: scores})
	}

	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Score > faces[j].Score
	})

	return faces, nil
}

// classify runs FER+ on one face region of a grayscale frame.
func (d *OpenCVDetector) classify(gray gocv.Mat, box image.Rectangle) (emotion.Scores, error) {
	roi := gray.Region(box)
	defer roi.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(roi, &resized, image.Pt(ferInputSize, ferInputSize), 0, 0, gocv.InterpolationLinear)

	blob := gocv.BlobFromImage(resized, 1.0, image.Pt(ferInputSize, ferInputSize), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	d.expressions.SetInput(blob, "")
	out := d.expressions.Forward("")
	defer out.Close()

	if out.Total() < len(ferPlusLabels) {
		return nil, fmt.Errorf("expression model returned %d values, want %d", out.Total(), len(ferPlusLabels))
	}

	logits := make([]float64, len(ferPlusLabels))
	for i := range logits {
		logits[i] = float64(out.GetFloatAt(0, i))
	}

	return labelScores(softmax(logits)), nil
}

// Close releases both networks.
func (d *OpenCVDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faces.Close()
	return d.expressions.Close()
}

// softmax converts raw logits into probabilities.
func softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(v - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	return probs
}

// labelScores pairs FER+ probabilities with their labels.
func labelScores(probs []float64) emotion.Scores {
	scores := make(emotion.Scores, len(ferPlusLabels))
	for i, p := range probs {
		if i >= len(ferPlusLabels) {
			break
		}
		if l := ferPlusLabels[i]; l != "" {
			scores[l] = p
		}
	}
	return scores
}
