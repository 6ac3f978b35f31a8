package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/moodwall/internal/emotion"
)

// ServiceDetector delegates detection to an external expression service.
//
// Frames are written to the service's stdin as a 4-byte big-endian length
// followed by JPEG bytes. The service answers each frame with one JSON line.
type ServiceDetector struct {
	config    Config
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	lastUsed  time.Time
	idleTimer *time.Timer
}

// NewServiceDetector locates the service script. The process itself is
// started by Start or lazily on first detection.
func NewServiceDetector(cfg Config) (*ServiceDetector, error) {
	script := findServiceScript(cfg.ServiceScript)
	if script == "" {
		return nil, fmt.Errorf("%w: %s not found", ErrModelLoad, cfg.ServiceScript)
	}
	if cfg.ServiceCommand == "" {
		cfg.ServiceCommand = "python3"
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}

	return &ServiceDetector{
		config: cfg,
		script: script,
	}, nil
}

// Start launches the service process if it is not already running.
func (d *ServiceDetector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureStarted()
}

// Detect sends one frame to the service and returns the faces it reports.
func (d *ServiceDetector) Detect(frame *gocv.Mat) ([]Face, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	// Send the frame: 4-byte length, then the JPEG bytes
	if _, err := d.stdin.Write(length); err != nil {
		return nil, d.restart(fmt.Errorf("write length: %w", err))
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, d.restart(fmt.Errorf("write data: %w", err))
	}

	// One JSON line comes back per frame
	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		return nil, d.restart(fmt.Errorf("read response: %w", err))
	}

	faces, err := parseServiceResponse(line)
	if errors.Is(err, errMalformedResponse) {
		// The stream is out of sync; start over with a fresh process
		return nil, d.restart(err)
	}
	if err != nil {
		return nil, err
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()

	return faces, nil
}

// Close shuts down the service process.
func (d *ServiceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *ServiceDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	cmd := exec.Command(d.config.ServiceCommand, d.script,
		"--model-dir", d.config.ModelDir,
		"--min-confidence", fmt.Sprintf("%.2f", d.config.MinConfidence),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start expression service: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.lastUsed = time.Now()

	return nil
}

// restart drops a broken service process so the next Detect starts a new
// one. It returns cause.
func (d *ServiceDetector) restart(cause error) error {
	if d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	if err := d.shutdown(); err != nil {
		logrus.WithError(err).Debug("expression service exited")
	}
	return cause
}

func (d *ServiceDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *ServiceDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.config.IdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.shutdown(); err != nil {
			logrus.WithError(err).Debug("expression service exited")
		}
	})
}

// findServiceScript resolves name against the working directory, the
// executable's directory and ~/.moodwall.
func findServiceScript(name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name
		}
		return ""
	}

	candidates := []string{name, filepath.Join("..", name)}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), name))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".moodwall", name))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}

// errMalformedResponse means a reply line was not valid JSON.
var errMalformedResponse = errors.New("malformed service response")

// jsonFace is one face as reported by the expression service.
type jsonFace struct {
	Box struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"box"`
	Score       float64            `json:"score"`
	Expressions map[string]float64 `json:"expressions"`
}

func (f jsonFace) toFace() Face {
	scores := make(emotion.Scores, len(f.Expressions))
	for label, v := range f.Expressions {
		scores[emotion.Label(label)] = v
	}
	return Face{
		Box:         image.Rect(f.Box.X, f.Box.Y, f.Box.X+f.Box.Width, f.Box.Y+f.Box.Height),
		Score:       f.Score,
		Expressions: scores,
	}
}

func parseServiceResponse(line []byte) ([]Face, error) {
	var response struct {
		Faces []jsonFace `json:"faces"`
		Error string     `json:"error"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("expression service: %s", response.Error)
	}

	faces := make([]Face, len(response.Faces))
	for i, f := range response.Faces {
		faces[i] = f.toFace()
	}
	return faces, nil
}
