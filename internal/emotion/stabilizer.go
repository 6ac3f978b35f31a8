package emotion

import (
	"sync"
	"time"
)

// DefaultThreshold is how long a newly observed emotion must stay dominant
// before its color is committed.
const DefaultThreshold = 300 * time.Millisecond

// State is the stabilizer's memory between frames.
//
// HasCandidate is false right after a commit and at startup, until the
// dominant label changes. Current only changes inside Evaluate.
// CommittedEmotion is the label behind Committed, empty before the first commit.
type State struct {
	Current          Label
	CandidateSince   time.Time
	HasCandidate     bool
	Committed        Color
	CommittedEmotion Label
}

// NewState returns the initial state: neutral, no candidate, white background.
func NewState() State {
	return State{
		Current:   Neutral,
		Committed: White,
	}
}

// ColorChange is emitted when a candidate emotion is committed.
type ColorChange struct {
	Emotion Label     `json:"emotion"`
	Color   Color     `json:"color"`
	At      time.Time `json:"at"`
}

// Evaluate advances the state machine by one frame.
//
// An empty score map leaves the state untouched. A change of dominant label
// restarts the candidate timer without emitting. When the same label is seen
// again and at least threshold has passed since the candidate started, the
// color is committed, the candidate cleared and a ColorChange returned.
func Evaluate(state State, scores Scores, now time.Time, threshold time.Duration) (State, *ColorChange) {
	if scores.Empty() {
		return state, nil
	}

	observed := Dominant(scores)
	if observed != state.Current {
		state.Current = observed
		state.CandidateSince = now
		state.HasCandidate = true
		return state, nil
	}

	if !state.HasCandidate || now.Sub(state.CandidateSince) < threshold {
		return state, nil
	}

	state.Committed = ColorFor(state.Current)
	state.CommittedEmotion = state.Current
	state.CandidateSince = time.Time{}
	state.HasCandidate = false

	return state, &ColorChange{
		Emotion: state.Current,
		Color:   state.Committed,
		At:      now,
	}
}

// Stabilizer owns a State and serializes evaluations against it.
type Stabilizer struct {
	threshold time.Duration
	state     State
	mu        sync.Mutex
}

// NewStabilizer creates a Stabilizer in the initial state.
// A non-positive threshold uses DefaultThreshold.
func NewStabilizer(threshold time.Duration) *Stabilizer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Stabilizer{
		threshold: threshold,
		state:     NewState(),
	}
}

// Observe evaluates one frame's scores and reports whether a color was committed.
func (s *Stabilizer) Observe(scores Scores, now time.Time) (ColorChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ev := Evaluate(s.state, scores, now, s.threshold)
	s.state = next
	if ev == nil {
		return ColorChange{}, false
	}
	return *ev, true
}

// Snapshot returns a copy of the current state.
func (s *Stabilizer) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Threshold returns the stabilization threshold in use.
func (s *Stabilizer) Threshold() time.Duration {
	return s.threshold
}

// Reset returns the stabilizer to its initial state.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = NewState()
}
