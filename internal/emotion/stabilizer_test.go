package emotion

import (
	"sync"
	"testing"
	"time"
)

const testThreshold = 300 * time.Millisecond

var (
	t0        = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	happyFace = Scores{Happy: 0.9, Neutral: 0.1, Sad: 0.0}
	sadFace   = Scores{Happy: 0.0, Neutral: 0.2, Sad: 0.8}
	calmFace  = Scores{Happy: 0.1, Neutral: 0.8, Sad: 0.1}
)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func TestNewState(t *testing.T) {
	s := NewState()
	if s.Current != Neutral {
		t.Errorf("Current = %q, want %q", s.Current, Neutral)
	}
	if s.HasCandidate {
		t.Error("HasCandidate should be false initially")
	}
	if s.Committed != White {
		t.Errorf("Committed = %v, want %v", s.Committed, White)
	}
}

func TestEvaluate_ConcreteScenario(t *testing.T) {
	state := NewState()

	// tick 1: label changes, timer starts
	state, ev := Evaluate(state, happyFace, at(0), testThreshold)
	if ev != nil {
		t.Fatalf("tick1: unexpected event %+v", ev)
	}
	if state.Current != Happy || !state.HasCandidate || !state.CandidateSince.Equal(at(0)) {
		t.Fatalf("tick1: state = %+v, want happy candidate since t=0", state)
	}

	// tick 2: same label, threshold not reached
	state, ev = Evaluate(state, happyFace, at(250), testThreshold)
	if ev != nil {
		t.Fatalf("tick2: unexpected event %+v", ev)
	}
	if !state.HasCandidate || !state.CandidateSince.Equal(at(0)) {
		t.Fatalf("tick2: candidate should stay at t=0, got %+v", state)
	}

	// tick 3: threshold reached, commit
	state, ev = Evaluate(state, happyFace, at(300), testThreshold)
	if ev == nil {
		t.Fatal("tick3: expected a color change")
	}
	if ev.Color != Green || ev.Emotion != Happy || !ev.At.Equal(at(300)) {
		t.Errorf("tick3: event = %+v, want green/happy at t=300", ev)
	}
	if state.Committed != Green || state.CommittedEmotion != Happy {
		t.Errorf("tick3: committed = %v/%v, want green/happy", state.CommittedEmotion, state.Committed)
	}
	if state.HasCandidate {
		t.Error("tick3: candidate should be cleared after commit")
	}
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	start := State{Current: Sad, CandidateSince: at(1000), HasCandidate: true, Committed: Green}

	t.Run("one millisecond short does not commit", func(t *testing.T) {
		got, ev := Evaluate(start, sadFace, at(1000).Add(testThreshold-time.Millisecond), testThreshold)
		if ev != nil {
			t.Fatalf("unexpected event %+v", ev)
		}
		if got != start {
			t.Errorf("state changed: got %+v, want %+v", got, start)
		}
	})

	t.Run("exactly the threshold commits", func(t *testing.T) {
		got, ev := Evaluate(start, sadFace, at(1000).Add(testThreshold), testThreshold)
		if ev == nil {
			t.Fatal("expected a color change")
		}
		if got.Committed != Red {
			t.Errorf("Committed = %v, want red", got.Committed)
		}
		if got.HasCandidate {
			t.Error("candidate should be cleared")
		}
		if got.Current != Sad {
			t.Errorf("Current = %q, want %q", got.Current, Sad)
		}
	})
}

func TestEvaluate_EmptyScoresAreNoOp(t *testing.T) {
	states := []State{
		NewState(),
		{Current: Happy, CandidateSince: at(0), HasCandidate: true, Committed: White},
		{Current: Sad, Committed: Red},
	}
	times := []time.Time{at(0), at(299), at(300), at(100000)}

	for _, s := range states {
		for _, now := range times {
			for _, scores := range []Scores{nil, {}} {
				got, ev := Evaluate(s, scores, now, testThreshold)
				if ev != nil {
					t.Errorf("Evaluate(%+v, empty, %v) emitted %+v", s, now, ev)
				}
				if got != s {
					t.Errorf("Evaluate(%+v, empty, %v) = %+v, want unchanged", s, now, got)
				}
			}
		}
	}
}

func TestEvaluate_EmptyScoresDoNotResetTimer(t *testing.T) {
	state, _ := Evaluate(NewState(), happyFace, at(0), testThreshold)
	state, _ = Evaluate(state, nil, at(150), testThreshold)
	state, ev := Evaluate(state, happyFace, at(300), testThreshold)
	if ev == nil || ev.Color != Green {
		t.Fatalf("expected green commit after a face-less tick, got %+v", ev)
	}
}

func TestEvaluate_NoRepeatCommitWithinStreak(t *testing.T) {
	state, _ := Evaluate(NewState(), happyFace, at(0), testThreshold)
	state, ev := Evaluate(state, happyFace, at(300), testThreshold)
	if ev == nil {
		t.Fatal("expected first commit")
	}

	for _, ms := range []int{301, 600, 5000} {
		var next State
		next, ev = Evaluate(state, happyFace, at(ms), testThreshold)
		if ev != nil {
			t.Errorf("t=%d: unexpected second commit %+v", ms, ev)
		}
		if next != state {
			t.Errorf("t=%d: state changed to %+v", ms, next)
		}
	}
}

func TestEvaluate_LabelChangeRestartsStreak(t *testing.T) {
	state, _ := Evaluate(NewState(), happyFace, at(0), testThreshold)
	state, ev := Evaluate(state, happyFace, at(300), testThreshold)
	if ev == nil {
		t.Fatal("expected happy commit")
	}

	// interrupted by sad before its threshold
	state, _ = Evaluate(state, sadFace, at(400), testThreshold)
	if state.Current != Sad || !state.CandidateSince.Equal(at(400)) {
		t.Fatalf("sad should start a candidate at t=400, got %+v", state)
	}

	// back to a previously committed emotion: the timer restarts
	state, ev = Evaluate(state, happyFace, at(500), testThreshold)
	if ev != nil {
		t.Fatalf("label change must not emit, got %+v", ev)
	}
	if !state.CandidateSince.Equal(at(500)) {
		t.Errorf("CandidateSince = %v, want t=500", state.CandidateSince)
	}
	if state.Committed != Green {
		t.Errorf("Committed should remain green until the next commit, got %v", state.Committed)
	}

	state, ev = Evaluate(state, happyFace, at(799), testThreshold)
	if ev != nil {
		t.Fatalf("committed too early: %+v", ev)
	}
	_, ev = Evaluate(state, happyFace, at(800), testThreshold)
	if ev == nil || ev.Color != Green {
		t.Fatalf("expected green commit at t=800, got %+v", ev)
	}
}

func TestEvaluate_ChangeNeverEmitsEvenWithZeroThreshold(t *testing.T) {
	state, ev := Evaluate(NewState(), happyFace, at(0), 0)
	if ev != nil {
		t.Fatalf("label change emitted %+v", ev)
	}
	_, ev = Evaluate(state, happyFace, at(0), 0)
	if ev == nil {
		t.Fatal("expected commit on the next tick with zero threshold")
	}
}

func TestEvaluate_NeutralAtStartupNeverCommits(t *testing.T) {
	state := NewState()
	for ms := 0; ms <= 2000; ms += 100 {
		var ev *ColorChange
		state, ev = Evaluate(state, calmFace, at(ms), testThreshold)
		if ev != nil {
			t.Fatalf("t=%d: unexpected commit %+v", ms, ev)
		}
	}
	if state.HasCandidate {
		t.Error("no candidate should exist while neutral never changed")
	}
}

func TestEvaluate_NeutralCommitsRedAfterChange(t *testing.T) {
	state, _ := Evaluate(NewState(), happyFace, at(0), testThreshold)
	state, _ = Evaluate(state, calmFace, at(100), testThreshold)
	_, ev := Evaluate(state, calmFace, at(400), testThreshold)
	if ev == nil || ev.Color != Red || ev.Emotion != Neutral {
		t.Fatalf("expected red/neutral commit, got %+v", ev)
	}
}

func TestStabilizer_Observe(t *testing.T) {
	s := NewStabilizer(testThreshold)

	if _, ok := s.Observe(happyFace, at(0)); ok {
		t.Fatal("first observation should not commit")
	}
	if _, ok := s.Observe(happyFace, at(250)); ok {
		t.Fatal("should not commit before threshold")
	}
	ev, ok := s.Observe(happyFace, at(300))
	if !ok || ev.Color != Green {
		t.Fatalf("Observe() = (%+v, %v), want green commit", ev, ok)
	}

	snap := s.Snapshot()
	if snap.Committed != Green || snap.HasCandidate {
		t.Errorf("Snapshot() = %+v", snap)
	}

	s.Reset()
	if s.Snapshot() != NewState() {
		t.Errorf("Reset() did not restore initial state: %+v", s.Snapshot())
	}
}

func TestNewStabilizer_DefaultThreshold(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		if got := NewStabilizer(d).Threshold(); got != DefaultThreshold {
			t.Errorf("NewStabilizer(%v).Threshold() = %v, want %v", d, got, DefaultThreshold)
		}
	}
	if got := NewStabilizer(time.Second).Threshold(); got != time.Second {
		t.Errorf("Threshold() = %v, want 1s", got)
	}
}

func TestStabilizer_ConcurrentObserve(t *testing.T) {
	s := NewStabilizer(testThreshold)

	var wg sync.WaitGroup
	commits := make(chan ColorChange, 100)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ev, ok := s.Observe(happyFace, at(i*20)); ok {
				commits <- ev
			}
		}(i)
	}
	wg.Wait()
	close(commits)

	// Ordering is not deterministic, but the state must stay coherent.
	snap := s.Snapshot()
	if snap.Current != Happy {
		t.Errorf("Current = %q, want %q", snap.Current, Happy)
	}
	for ev := range commits {
		if ev.Color != Green {
			t.Errorf("unexpected commit color %v", ev.Color)
		}
	}
}

func TestStabilizer_SnapshotPairsEmotionAndColor(t *testing.T) {
	s := NewStabilizer(testThreshold)

	steps := []struct {
		scores      Scores
		ms          int
		wantEmotion Label
		wantColor   Color
	}{
		{happyFace, 0, "", White},
		{happyFace, 300, Happy, Green},
		{sadFace, 400, Happy, Green},
		{sadFace, 700, Sad, Red},
	}

	for _, step := range steps {
		s.Observe(step.scores, at(step.ms))
		snap := s.Snapshot()
		if snap.CommittedEmotion != step.wantEmotion || snap.Committed != step.wantColor {
			t.Errorf("t=%d: committed = %q/%v, want %q/%v",
				step.ms, snap.CommittedEmotion, snap.Committed, step.wantEmotion, step.wantColor)
		}
	}

	s.Reset()
	if snap := s.Snapshot(); snap.CommittedEmotion != "" || snap.Committed != White {
		t.Errorf("after Reset committed = %q/%v", snap.CommittedEmotion, snap.Committed)
	}
}
