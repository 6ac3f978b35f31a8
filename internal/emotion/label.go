// Package emotion turns per-frame expression scores into a stable background color.
package emotion

// Label names one facial expression reported by the detection engine.
type Label string

// Expression labels. The engine may report any of these; only the
// recognized set below takes part in picking the dominant emotion.
const (
	Happy     Label = "happy"
	Neutral   Label = "neutral"
	Sad       Label = "sad"
	Angry     Label = "angry"
	Fearful   Label = "fearful"
	Disgusted Label = "disgusted"
	Surprised Label = "surprised"
)

// Recognized is the closed set of labels ranked by Dominant, in declaration
// order. Earlier labels win ties.
var Recognized = []Label{Happy, Neutral, Sad}

// Scores maps expression labels to confidence values, typically in [0,1].
// Values are not required to sum to 1. A label absent from a non-empty map
// scores 0.
type Scores map[Label]float64

// Empty reports whether no face contributed to the scores.
func (s Scores) Empty() bool {
	return len(s) == 0
}

// Dominant returns the recognized label with the strictly greatest score.
//
// Neutral's score is the starting baseline, so another label must strictly
// exceed it to be chosen. Labels are visited in Recognized order and only a
// strictly greater score replaces the current best; equal scores keep the
// earlier label.
func Dominant(s Scores) Label {
	best := Neutral
	bestScore := s[Neutral]

	for _, l := range Recognized {
		if score := s[l]; score > bestScore {
			best = l
			bestScore = score
		}
	}

	return best
}

// Top returns the label with the highest score across every label in the map,
// recognized or not. It is used for display only. Ties resolve to the
// lexically smaller label so the result is stable across map iteration.
func Top(s Scores) (Label, float64) {
	var (
		top   Label
		score float64
		found bool
	)
	for l, v := range s {
		if !found || v > score || (v == score && l < top) {
			top, score, found = l, v, true
		}
	}
	return top, score
}
