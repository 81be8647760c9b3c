package puzzle

import "fmt"

// ReaderStatus describes one reader's last-seen tag for status reports.
type ReaderStatus struct {
	Reader   int    `json:"reader"`
	LastSeen string `json:"last_seen"`
	Correct  bool   `json:"correct"`
}

// MatchResult is the classification of one cycle's observations.
type MatchResult struct {
	// AllCorrect is true only when every reader currently sees its
	// designated tag. Absence counts as incorrect.
	AllCorrect bool

	// ResetRequested is true if any reader currently sees the reset tag.
	ResetRequested bool

	// StatusChanged is true if any reader's last-seen tag changed.
	StatusChanged bool
}

// TagMatcher classifies reader observations against the deployment's
// correct and reset tags. It owns the per-reader last-seen memory.
type TagMatcher struct {
	correct  []TagID
	reset    TagID
	lastSeen []TagID
}

// NewTagMatcher creates a matcher for len(correct) readers.
func NewTagMatcher(correct []TagID, reset TagID) (*TagMatcher, error) {
	if len(correct) == 0 {
		return nil, fmt.Errorf("tag matcher: at least one reader required")
	}
	for i, id := range correct {
		if id.IsAbsent() {
			return nil, fmt.Errorf("tag matcher: correct tag for reader %d is empty", i)
		}
		if id == reset {
			return nil, fmt.Errorf("tag matcher: correct tag for reader %d equals the reset tag", i)
		}
	}
	return &TagMatcher{
		correct:  append([]TagID{}, correct...),
		reset:    reset,
		lastSeen: make([]TagID, len(correct)),
	}, nil
}

// Readers returns the number of readers the matcher expects.
func (m *TagMatcher) Readers() int {
	return len(m.correct)
}

// Classify evaluates one observation per reader. The aggregate is
// recomputed from scratch on every call.
func (m *TagMatcher) Classify(obs []Observation) MatchResult {
	res := MatchResult{AllCorrect: true}

	for i := range m.correct {
		o := Absent
		if i < len(obs) {
			o = obs[i]
		}

		if !o.Present || o.ID.IsAbsent() {
			if !m.lastSeen[i].IsAbsent() {
				m.lastSeen[i] = NoTag
				res.StatusChanged = true
			}
			res.AllCorrect = false
			continue
		}

		if o.ID != m.lastSeen[i] {
			m.lastSeen[i] = o.ID
			res.StatusChanged = true
		}

		if o.ID != m.correct[i] {
			res.AllCorrect = false
		}

		if o.ID == m.reset {
			res.ResetRequested = true
		}
	}

	return res
}

// Status reports each reader's last-seen tag and whether it is correct.
func (m *TagMatcher) Status() []ReaderStatus {
	out := make([]ReaderStatus, len(m.lastSeen))
	for i, id := range m.lastSeen {
		out[i] = ReaderStatus{
			Reader:   i,
			LastSeen: id.String(),
			Correct:  !id.IsAbsent() && id == m.correct[i],
		}
	}
	return out
}

// Forget clears the last-seen memory of every reader.
func (m *TagMatcher) Forget() {
	for i := range m.lastSeen {
		m.lastSeen[i] = NoTag
	}
}
