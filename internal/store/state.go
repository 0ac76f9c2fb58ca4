package store

import "fmt"

// State is a promise lifecycle state.
type State string

// Lifecycle states in order.
const (
	StateCreated         State = "created"
	StateSealed          State = "sealed"
	StateCertified       State = "certified"
	StateChallengeIssued State = "challenge_issued"
	StateSigned          State = "signed"
	StateArtifactBuilt   State = "artifact_built"
)

var lifecycle = []State{
	StateCreated,
	StateSealed,
	StateCertified,
	StateChallengeIssued,
	StateSigned,
	StateArtifactBuilt,
}

// Next returns the state that follows s. ok is false for the final state
// and for unknown states.
func (s State) Next() (next State, ok bool) {
	for i, st := range lifecycle {
		if st == s && i+1 < len(lifecycle) {
			return lifecycle[i+1], true
		}
	}
	return "", false
}

// AtLeast reports whether s is other or a later state.
func (s State) AtLeast(other State) bool {
	return s.index() >= other.index() && other.index() >= 0
}

func (s State) index() int {
	for i, st := range lifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

// TransitionError reports an out-of-order lifecycle transition.
type TransitionError struct {
	PromiseID string
	From, To  State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("promise %s: cannot move from %s to %s", e.PromiseID, e.From, e.To)
}
