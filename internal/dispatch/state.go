// Package dispatch executes the suggestions a user accepts.
//
// Every offered suggestion gets a record in the session's offer book and
// moves through a small lifecycle:
//
//	offered -> confirmed -> executing -> succeeded | failed
//	offered -> expired | cancelled
//
// The router guarantees a record is confirmed at most once, so a double
// click never runs an operation twice.
package dispatch

import "fmt"

// --- Lifecycle state enum ---

// State is the lifecycle position of an offered suggestion.
type State string

const (
	StateOffered   State = "offered"
	StateConfirmed State = "confirmed"
	StateExecuting State = "executing"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// transitions lists the allowed next states per state.
var transitions = map[State][]State{
	StateOffered:   {StateConfirmed, StateExpired, StateCancelled},
	StateConfirmed: {StateExecuting, StateExpired, StateFailed},
	StateExecuting: {StateSucceeded, StateFailed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// ValidateState returns an error if s is not a known state.
func ValidateState(s State) error {
	switch s {
	case StateOffered, StateConfirmed, StateExecuting, StateSucceeded, StateFailed, StateExpired, StateCancelled:
		return nil
	}
	return fmt.Errorf("invalid dispatch state %q", s)
}

// --- Transition history ---

// Transition is one recorded state change.
type Transition struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	At     string `json:"at"`
	Reason string `json:"reason,omitempty"`
}

func (o *Offer) move(to State, reason string) error {
	if !CanTransition(o.State, to) {
		return fmt.Errorf("suggestion %s cannot move from %s to %s", o.Instance.ID, o.State, to)
	}
	now := timeNow().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	o.History = append(o.History, Transition{From: o.State, To: to, At: now, Reason: reason})
	o.State = to
	o.UpdatedAt = now
	return nil
}

// finished reports whether the operation behind o actually ran to an outcome.
func (o *Offer) finished() bool {
	return o.State == StateSucceeded || o.State == StateFailed
}
