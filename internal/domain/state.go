// Package domain defines the data contracts shared by the classifier, the pacing
// state machine and the glue around them.
package domain

import "fmt"

// AssistantState is the session lifecycle phase.
type AssistantState string

const (
	// StatePregame is the initial phase before play has started.
	StatePregame AssistantState = "PREGAME"
	// StateActive means play is underway and all trigger priorities may surface.
	StateActive AssistantState = "ACTIVE"
	// StateSleep is a pause (break, long GM silence). Only P1 triggers surface.
	StateSleep AssistantState = "SLEEP"
)

// ActivationSource records which mechanism caused the last PREGAME->ACTIVE transition.
type ActivationSource string

const (
	ActivationNone       ActivationSource = ""
	ActivationEngine     ActivationSource = "engine"
	ActivationCommand    ActivationSource = "command"
	ActivationTranscript ActivationSource = "transcript"
)

// GuardResult represents the outcome of a transition guard.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

// CanTransition evaluates whether the assistant may move from one state to another.
// Rules:
// - PREGAME -> ACTIVE
// - ACTIVE -> SLEEP
// - SLEEP -> ACTIVE
func CanTransition(from, to AssistantState) GuardResult {
	switch {
	case from == StatePregame && to == StateActive,
		from == StateActive && to == StateSleep,
		from == StateSleep && to == StateActive:
		return GuardResult{Allowed: true}
	default:
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("illegal transition %s -> %s", from, to),
		}
	}
}
