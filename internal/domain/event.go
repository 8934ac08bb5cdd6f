package domain

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// MaxEventNameLength is the maximum event name length in characters.
const MaxEventNameLength = 50

// EventParams is the triple that parameterizes the stake ledger, the oracle
// settlement and the pot of one event. Changing any field yields a different pot.
type EventParams struct {
	EventID    int64  // external event identifier
	EventName  string // human readable name, at most 50 characters
	CutoffTime int64  // lock cutoff, Unix timestamp in milliseconds
}

// Validate checks the event parameters.
func (p EventParams) Validate() error {
	if p.EventName == "" {
		return NewError(CodeInvalidInput, "event name is empty", nil)
	}
	if n := utf8.RuneCountInString(p.EventName); n > MaxEventNameLength {
		return NewError(CodeInvalidInput, "event name too long", map[string]any{
			"length": n,
			"max":    MaxEventNameLength,
		})
	}
	if p.CutoffTime <= 0 {
		return NewError(CodeInvalidInput, "cutoff time must be positive", map[string]any{
			"cutoff_time": p.CutoffTime,
		})
	}
	return nil
}

// String returns a compact representation for logs.
func (p EventParams) String() string {
	return fmt.Sprintf("%d/%s@%d", p.EventID, p.EventName, p.CutoffTime)
}

// Outcome is the predicted or winning result of an event.
type Outcome int

const (
	OutcomeTie  Outcome = 0
	OutcomeHome Outcome = 1
	OutcomeAway Outcome = 2
)

// AllOutcomes lists the outcomes in wire order.
var AllOutcomes = []Outcome{OutcomeTie, OutcomeHome, OutcomeAway}

// String returns the label of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeTie:
		return "TIE"
	case OutcomeHome:
		return "HOME"
	case OutcomeAway:
		return "AWAY"
	default:
		return "OUTCOME_" + strconv.Itoa(int(o))
	}
}

// IsValid checks if the outcome is a known value.
func (o Outcome) IsValid() bool {
	return o == OutcomeTie || o == OutcomeHome || o == OutcomeAway
}

// ParseOutcome accepts either the label (TIE/HOME/AWAY) or the wire number.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "TIE", "tie":
		return OutcomeTie, nil
	case "HOME", "home":
		return OutcomeHome, nil
	case "AWAY", "away":
		return OutcomeAway, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !Outcome(n).IsValid() {
		return 0, NewError(CodeInvalidInput, "unknown outcome", map[string]any{"outcome": s})
	}
	return Outcome(n), nil
}
