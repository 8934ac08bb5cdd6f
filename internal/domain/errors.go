package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Code classifies engine failures.
type Code string

const (
	// CodeInvariantViolation is a mint-time economic mismatch. Never retried.
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
	// CodeSettlement covers duplicate outcome, no winners, unauthorized poster. Never retried.
	CodeSettlement Code = "SETTLEMENT_ERROR"
	// CodeSelectionInsufficient means the pot cannot cover a withdrawal yet. Retryable.
	CodeSelectionInsufficient Code = "SELECTION_INSUFFICIENT"
	// CodeConcurrencyConflict is a lost optimistic race on fund selection. Retryable.
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	// CodeDeadlineViolation is a lock after cutoff or a settlement before it. Never retried.
	CodeDeadlineViolation Code = "DEADLINE_VIOLATION"
	// CodeInvalidInput is a malformed request.
	CodeInvalidInput Code = "INVALID_INPUT"
)

// Settlement error reasons, carried in Error.Reason.
const (
	ReasonDuplicateOutcome = "DUPLICATE_OUTCOME"
	ReasonNoWinners        = "NO_WINNERS"
	ReasonUnauthorized     = "UNAUTHORIZED"
	ReasonNoOutcome        = "NO_OUTCOME"
	ReasonNotWinner        = "NOT_WINNER"
	ReasonAlreadyRedeemed  = "ALREADY_REDEEMED"
	ReasonExceedsShare     = "EXCEEDS_SHARE"
	ReasonMarkerSpent      = "MARKER_SPENT"
	ReasonUnclaimed        = "UNCLAIMED_WINNINGS"
)

// Error is a structured engine error: code, human message, machine-readable context.
type Error struct {
	Code    Code
	Reason  string
	Message string
	Context map[string]any
}

// NewError creates an error with the given code.
func NewError(code Code, msg string, ctx map[string]any) *Error {
	return &Error{Code: code, Message: msg, Context: ctx}
}

// NewSettlementError creates a SETTLEMENT_ERROR with a reason.
func NewSettlementError(reason, msg string, ctx map[string]any) *Error {
	return &Error{Code: CodeSettlement, Reason: reason, Message: msg, Context: ctx}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Code))
	if e.Reason != "" {
		sb.WriteString("/")
		sb.WriteString(e.Reason)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// Is matches by code, and by reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Retryable reports whether the caller may retry the operation later.
func (e *Error) Retryable() bool {
	return e.Code == CodeSelectionInsufficient || e.Code == CodeConcurrencyConflict
}

// Sentinels for errors.Is matching.
var (
	ErrInvariantViolation    = &Error{Code: CodeInvariantViolation}
	ErrSettlement            = &Error{Code: CodeSettlement}
	ErrSelectionInsufficient = &Error{Code: CodeSelectionInsufficient}
	ErrConcurrencyConflict   = &Error{Code: CodeConcurrencyConflict}
	ErrDeadlineViolation     = &Error{Code: CodeDeadlineViolation}
	ErrInvalidInput          = &Error{Code: CodeInvalidInput}

	ErrDuplicateOutcome = &Error{Code: CodeSettlement, Reason: ReasonDuplicateOutcome}
	ErrNoWinners        = &Error{Code: CodeSettlement, Reason: ReasonNoWinners}
	ErrUnauthorized     = &Error{Code: CodeSettlement, Reason: ReasonUnauthorized}
	ErrNoOutcome        = &Error{Code: CodeSettlement, Reason: ReasonNoOutcome}
	ErrNotWinner        = &Error{Code: CodeSettlement, Reason: ReasonNotWinner}
	ErrAlreadyRedeemed  = &Error{Code: CodeSettlement, Reason: ReasonAlreadyRedeemed}
	ErrExceedsShare     = &Error{Code: CodeSettlement, Reason: ReasonExceedsShare}
	ErrMarkerSpent      = &Error{Code: CodeSettlement, Reason: ReasonMarkerSpent}
	ErrUnclaimed        = &Error{Code: CodeSettlement, Reason: ReasonUnclaimed}
)
