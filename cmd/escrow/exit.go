package main

import (
	"errors"
	"flag"

	"parimutuel-escrow/internal/domain"
)

// Exit codes. Domain errors map to one code per error kind.
const (
	exitOK                    = 0
	exitInternal              = 1
	exitUsage                 = 2
	exitInvalidInput          = 3
	exitInvariantViolation    = 4
	exitSettlement            = 5
	exitSelectionInsufficient = 6
	exitConcurrencyConflict   = 7
	exitDeadlineViolation     = 8
)

// usageError marks malformed command lines.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return exitOK
	}

	var uerr usageError
	if errors.As(err, &uerr) {
		return exitUsage
	}

	var derr *domain.Error
	if !errors.As(err, &derr) {
		return exitInternal
	}
	switch derr.Code {
	case domain.CodeInvalidInput:
		return exitInvalidInput
	case domain.CodeInvariantViolation:
		return exitInvariantViolation
	case domain.CodeSettlement:
		return exitSettlement
	case domain.CodeSelectionInsufficient:
		return exitSelectionInsufficient
	case domain.CodeConcurrencyConflict:
		return exitConcurrencyConflict
	case domain.CodeDeadlineViolation:
		return exitDeadlineViolation
	default:
		return exitInternal
	}
}
