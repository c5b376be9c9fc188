package migration

import (
	"errors"
	"fmt"
)

const (
	fatalErrorMessageConstant      = "fatal migration failure"
	executorMissingMessageConstant = "remote executor not configured"
	unknownPhaseErrorTemplate      = "unknown phase %q"
	phaseAbortedErrorTemplate      = "%w: phase %s aborted"
	phaseErrorTemplate             = "%s: %v"
	fatalCauseTemplate             = "%w: %w"
)

var (
	// ErrFatal marks failures that stop the run. Test with errors.Is.
	ErrFatal = errors.New(fatalErrorMessageConstant)
	// ErrExecutorNotConfigured indicates a phase needing remote access ran without an executor.
	ErrExecutorNotConfigured = errors.New(executorMissingMessageConstant)
)

// PhaseError reports a phase that could not run or was aborted.
type PhaseError struct {
	Phase Phase
	Cause error
}

// Error describes the failed phase.
func (phaseError PhaseError) Error() string {
	return fmt.Sprintf(phaseErrorTemplate, phaseError.Phase, phaseError.Cause)
}

// Unwrap exposes the cause.
func (phaseError PhaseError) Unwrap() error {
	return phaseError.Cause
}

func fatalPhaseError(phase Phase, cause error) error {
	return PhaseError{Phase: phase, Cause: fmt.Errorf(fatalCauseTemplate, ErrFatal, cause)}
}

func abortedPhaseError(phase Phase) error {
	return PhaseError{Phase: phase, Cause: fmt.Errorf(phaseAbortedErrorTemplate, ErrFatal, phase)}
}
