package issues

import (
	"fmt"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
)

const (
	partialCreationErrorTemplateConstant = "issue %s created but %s failed: %v"
	unknownFieldErrorTemplateConstant    = "project field %q is not defined"
	unsupportedValueErrorTemplate        = "project field %q cannot take a %s value"
	invalidNumberErrorTemplateConstant   = "project field %q expects a number, got %q"
)

// PartialCreationError reports an issue that exists remotely but could not be added to the project.
type PartialCreationError struct {
	IssueID fieldmap.RemoteIdentifier
	Stage   string
	Cause   error
}

// Error describes the partial creation.
func (partialError PartialCreationError) Error() string {
	return fmt.Sprintf(partialCreationErrorTemplateConstant, partialError.IssueID, partialError.Stage, partialError.Cause)
}

// Unwrap exposes the failure of the stage.
func (partialError PartialCreationError) Unwrap() error {
	return partialError.Cause
}

// BatchErrorKind classifies the error for summaries.
func (PartialCreationError) BatchErrorKind() batch.ErrorKind {
	return batch.ErrorKindPartialCreation
}

// FieldValueError reports a project field value the pipeline cannot send.
type FieldValueError struct {
	FieldName string
	Message   string
}

// Error describes the rejected value.
func (valueError FieldValueError) Error() string {
	return valueError.Message
}

// BatchErrorKind classifies the error for summaries.
func (FieldValueError) BatchErrorKind() batch.ErrorKind {
	return batch.ErrorKindInvalidInput
}
