package batch

import (
	"errors"
	"strings"

	"github.com/temirov/ghmigrate/internal/fieldmap"
)

const (
	statusSucceededValueConstant           = "succeeded"
	statusSucceededWithErrorsValueConstant = "succeeded-with-errors"
	statusNoOpValueConstant                = "no-op"
	statusFailedValueConstant              = "failed"
	subErrorMessageSeparatorConstant       = "; "
)

// Status is the outcome of one operation.
type Status string

// Operation statuses.
const (
	StatusSucceeded           Status = statusSucceededValueConstant
	StatusSucceededWithErrors Status = statusSucceededWithErrorsValueConstant
	StatusNoOp                Status = statusNoOpValueConstant
	StatusFailed              Status = statusFailedValueConstant
)

// StageError records a failed stage of an otherwise successful operation.
type StageError struct {
	Stage   string    `json:"stage" yaml:"stage"`
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
	Err     error     `json:"-" yaml:"-"`
}

// NewStageError classifies err for stage.
func NewStageError(stage string, err error) StageError {
	stageError := StageError{Stage: stage, Kind: ClassifyError(err), Err: err}
	if err != nil {
		stageError.Message = err.Error()
	}
	return stageError
}

// OperationResult describes the outcome of one item.
type OperationResult struct {
	Key         string                    `json:"key" yaml:"key"`
	Status      Status                    `json:"status" yaml:"status"`
	RemoteID    fieldmap.RemoteIdentifier `json:"remoteId,omitempty" yaml:"remoteId,omitempty"`
	ErrorKind   ErrorKind                 `json:"errorKind,omitempty" yaml:"errorKind,omitempty"`
	Message     string                    `json:"message,omitempty" yaml:"message,omitempty"`
	FailedStage string                    `json:"failedStage,omitempty" yaml:"failedStage,omitempty"`
	SubErrors   []StageError              `json:"subErrors,omitempty" yaml:"subErrors,omitempty"`
	Err         error                     `json:"-" yaml:"-"`
}

// Succeeded reports a fully successful operation.
func Succeeded(key string, remoteID fieldmap.RemoteIdentifier) OperationResult {
	return OperationResult{Key: key, Status: StatusSucceeded, RemoteID: remoteID}
}

// NoOp reports an operation that required no remote write.
func NoOp(key string, remoteID fieldmap.RemoteIdentifier) OperationResult {
	return OperationResult{Key: key, Status: StatusNoOp, RemoteID: remoteID}
}

// Failed reports an operation that failed at stage.
func Failed(key string, stage string, err error) OperationResult {
	result := OperationResult{Key: key, Status: StatusFailed, FailedStage: stage, ErrorKind: ClassifyError(err), Err: err}
	if err != nil {
		result.Message = err.Error()
	}
	return result
}

// Completed reports a successful operation whose secondary stages may have failed.
// Without sub-errors the result is a plain success.
func Completed(key string, remoteID fieldmap.RemoteIdentifier, subErrors []StageError) OperationResult {
	if len(subErrors) == 0 {
		return Succeeded(key, remoteID)
	}
	messages := make([]string, 0, len(subErrors))
	stageErrors := make([]error, 0, len(subErrors))
	for _, subError := range subErrors {
		messages = append(messages, subError.Stage+": "+subError.Message)
		stageErrors = append(stageErrors, subError.Err)
	}
	return OperationResult{
		Key:       key,
		Status:    StatusSucceededWithErrors,
		RemoteID:  remoteID,
		Message:   strings.Join(messages, subErrorMessageSeparatorConstant),
		SubErrors: append([]StageError{}, subErrors...),
		Err:       errors.Join(stageErrors...),
	}
}

// IsSuccess reports whether the primary effect of the operation happened or was already present.
func (result OperationResult) IsSuccess() bool {
	return result.Status != StatusFailed
}

// HasErrorKind reports whether the result or one of its failed stages has kind.
func (result OperationResult) HasErrorKind(kind ErrorKind) bool {
	if result.ErrorKind == kind {
		return true
	}
	for _, subError := range result.SubErrors {
		if subError.Kind == kind {
			return true
		}
	}
	return false
}
