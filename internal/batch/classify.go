package batch

import (
	"context"
	"errors"

	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/githubapi"
	"github.com/temirov/ghmigrate/internal/tabular"
)

// ErrorKind names the category of a failure in results and summaries.
type ErrorKind string

// Error kinds.
const (
	ErrorKindTransient         ErrorKind = "transient"
	ErrorKindPermanent         ErrorKind = "permanent"
	ErrorKindAuthentication    ErrorKind = "authentication"
	ErrorKindRateLimited       ErrorKind = "rate-limited"
	ErrorKindDecoding          ErrorKind = "decoding"
	ErrorKindInvalidInput      ErrorKind = "invalid-input"
	ErrorKindUnmappedValue     ErrorKind = "unmapped-value"
	ErrorKindAmbiguousMapping  ErrorKind = "ambiguous-mapping"
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindDanglingReference ErrorKind = "dangling-reference"
	ErrorKindPartialCreation   ErrorKind = "partial-creation"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindUnknown           ErrorKind = "unknown"
)

// KindedError is implemented by errors of packages that classify themselves.
type KindedError interface {
	error
	BatchErrorKind() ErrorKind
}

// ClassifyError maps err onto an ErrorKind. A nil error has no kind. Authentication
// failures win over every other kind, including kinds of wrapping errors.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var authenticationError githubapi.AuthenticationError
	if errors.As(err, &authenticationError) {
		return ErrorKindAuthentication
	}

	var kindedError KindedError
	if errors.As(err, &kindedError) {
		return kindedError.BatchErrorKind()
	}
	var rateLimitError githubapi.RateLimitExceededError
	if errors.As(err, &rateLimitError) {
		return ErrorKindRateLimited
	}
	var decodingError githubapi.ResponseDecodingError
	if errors.As(err, &decodingError) {
		return ErrorKindDecoding
	}
	var encodingError githubapi.PayloadEncodingError
	if errors.As(err, &encodingError) {
		return ErrorKindInvalidInput
	}
	var inputError githubapi.InvalidInputError
	if errors.As(err, &inputError) {
		return ErrorKindInvalidInput
	}
	var transportError githubapi.TransportError
	if errors.As(err, &transportError) {
		if transportError.Transient() {
			return ErrorKindTransient
		}
		return ErrorKindPermanent
	}
	var unmappedError fieldmap.UnmappedValueError
	if errors.As(err, &unmappedError) {
		return ErrorKindUnmappedValue
	}
	var ambiguousError fieldmap.AmbiguousMappingError
	if errors.As(err, &ambiguousError) {
		return ErrorKindAmbiguousMapping
	}
	var validationError tabular.ValidationError
	if errors.As(err, &validationError) {
		return ErrorKindValidation
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTransient
	default:
		return ErrorKindUnknown
	}
}
