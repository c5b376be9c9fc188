package githubapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	transportErrorTemplateConstant         = "%s %s failure (status %d): %s"
	transportErrorWithoutStatusTemplate    = "%s %s failure: %s"
	authenticationErrorTemplateConstant    = "%s authentication rejected (status %d): %s"
	rateLimitExceededErrorTemplateConstant = "%s rate limit still exceeded after %d attempts: %v"
	responseDecodingErrorTemplateConstant  = "%s response decoding failed: %s"
	payloadEncodingErrorTemplateConstant   = "%s payload encoding failed: %s"
	invalidInputErrorTemplateConstant      = "%s: %s"
	graphQLErrorTemplateConstant           = "graphql error: %s"
	unknownTransportFailureMessageConstant = "unknown failure"
	credentialMissingMessageConstant       = "github credential not configured"
	requestNotConfiguredMessageConstant    = "request not configured"
	validationCodesPathConstant            = "errors.#.code"
	alreadyExistsCodeConstant              = "already_exists"
	alreadyExistsMessageFragmentConstant   = "already exists"
	alreadyTakenMessageFragmentConstant    = "already been taken"
	transientErrorKindValueConstant        = "transient"
	permanentErrorKindValueConstant        = "permanent"
)

// ErrorKind separates retryable conditions from terminal ones.
type ErrorKind string

// Error kinds reported by TransportError.
const (
	ErrorKindTransient ErrorKind = ErrorKind(transientErrorKindValueConstant)
	ErrorKindPermanent ErrorKind = ErrorKind(permanentErrorKindValueConstant)
)

var (
	// ErrCredentialMissing indicates the client was constructed without a bearer credential.
	ErrCredentialMissing = errors.New(credentialMissingMessageConstant)
	// ErrRequestNotConfigured indicates Execute received a nil request.
	ErrRequestNotConfigured = errors.New(requestNotConfiguredMessageConstant)
)

// TransportError reports a failed remote call that is not an authentication problem.
type TransportError struct {
	Operation  string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Body       []byte
	Cause      error
}

// Error describes the transport failure.
func (transportError TransportError) Error() string {
	message := transportError.Message
	if len(message) == 0 && transportError.Cause != nil {
		message = transportError.Cause.Error()
	}
	if len(message) == 0 {
		message = unknownTransportFailureMessageConstant
	}
	if transportError.StatusCode == 0 {
		return fmt.Sprintf(transportErrorWithoutStatusTemplate, transportError.Operation, transportError.Kind, message)
	}
	return fmt.Sprintf(transportErrorTemplateConstant, transportError.Operation, transportError.Kind, transportError.StatusCode, message)
}

// Unwrap exposes the underlying cause.
func (transportError TransportError) Unwrap() error {
	return transportError.Cause
}

// Transient reports whether the failure may succeed when retried.
func (transportError TransportError) Transient() bool {
	return transportError.Kind == ErrorKindTransient
}

// AuthenticationError reports a rejected or insufficient credential. It is never retried.
type AuthenticationError struct {
	Operation  string
	StatusCode int
	Message    string
}

// Error describes the authentication failure.
func (authenticationError AuthenticationError) Error() string {
	return fmt.Sprintf(authenticationErrorTemplateConstant, authenticationError.Operation, authenticationError.StatusCode, authenticationError.Message)
}

// RateLimitExceededError surfaces only after every retry attempt hit a rate limit.
type RateLimitExceededError struct {
	Operation  string
	Attempts   int
	RetryAfter time.Duration
	Cause      error
}

// Error describes the exhausted rate limit.
func (rateLimitError RateLimitExceededError) Error() string {
	return fmt.Sprintf(rateLimitExceededErrorTemplateConstant, rateLimitError.Operation, rateLimitError.Attempts, rateLimitError.Cause)
}

// Unwrap exposes the last rate-limited attempt.
func (rateLimitError RateLimitExceededError) Unwrap() error {
	return rateLimitError.Cause
}

// ResponseDecodingError indicates an unparseable response body.
type ResponseDecodingError struct {
	Operation string
	Cause     error
}

// Error describes the decoding failure.
func (decodingError ResponseDecodingError) Error() string {
	return fmt.Sprintf(responseDecodingErrorTemplateConstant, decodingError.Operation, decodingError.Cause)
}

// Unwrap exposes the underlying JSON error.
func (decodingError ResponseDecodingError) Unwrap() error {
	return decodingError.Cause
}

// PayloadEncodingError indicates a request body that could not be encoded.
type PayloadEncodingError struct {
	Operation string
	Cause     error
}

// Error describes the encoding failure.
func (encodingError PayloadEncodingError) Error() string {
	return fmt.Sprintf(payloadEncodingErrorTemplateConstant, encodingError.Operation, encodingError.Cause)
}

// Unwrap exposes the underlying error.
func (encodingError PayloadEncodingError) Unwrap() error {
	return encodingError.Cause
}

// InvalidInputError surfaces validation issues for request inputs.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the invalid input.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidInputErrorTemplateConstant, inputError.FieldName, inputError.Message)
}

// GraphQLError is one entry of a GraphQL response errors array.
type GraphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Path    []any  `json:"path"`
}

// Error returns the server-supplied message.
func (graphQLError GraphQLError) Error() string {
	return fmt.Sprintf(graphQLErrorTemplateConstant, graphQLError.Message)
}

// IsTransient reports whether err is a TransportError classified as transient.
func IsTransient(err error) bool {
	var transportError TransportError
	if errors.As(err, &transportError) {
		return transportError.Transient()
	}
	return false
}

// IsAuthentication reports whether err carries an AuthenticationError.
func IsAuthentication(err error) bool {
	var authenticationError AuthenticationError
	return errors.As(err, &authenticationError)
}

// HasValidationCode reports whether err is a permanent TransportError whose body lists code
// among its validation errors.
func HasValidationCode(err error, code string) bool {
	var transportError TransportError
	if !errors.As(err, &transportError) || transportError.Transient() || len(transportError.Body) == 0 {
		return false
	}
	for _, codeResult := range gjson.GetBytes(transportError.Body, validationCodesPathConstant).Array() {
		if codeResult.String() == code {
			return true
		}
	}
	return false
}

// IsAlreadyExists reports whether the server rejected a write because its effect is already present.
func IsAlreadyExists(err error) bool {
	if HasValidationCode(err, alreadyExistsCodeConstant) {
		return true
	}
	var transportError TransportError
	if !errors.As(err, &transportError) || transportError.Transient() {
		return false
	}
	message := strings.ToLower(transportError.Message)
	return strings.Contains(message, alreadyExistsMessageFragmentConstant) || strings.Contains(message, alreadyTakenMessageFragmentConstant)
}
