package githubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

const (
	graphQLProtocolValueConstant       = "graphql"
	restProtocolValueConstant          = "rest"
	graphQLFeaturesHeaderNameConstant  = "GraphQL-Features"
	graphQLFeaturesSeparatorConstant   = ","
	contentTypeHeaderNameConstant      = "Content-Type"
	contentTypeJSONValueConstant       = "application/json"
	pathSeparatorConstant              = "/"
	querySeparatorConstant             = "?"
	defaultGraphQLOperationNameConst   = "graphql"
	restOperationNameSeparatorConstant = " "
	queryFieldNameConstant             = "query"
	methodFieldNameConstant            = "method"
	pathFieldNameConstant              = "path"
	requiredValueMessageConstant       = "value required"
)

// Protocol identifies the remote endpoint family a request targets.
type Protocol string

// Supported protocols.
const (
	ProtocolGraphQL Protocol = Protocol(graphQLProtocolValueConstant)
	ProtocolREST    Protocol = Protocol(restProtocolValueConstant)
)

// Request is either a GraphQLRequest or a RESTRequest.
type Request interface {
	OperationName() string
	Protocol() Protocol
	newHTTPRequest(executionContext context.Context, endpoints endpointConfiguration) (*http.Request, error)
}

// GraphQLRequest is a query or mutation sent to the GraphQL endpoint.
type GraphQLRequest struct {
	// Name labels the request in logs and errors.
	Name      string
	Query     string
	Variables map[string]any
	// Features lists preview features sent through the GraphQL-Features header.
	Features []string
}

// OperationName returns the request label.
func (request GraphQLRequest) OperationName() string {
	if len(strings.TrimSpace(request.Name)) == 0 {
		return defaultGraphQLOperationNameConst
	}
	return request.Name
}

// Protocol reports ProtocolGraphQL.
func (request GraphQLRequest) Protocol() Protocol {
	return ProtocolGraphQL
}

func (request GraphQLRequest) newHTTPRequest(executionContext context.Context, endpoints endpointConfiguration) (*http.Request, error) {
	if len(strings.TrimSpace(request.Query)) == 0 {
		return nil, InvalidInputError{FieldName: queryFieldNameConstant, Message: requiredValueMessageConstant}
	}

	payload := struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables,omitempty"`
	}{Query: request.Query, Variables: request.Variables}

	encodedPayload, encodingError := json.Marshal(payload)
	if encodingError != nil {
		return nil, PayloadEncodingError{Operation: request.OperationName(), Cause: encodingError}
	}

	httpRequest, requestError := http.NewRequestWithContext(executionContext, http.MethodPost, endpoints.graphQLURL, bytes.NewReader(encodedPayload))
	if requestError != nil {
		return nil, requestError
	}
	httpRequest.Header.Set(contentTypeHeaderNameConstant, contentTypeJSONValueConstant)
	if len(request.Features) > 0 {
		httpRequest.Header.Set(graphQLFeaturesHeaderNameConstant, strings.Join(request.Features, graphQLFeaturesSeparatorConstant))
	}
	return httpRequest, nil
}

// RESTRequest is a call against the REST resource endpoint.
type RESTRequest struct {
	Name   string
	Method string
	// Path is relative to the REST base URL, for example repos/owner/name/labels.
	Path  string
	Query url.Values
	// Body is encoded as JSON when non-nil.
	Body any
}

// OperationName returns the request label, defaulting to the method and path.
func (request RESTRequest) OperationName() string {
	if len(strings.TrimSpace(request.Name)) > 0 {
		return request.Name
	}
	return request.Method + restOperationNameSeparatorConstant + request.Path
}

// Protocol reports ProtocolREST.
func (request RESTRequest) Protocol() Protocol {
	return ProtocolREST
}

func (request RESTRequest) newHTTPRequest(executionContext context.Context, endpoints endpointConfiguration) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(request.Method))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodPut:
	default:
		return nil, InvalidInputError{FieldName: methodFieldNameConstant, Message: request.Method}
	}

	trimmedPath := strings.Trim(strings.TrimSpace(request.Path), pathSeparatorConstant)
	if len(trimmedPath) == 0 {
		return nil, InvalidInputError{FieldName: pathFieldNameConstant, Message: requiredValueMessageConstant}
	}

	targetURL := strings.TrimRight(endpoints.restURL, pathSeparatorConstant) + pathSeparatorConstant + trimmedPath
	if len(request.Query) > 0 {
		targetURL += querySeparatorConstant + request.Query.Encode()
	}

	var bodyReader *bytes.Reader
	if request.Body != nil {
		encodedBody, encodingError := json.Marshal(request.Body)
		if encodingError != nil {
			return nil, PayloadEncodingError{Operation: request.OperationName(), Cause: encodingError}
		}
		bodyReader = bytes.NewReader(encodedBody)
	}

	var httpRequest *http.Request
	var requestError error
	if bodyReader != nil {
		httpRequest, requestError = http.NewRequestWithContext(executionContext, method, targetURL, bodyReader)
	} else {
		httpRequest, requestError = http.NewRequestWithContext(executionContext, method, targetURL, nil)
	}
	if requestError != nil {
		return nil, requestError
	}
	if bodyReader != nil {
		httpRequest.Header.Set(contentTypeHeaderNameConstant, contentTypeJSONValueConstant)
	}
	return httpRequest, nil
}

// RawResponse is the final successful response of a logical call.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type endpointConfiguration struct {
	graphQLURL string
	restURL    string
}
