package githubapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultGraphQLURLConstant            = "https://api.github.com/graphql"
	defaultRESTURLConstant               = "https://api.github.com"
	defaultAPIVersionConstant            = "2022-11-28"
	defaultUserAgentConstant             = "ghmigrate"
	defaultTimeoutConstant               = 60 * time.Second
	defaultPoolSizeConstant              = 10
	authorizationHeaderNameConstant      = "Authorization"
	authorizationBearerPrefixConstant    = "Bearer "
	acceptHeaderNameConstant             = "Accept"
	acceptHeaderValueConstant            = "application/vnd.github+json"
	apiVersionHeaderNameConstant         = "X-GitHub-Api-Version"
	userAgentHeaderNameConstant          = "User-Agent"
	retryAfterHeaderNameConstant         = "Retry-After"
	rateLimitRemainingHeaderNameConstant = "X-RateLimit-Remaining"
	rateLimitResetHeaderNameConstant     = "X-RateLimit-Reset"
	rateLimitExhaustedValueConstant      = "0"
	rateLimitBodyMarkerConstant          = "rate limit"
	graphQLRateLimitedTypeConstant       = "RATE_LIMITED"
	graphQLErrorsPathConstant            = "errors"
	graphQLDataPathConstant              = "data"
	responseMessagePathConstant          = "message"
	graphQLErrorMessageSeparatorConstant = "; "
	rateLimitWaitErrorMessageConstant    = "rate limiter wait interrupted"
	minimumSuccessStatusCodeConstant     = 200
	maximumSuccessStatusCodeConstant     = 299
	minimumServerErrorStatusCodeConstant = 500
	logMessageRequestSucceededConstant   = "GitHub request completed"
	logMessageRequestFailedConstant      = "GitHub request failed"
)

// Configuration describes endpoints, credential and pool settings for a Client.
type Configuration struct {
	GraphQLURL string
	RESTURL    string
	APIVersion string
	UserAgent  string
	// Credential is attached as a bearer token and never logged.
	Credential string
	Timeout    time.Duration
	// PoolSize bounds idle and active connections per host.
	PoolSize int
	// RequestsPerSecond caps request throughput; zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
	Retry             RetryPolicy
}

// ClientDependencies carries optional collaborators. Zero values select production defaults.
type ClientDependencies struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	Observer   AttemptObserver
	Sleep      func(executionContext context.Context, delay time.Duration) error
	Clock      func() time.Time
	// RandomFraction returns values in [0,1) used for jitter.
	RandomFraction func() float64
}

// Client executes GitHub requests with retry, rate limiting and a shared connection pool.
type Client struct {
	endpoints      endpointConfiguration
	apiVersion     string
	userAgent      string
	credential     string
	httpClient     *http.Client
	limiter        *rate.Limiter
	retryPolicy    RetryPolicy
	observer       AttemptObserver
	logger         *zap.Logger
	sleep          func(executionContext context.Context, delay time.Duration) error
	clock          func() time.Time
	randomFraction func() float64
}

// NewClient constructs a Client. The credential is required.
func NewClient(configuration Configuration, dependencies ClientDependencies) (*Client, error) {
	credential := strings.TrimSpace(configuration.Credential)
	if len(credential) == 0 {
		return nil, ErrCredentialMissing
	}

	graphQLURL := strings.TrimSpace(configuration.GraphQLURL)
	if len(graphQLURL) == 0 {
		graphQLURL = defaultGraphQLURLConstant
	}
	restURL := strings.TrimSpace(configuration.RESTURL)
	if len(restURL) == 0 {
		restURL = defaultRESTURLConstant
	}
	apiVersion := strings.TrimSpace(configuration.APIVersion)
	if len(apiVersion) == 0 {
		apiVersion = defaultAPIVersionConstant
	}
	userAgent := strings.TrimSpace(configuration.UserAgent)
	if len(userAgent) == 0 {
		userAgent = defaultUserAgentConstant
	}

	httpClient := dependencies.HTTPClient
	if httpClient == nil {
		httpClient = newPooledHTTPClient(configuration.PoolSize, configuration.Timeout)
	}

	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	observer := dependencies.Observer
	if observer == nil {
		observer = noopAttemptObserver{}
	}

	sleep := dependencies.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	clock := dependencies.Clock
	if clock == nil {
		clock = time.Now
	}

	var limiter *rate.Limiter
	if configuration.RequestsPerSecond > 0 {
		burst := configuration.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(configuration.RequestsPerSecond), burst)
	}

	return &Client{
		endpoints:      endpointConfiguration{graphQLURL: graphQLURL, restURL: restURL},
		apiVersion:     apiVersion,
		userAgent:      userAgent,
		credential:     credential,
		httpClient:     httpClient,
		limiter:        limiter,
		retryPolicy:    configuration.Retry.Sanitize(),
		observer:       observer,
		logger:         logger,
		sleep:          sleep,
		clock:          clock,
		randomFraction: dependencies.RandomFraction,
	}, nil
}

func newPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = defaultPoolSizeConstant
	}
	if timeout <= 0 {
		timeout = defaultTimeoutConstant
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = poolSize
	transport.MaxIdleConnsPerHost = poolSize
	transport.MaxConnsPerHost = poolSize

	return &http.Client{Transport: transport, Timeout: timeout}
}

// Execute performs request, retrying transient failures, and returns the final outcome.
func (client *Client) Execute(executionContext context.Context, request Request) (RawResponse, error) {
	if request == nil {
		return RawResponse{}, ErrRequestNotConfigured
	}

	state := newRetryState(client.retryPolicy, client.randomFraction)
	for {
		if client.limiter != nil {
			if waitError := client.limiter.Wait(executionContext); waitError != nil {
				if contextError := executionContext.Err(); contextError != nil {
					return RawResponse{}, contextError
				}
				return RawResponse{}, TransportError{Operation: request.OperationName(), Kind: ErrorKindPermanent, Message: rateLimitWaitErrorMessageConstant, Cause: waitError}
			}
		}

		response, failure := client.attempt(executionContext, request)
		if failure == nil {
			client.logger.Debug(
				logMessageRequestSucceededConstant,
				zap.String(logFieldOperationConstant, request.OperationName()),
				zap.String(logFieldProtocolConstant, string(request.Protocol())),
				zap.Int(logFieldAttemptConstant, state.attemptCount()+1),
				zap.Int(logFieldStatusCodeConstant, response.StatusCode),
			)
			return response, nil
		}

		if contextError := executionContext.Err(); contextError != nil {
			return RawResponse{}, contextError
		}

		decision := state.recordFailure(*failure)
		client.observer.AttemptFailed(AttemptEvent{
			Operation:   request.OperationName(),
			Protocol:    request.Protocol(),
			Attempt:     state.attemptCount(),
			StatusCode:  failure.statusCode,
			RateLimited: failure.rateLimited,
			Failure:     failure.err,
			WillRetry:   decision.shouldRetry(),
			NextDelay:   decision.delay,
		})

		if !decision.shouldRetry() {
			finalError := client.finalError(request, state, decision, *failure)
			client.logger.Debug(
				logMessageRequestFailedConstant,
				zap.String(logFieldOperationConstant, request.OperationName()),
				zap.Int(logFieldAttemptConstant, state.attemptCount()),
				zap.Error(finalError),
			)
			return RawResponse{}, finalError
		}

		if sleepError := client.sleep(executionContext, decision.delay); sleepError != nil {
			return RawResponse{}, sleepError
		}
	}
}

// ExecuteGraphQL runs a GraphQL request and returns its data member.
func (client *Client) ExecuteGraphQL(executionContext context.Context, request GraphQLRequest) (json.RawMessage, error) {
	response, executionError := client.Execute(executionContext, request)
	if executionError != nil {
		return nil, executionError
	}

	dataResult := gjson.GetBytes(response.Body, graphQLDataPathConstant)
	if !dataResult.Exists() {
		return nil, ResponseDecodingError{Operation: request.OperationName(), Cause: errors.New(graphQLDataPathConstant)}
	}
	return json.RawMessage(dataResult.Raw), nil
}

// QueryGraphQL runs a GraphQL request and decodes its data member into target.
func (client *Client) QueryGraphQL(executionContext context.Context, request GraphQLRequest, target any) error {
	data, executionError := client.ExecuteGraphQL(executionContext, request)
	if executionError != nil {
		return executionError
	}
	if target == nil {
		return nil
	}
	if decodingError := json.Unmarshal(data, target); decodingError != nil {
		return ResponseDecodingError{Operation: request.OperationName(), Cause: decodingError}
	}
	return nil
}

// ExecuteREST runs a REST request.
func (client *Client) ExecuteREST(executionContext context.Context, request RESTRequest) (RawResponse, error) {
	return client.Execute(executionContext, request)
}

// Paginate returns a lazy paginator over a GraphQL connection.
func (client *Client) Paginate(query PageQuery) *Paginator {
	return NewPaginator(client, query)
}

func (client *Client) attempt(executionContext context.Context, request Request) (RawResponse, *attemptFailure) {
	httpRequest, buildError := request.newHTTPRequest(executionContext, client.endpoints)
	if buildError != nil {
		return RawResponse{}, &attemptFailure{err: buildError}
	}

	httpRequest.Header.Set(authorizationHeaderNameConstant, authorizationBearerPrefixConstant+client.credential)
	httpRequest.Header.Set(acceptHeaderNameConstant, acceptHeaderValueConstant)
	httpRequest.Header.Set(apiVersionHeaderNameConstant, client.apiVersion)
	httpRequest.Header.Set(userAgentHeaderNameConstant, client.userAgent)

	httpResponse, transportError := client.httpClient.Do(httpRequest)
	if transportError != nil {
		return RawResponse{}, classifyConnectionFailure(request.OperationName(), transportError)
	}
	defer httpResponse.Body.Close()

	body, readError := io.ReadAll(httpResponse.Body)
	if readError != nil {
		return RawResponse{}, classifyConnectionFailure(request.OperationName(), readError)
	}

	response := RawResponse{StatusCode: httpResponse.StatusCode, Header: httpResponse.Header.Clone(), Body: body}
	if failure := client.classifyResponse(request, response); failure != nil {
		return RawResponse{}, failure
	}
	return response, nil
}

func (client *Client) classifyResponse(request Request, response RawResponse) *attemptFailure {
	operationName := request.OperationName()
	statusCode := response.StatusCode

	if statusCode >= minimumSuccessStatusCodeConstant && statusCode <= maximumSuccessStatusCodeConstant {
		if request.Protocol() == ProtocolGraphQL {
			return classifyGraphQLErrors(operationName, response)
		}
		return nil
	}

	message := extractResponseMessage(response.Body)

	if client.isRateLimited(response) {
		return &attemptFailure{
			err:         TransportError{Operation: operationName, Kind: ErrorKindTransient, StatusCode: statusCode, Message: message, Body: response.Body},
			statusCode:  statusCode,
			transient:   true,
			rateLimited: true,
			retryAfter:  client.retryAfter(response.Header),
		}
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &attemptFailure{
			err:        AuthenticationError{Operation: operationName, StatusCode: statusCode, Message: message},
			statusCode: statusCode,
		}
	case statusCode >= minimumServerErrorStatusCodeConstant:
		return &attemptFailure{
			err:        TransportError{Operation: operationName, Kind: ErrorKindTransient, StatusCode: statusCode, Message: message, Body: response.Body},
			statusCode: statusCode,
			transient:  true,
		}
	default:
		return &attemptFailure{
			err:        TransportError{Operation: operationName, Kind: ErrorKindPermanent, StatusCode: statusCode, Message: message, Body: response.Body},
			statusCode: statusCode,
		}
	}
}

func (client *Client) isRateLimited(response RawResponse) bool {
	if response.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if response.StatusCode != http.StatusForbidden {
		return false
	}
	if response.Header.Get(rateLimitRemainingHeaderNameConstant) == rateLimitExhaustedValueConstant {
		return true
	}
	if len(response.Header.Get(retryAfterHeaderNameConstant)) > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(string(response.Body)), rateLimitBodyMarkerConstant)
}

// retryAfter derives the server-requested wait from Retry-After or X-RateLimit-Reset.
func (client *Client) retryAfter(header http.Header) time.Duration {
	retryAfterValue := strings.TrimSpace(header.Get(retryAfterHeaderNameConstant))
	if len(retryAfterValue) > 0 {
		if seconds, parseError := strconv.Atoi(retryAfterValue); parseError == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		if retryAt, parseError := http.ParseTime(retryAfterValue); parseError == nil {
			if wait := retryAt.Sub(client.clock()); wait > 0 {
				return wait
			}
		}
	}

	resetValue := strings.TrimSpace(header.Get(rateLimitResetHeaderNameConstant))
	if len(resetValue) > 0 {
		if resetEpoch, parseError := strconv.ParseInt(resetValue, 10, 64); parseError == nil {
			if wait := time.Unix(resetEpoch, 0).Sub(client.clock()); wait > 0 {
				return wait
			}
		}
	}
	return 0
}

func classifyGraphQLErrors(operationName string, response RawResponse) *attemptFailure {
	errorsResult := gjson.GetBytes(response.Body, graphQLErrorsPathConstant)
	if !errorsResult.Exists() || len(errorsResult.Array()) == 0 {
		if !gjson.ValidBytes(response.Body) {
			return &attemptFailure{err: ResponseDecodingError{Operation: operationName, Cause: errors.New(string(response.Body))}, statusCode: response.StatusCode}
		}
		return nil
	}

	var graphQLErrors []GraphQLError
	if decodingError := json.Unmarshal([]byte(errorsResult.Raw), &graphQLErrors); decodingError != nil {
		return &attemptFailure{err: ResponseDecodingError{Operation: operationName, Cause: decodingError}, statusCode: response.StatusCode}
	}

	messages := make([]string, 0, len(graphQLErrors))
	rateLimited := false
	joinedErrors := make([]error, 0, len(graphQLErrors))
	for _, graphQLError := range graphQLErrors {
		messages = append(messages, graphQLError.Message)
		joinedErrors = append(joinedErrors, graphQLError)
		if graphQLError.Type == graphQLRateLimitedTypeConstant {
			rateLimited = true
		}
	}

	kind := ErrorKindPermanent
	if rateLimited {
		kind = ErrorKindTransient
	}

	return &attemptFailure{
		err: TransportError{
			Operation:  operationName,
			Kind:       kind,
			StatusCode: response.StatusCode,
			Message:    strings.Join(messages, graphQLErrorMessageSeparatorConstant),
			Body:       response.Body,
			Cause:      errors.Join(joinedErrors...),
		},
		statusCode:  response.StatusCode,
		transient:   rateLimited,
		rateLimited: rateLimited,
	}
}

func classifyConnectionFailure(operationName string, failure error) *attemptFailure {
	if errors.Is(failure, context.Canceled) || errors.Is(failure, context.DeadlineExceeded) {
		return &attemptFailure{err: failure}
	}

	transient := false
	var networkError net.Error
	var operationError *net.OpError
	switch {
	case errors.Is(failure, syscall.ECONNRESET),
		errors.Is(failure, syscall.ECONNREFUSED),
		errors.Is(failure, syscall.EPIPE),
		errors.Is(failure, io.ErrUnexpectedEOF),
		errors.Is(failure, io.EOF):
		transient = true
	case errors.As(failure, &networkError) && networkError.Timeout():
		transient = true
	case errors.As(failure, &operationError):
		transient = true
	}

	kind := ErrorKindPermanent
	if transient {
		kind = ErrorKindTransient
	}
	return &attemptFailure{
		err:       TransportError{Operation: operationName, Kind: kind, Cause: failure},
		transient: transient,
	}
}

func (client *Client) finalError(request Request, state *retryState, decision retryDecision, failure attemptFailure) error {
	switch {
	case failure.rateLimited && decision.kind != retryDecisionStopPermanent:
		return RateLimitExceededError{
			Operation:  request.OperationName(),
			Attempts:   state.attemptCount(),
			RetryAfter: failure.retryAfter,
			Cause:      failure.err,
		}
	default:
		return failure.err
	}
}

func extractResponseMessage(body []byte) string {
	messageResult := gjson.GetBytes(body, responseMessagePathConstant)
	if messageResult.Exists() {
		return messageResult.String()
	}
	return strings.TrimSpace(string(body))
}
