package githubapi

import (
	"time"

	"go.uber.org/zap"
)

const (
	attemptFailedRetryingMessageConstant = "GitHub request attempt failed, retrying"
	attemptFailedFinalMessageConstant    = "GitHub request attempt failed"
	logFieldOperationConstant            = "operation"
	logFieldProtocolConstant             = "protocol"
	logFieldAttemptConstant              = "attempt"
	logFieldStatusCodeConstant           = "status_code"
	logFieldDelayConstant                = "retry_delay"
	logFieldRateLimitedConstant          = "rate_limited"
)

// AttemptEvent describes one failed attempt of a logical call.
type AttemptEvent struct {
	Operation   string
	Protocol    Protocol
	Attempt     int
	StatusCode  int
	RateLimited bool
	Failure     error
	WillRetry   bool
	NextDelay   time.Duration
}

// AttemptObserver receives every failed attempt. Callers still get exactly one final result.
type AttemptObserver interface {
	AttemptFailed(event AttemptEvent)
}

type noopAttemptObserver struct{}

func (noopAttemptObserver) AttemptFailed(AttemptEvent) {}

// LoggingAttemptObserver reports failed attempts through zap.
type LoggingAttemptObserver struct {
	logger *zap.Logger
}

// NewLoggingAttemptObserver constructs an observer writing to logger.
func NewLoggingAttemptObserver(logger *zap.Logger) *LoggingAttemptObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingAttemptObserver{logger: logger}
}

// AttemptFailed logs the attempt at warn level when retrying and debug level otherwise;
// the final failure is reported by the caller.
func (observer *LoggingAttemptObserver) AttemptFailed(event AttemptEvent) {
	fields := []zap.Field{
		zap.String(logFieldOperationConstant, event.Operation),
		zap.String(logFieldProtocolConstant, string(event.Protocol)),
		zap.Int(logFieldAttemptConstant, event.Attempt),
		zap.Int(logFieldStatusCodeConstant, event.StatusCode),
		zap.Bool(logFieldRateLimitedConstant, event.RateLimited),
		zap.Error(event.Failure),
	}

	if event.WillRetry {
		fields = append(fields, zap.Duration(logFieldDelayConstant, event.NextDelay))
		observer.logger.Warn(attemptFailedRetryingMessageConstant, fields...)
		return
	}

	observer.logger.Debug(attemptFailedFinalMessageConstant, fields...)
}
