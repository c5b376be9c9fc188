package githubapi

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxRetriesConstant       = 5
	defaultBaseDelayConstant        = time.Second
	defaultMaxDelayConstant         = 60 * time.Second
	defaultMultiplierConstant       = 2.0
	defaultJitterFractionConstant   = 0.1
	defaultMaxRateLimitWaitConstant = 15 * time.Minute
	minimumMultiplierConstant       = 1.0
	maximumJitterFractionConstant   = 1.0
	jitterRandomScaleConstant       = 2.0
)

// RetryPolicy configures the backoff schedule for transient failures.
type RetryPolicy struct {
	// MaxRetries is the number of attempts allowed after the first one.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFraction spreads each delay uniformly within plus or minus this fraction.
	JitterFraction float64
	// MaxRateLimitWait bounds a server-requested wait; longer waits end the retry loop.
	MaxRateLimitWait time.Duration
}

// DefaultRetryPolicy returns the schedule used when configuration leaves retry settings empty.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       defaultMaxRetriesConstant,
		BaseDelay:        defaultBaseDelayConstant,
		MaxDelay:         defaultMaxDelayConstant,
		Multiplier:       defaultMultiplierConstant,
		JitterFraction:   defaultJitterFractionConstant,
		MaxRateLimitWait: defaultMaxRateLimitWaitConstant,
	}
}

// Sanitize replaces unusable values with defaults.
func (policy RetryPolicy) Sanitize() RetryPolicy {
	defaults := DefaultRetryPolicy()
	sanitized := policy
	if sanitized.MaxRetries < 0 {
		sanitized.MaxRetries = 0
	}
	if sanitized.BaseDelay <= 0 {
		sanitized.BaseDelay = defaults.BaseDelay
	}
	if sanitized.MaxDelay <= 0 {
		sanitized.MaxDelay = defaults.MaxDelay
	}
	if sanitized.MaxDelay < sanitized.BaseDelay {
		sanitized.MaxDelay = sanitized.BaseDelay
	}
	if sanitized.Multiplier < minimumMultiplierConstant {
		sanitized.Multiplier = defaults.Multiplier
	}
	if sanitized.JitterFraction < 0 {
		sanitized.JitterFraction = 0
	}
	if sanitized.JitterFraction > maximumJitterFractionConstant {
		sanitized.JitterFraction = maximumJitterFractionConstant
	}
	if sanitized.MaxRateLimitWait <= 0 {
		sanitized.MaxRateLimitWait = defaults.MaxRateLimitWait
	}
	return sanitized
}

// attemptFailure is the classification of one failed attempt.
type attemptFailure struct {
	err         error
	statusCode  int
	transient   bool
	rateLimited bool
	retryAfter  time.Duration
}

type retryDecisionKind int

const (
	retryDecisionRetry retryDecisionKind = iota
	retryDecisionStopPermanent
	retryDecisionStopExhausted
	retryDecisionStopRateLimitTooLong
)

type retryDecision struct {
	kind  retryDecisionKind
	delay time.Duration
}

func (decision retryDecision) shouldRetry() bool {
	return decision.kind == retryDecisionRetry
}

// retryState tracks one logical call through its attempts. It holds no goroutines
// or timers; the caller performs the waiting.
type retryState struct {
	policy         RetryPolicy
	attempts       int
	randomFraction func() float64
}

func newRetryState(policy RetryPolicy, randomFraction func() float64) *retryState {
	if randomFraction == nil {
		randomFraction = rand.Float64
	}
	return &retryState{policy: policy.Sanitize(), randomFraction: randomFraction}
}

// recordFailure advances the state by one failed attempt and decides what happens next.
func (state *retryState) recordFailure(failure attemptFailure) retryDecision {
	state.attempts++

	if !failure.transient {
		return retryDecision{kind: retryDecisionStopPermanent}
	}

	if state.attempts > state.policy.MaxRetries {
		return retryDecision{kind: retryDecisionStopExhausted}
	}

	delay := state.backoffDelay(state.attempts)
	if failure.rateLimited && failure.retryAfter > 0 {
		if failure.retryAfter > state.policy.MaxRateLimitWait {
				return retryDecision{kind: retryDecisionStopRateLimitTooLong, delay: failure.retryAfter}
		}
		if failure.retryAfter > delay {
			delay = failure.retryAfter
		}
	}

	return retryDecision{kind: retryDecisionRetry, delay: delay}
}

// backoffDelay computes base * multiplier^(attempt-1), capped, with symmetric jitter.
func (state *retryState) backoffDelay(attempt int) time.Duration {
	exponent := float64(attempt - 1)
	rawDelay := float64(state.policy.BaseDelay) * math.Pow(state.policy.Multiplier, exponent)
	if rawDelay > float64(state.policy.MaxDelay) {
		rawDelay = float64(state.policy.MaxDelay)
	}

	if state.policy.JitterFraction > 0 {
		jitterSpan := rawDelay * state.policy.JitterFraction
		rawDelay += jitterSpan * (state.randomFraction()*jitterRandomScaleConstant - 1)
	}

	if rawDelay < 0 {
		rawDelay = 0
	}
	return time.Duration(rawDelay)
}

func (state *retryState) attemptCount() int {
	return state.attempts
}

// sleepWithContext waits for the delay or returns early when the context ends.
func sleepWithContext(executionContext context.Context, delay time.Duration) error {
	if delay <= 0 {
		return executionContext.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-executionContext.Done():
		return executionContext.Err()
	case <-timer.C:
		return nil
	}
}
