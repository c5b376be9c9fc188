package githubapi

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testRetryBackoffCaseNameConstant              = "exponential_backoff_capped"
	testRetryPermanentCaseNameConstant            = "permanent_failure_stops"
	testRetryExhaustedCaseNameConstant            = "retries_exhausted"
	testRetryRateLimitWindowCaseNameConstant      = "rate_limit_window_dominates"
	testRetryRateLimitTooLongCaseNameConstant     = "rate_limit_window_too_long"
	testRetryRateLimitShortWindowCaseNameConstant = "short_rate_limit_window_keeps_backoff"
)

func fixedRandomFraction(value float64) func() float64 {
	return func() float64 {
		return value
	}
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       3,
		BaseDelay:        time.Second,
		MaxDelay:         3 * time.Second,
		Multiplier:       2,
		JitterFraction:   0,
		MaxRateLimitWait: time.Minute,
	}
}

func TestRetryStateDecisions(testInstance *testing.T) {
	transientFailure := attemptFailure{err: errors.New("unavailable"), transient: true}

	testCases := []struct {
		name           string
		failures       []attemptFailure
		expectedKinds  []retryDecisionKind
		expectedDelays []time.Duration
	}{
		{
			name:           testRetryBackoffCaseNameConstant,
			failures:       []attemptFailure{transientFailure, transientFailure, transientFailure},
			expectedKinds:  []retryDecisionKind{retryDecisionRetry, retryDecisionRetry, retryDecisionRetry},
			expectedDelays: []time.Duration{time.Second, 2 * time.Second, 3 * time.Second},
		},
		{
			name:           testRetryPermanentCaseNameConstant,
			failures:       []attemptFailure{{err: errors.New("invalid")}},
			expectedKinds:  []retryDecisionKind{retryDecisionStopPermanent},
			expectedDelays: []time.Duration{0},
		},
		{
			name:           testRetryExhaustedCaseNameConstant,
			failures:       []attemptFailure{transientFailure, transientFailure, transientFailure, transientFailure},
			expectedKinds:  []retryDecisionKind{retryDecisionRetry, retryDecisionRetry, retryDecisionRetry, retryDecisionStopExhausted},
			expectedDelays: []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 0},
		},
		{
			name:           testRetryRateLimitWindowCaseNameConstant,
			failures:       []attemptFailure{{err: errors.New("limited"), transient: true, rateLimited: true, retryAfter: 30 * time.Second}},
			expectedKinds:  []retryDecisionKind{retryDecisionRetry},
			expectedDelays: []time.Duration{30 * time.Second},
		},
		{
			name:           testRetryRateLimitShortWindowCaseNameConstant,
			failures:       []attemptFailure{transientFailure, {err: errors.New("limited"), transient: true, rateLimited: true, retryAfter: 500 * time.Millisecond}},
			expectedKinds:  []retryDecisionKind{retryDecisionRetry, retryDecisionRetry},
			expectedDelays: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:           testRetryRateLimitTooLongCaseNameConstant,
			failures:       []attemptFailure{{err: errors.New("limited"), transient: true, rateLimited: true, retryAfter: time.Hour}},
			expectedKinds:  []retryDecisionKind{retryDecisionStopRateLimitTooLong},
			expectedDelays: []time.Duration{time.Hour},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			testInstance.Parallel()

			state := newRetryState(testRetryPolicy(), fixedRandomFraction(0.5))
			var lastDecision retryDecision
			for failureIndex, failure := range testCase.failures {
				lastDecision = state.recordFailure(failure)
				require.Equal(testInstance, testCase.expectedKinds[failureIndex], lastDecision.kind)
				require.Equal(testInstance, testCase.expectedDelays[failureIndex], lastDecision.delay)
			}
			require.Equal(testInstance, len(testCase.failures), state.attemptCount())
			lastKind := testCase.expectedKinds[len(testCase.expectedKinds)-1]
			require.Equal(testInstance, lastKind == retryDecisionRetry, lastDecision.shouldRetry())
		})
	}
}

func TestRetryStateJitterStaysWithinBounds(testInstance *testing.T) {
	policy := testRetryPolicy()
	policy.JitterFraction = 0.1

	lowState := newRetryState(policy, fixedRandomFraction(0))
	highState := newRetryState(policy, fixedRandomFraction(0.999999))

	lowDelay := lowState.recordFailure(attemptFailure{transient: true}).delay
	highDelay := highState.recordFailure(attemptFailure{transient: true}).delay

	require.Equal(testInstance, 900*time.Millisecond, lowDelay)
	require.Greater(testInstance, highDelay, time.Second)
	require.LessOrEqual(testInstance, highDelay, 1100*time.Millisecond)
}

func TestRetryPolicySanitize(testInstance *testing.T) {
	sanitized := RetryPolicy{MaxRetries: -1, Multiplier: 0.5, JitterFraction: 4}.Sanitize()

	require.Equal(testInstance, 0, sanitized.MaxRetries)
	require.Equal(testInstance, DefaultRetryPolicy().BaseDelay, sanitized.BaseDelay)
	require.Equal(testInstance, DefaultRetryPolicy().MaxDelay, sanitized.MaxDelay)
	require.Equal(testInstance, DefaultRetryPolicy().Multiplier, sanitized.Multiplier)
	require.Equal(testInstance, 1.0, sanitized.JitterFraction)
}
