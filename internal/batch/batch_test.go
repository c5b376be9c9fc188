package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/githubapi"
	"github.com/temirov/ghmigrate/internal/tabular"
)

const (
	classifyAuthenticationCaseName = "authentication"
	classifyRateLimitCaseName      = "rate_limit"
	classifyTransientCaseName      = "transient_transport"
	classifyPermanentCaseName      = "permanent_transport"
	classifyUnmappedCaseName       = "unmapped_value"
	classifyValidationCaseName     = "validation"
	classifyCancelledCaseName      = "cancelled"
	classifyKindedCaseName         = "self_classified"
	classifyUnknownCaseName        = "unknown"
	phaseNameConstant              = "migrate"
)

type selfClassifiedError struct{}

func (selfClassifiedError) Error() string { return "self classified" }

func (selfClassifiedError) BatchErrorKind() batch.ErrorKind { return batch.ErrorKindDanglingReference }

type wrappingClassifiedError struct {
	cause error
}

func (wrappingError wrappingClassifiedError) Error() string { return "partial: " + wrappingError.cause.Error() }

func (wrappingError wrappingClassifiedError) Unwrap() error { return wrappingError.cause }

func (wrappingClassifiedError) BatchErrorKind() batch.ErrorKind { return batch.ErrorKindPartialCreation }

func TestClassifyError(testInstance *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected batch.ErrorKind
	}{
		{name: classifyAuthenticationCaseName, err: fmt.Errorf("wrapped: %w", githubapi.AuthenticationError{StatusCode: 401}), expected: batch.ErrorKindAuthentication},
		{name: classifyRateLimitCaseName, err: githubapi.RateLimitExceededError{Attempts: 3}, expected: batch.ErrorKindRateLimited},
		{name: classifyTransientCaseName, err: githubapi.TransportError{Kind: githubapi.ErrorKindTransient, StatusCode: 502}, expected: batch.ErrorKindTransient},
		{name: classifyPermanentCaseName, err: githubapi.TransportError{Kind: githubapi.ErrorKindPermanent, StatusCode: 422}, expected: batch.ErrorKindPermanent},
		{name: classifyUnmappedCaseName, err: errors.Join(fieldmap.UnmappedValueError{FieldName: "Status", RawValue: "Blocked"}), expected: batch.ErrorKindUnmappedValue},
		{name: classifyValidationCaseName, err: tabular.RowError{Cause: tabular.ValidationError{Column: "issueTitle"}}, expected: batch.ErrorKindValidation},
		{name: classifyCancelledCaseName, err: fmt.Errorf("stopped: %w", context.Canceled), expected: batch.ErrorKindCancelled},
		{name: classifyKindedCaseName, err: fmt.Errorf("edge: %w", selfClassifiedError{}), expected: batch.ErrorKindDanglingReference},
		{name: "kinded_wrapping_authentication", err: wrappingClassifiedError{cause: githubapi.AuthenticationError{StatusCode: 403}}, expected: batch.ErrorKindAuthentication},
		{name: "kinded_wrapping_other_failure", err: wrappingClassifiedError{cause: errors.New("timeout")}, expected: batch.ErrorKindPartialCreation},
		{name: classifyUnknownCaseName, err: errors.New("boom"), expected: batch.ErrorKindUnknown},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			require.Equal(subTest, testCase.expected, batch.ClassifyError(testCase.err))
		})
	}

	require.Equal(testInstance, batch.ErrorKind(""), batch.ClassifyError(nil))
}

func TestOperationResultHasErrorKind(testInstance *testing.T) {
	testCases := []struct {
		name     string
		result   batch.OperationResult
		expected bool
	}{
		{name: "failed_with_kind", result: batch.Failed("row 2", "create-issue", githubapi.AuthenticationError{StatusCode: 401}), expected: true},
		{name: "stage_with_kind", result: batch.Completed("row 3", "I_1", []batch.StageError{batch.NewStageError("labels", githubapi.AuthenticationError{StatusCode: 403})}), expected: true},
		{name: "other_kind", result: batch.Failed("row 4", "create-issue", errors.New("rejected")), expected: false},
		{name: "success", result: batch.Succeeded("row 5", "I_2"), expected: false},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			require.Equal(subTest, testCase.expected, testCase.result.HasErrorKind(batch.ErrorKindAuthentication))
		})
	}
}

func TestCompletedWithoutSubErrorsIsSuccess(testInstance *testing.T) {
	result := batch.Completed("row 2", "I_kwDOAlpha", nil)
	require.Equal(testInstance, batch.StatusSucceeded, result.Status)

	partial := batch.Completed("row 2", "I_kwDOAlpha", []batch.StageError{batch.NewStageError("labels", errors.New("label missing"))})
	require.Equal(testInstance, batch.StatusSucceededWithErrors, partial.Status)
	require.Equal(testInstance, "labels: label missing", partial.Message)
	require.True(testInstance, partial.IsSuccess())
	require.Error(testInstance, partial.Err)
}

func TestSummarizeCountsAndSortsFailures(testInstance *testing.T) {
	results := []batch.OperationResult{
		batch.Failed("row 9", "create-issue", errors.New("rejected")),
		batch.Succeeded("row 2", "I_1"),
		batch.NoOp("row 3", "I_2"),
		batch.Completed("row 4", "I_3", []batch.StageError{batch.NewStageError("milestone", errors.New("missing"))}),
		batch.Failed("row 10", "create-issue", errors.New("rejected")),
	}

	summary := batch.Summarize(phaseNameConstant, results, false)

	require.Equal(testInstance, 5, summary.Attempted)
	require.Equal(testInstance, 2, summary.Succeeded)
	require.Equal(testInstance, 1, summary.SucceededWithErrors)
	require.Equal(testInstance, 1, summary.NoOp)
	require.Equal(testInstance, 2, summary.Failed)
	require.Equal(testInstance, batch.RunStatusSucceededWithErrors, summary.Status)
	require.Len(testInstance, summary.FailedItems, 3)
	require.Equal(testInstance, "row 10", summary.FailedItems[0].Key)
	require.Equal(testInstance, "row 4", summary.FailedItems[1].Key)
	require.Equal(testInstance, "milestone", summary.FailedItems[1].Stage)
	require.Equal(testInstance, "row 9", summary.FailedItems[2].Key)

	clean := batch.Summarize(phaseNameConstant, []batch.OperationResult{batch.Succeeded("row 2", "I_1")}, false)
	require.Equal(testInstance, batch.RunStatusFullySucceeded, clean.Status)

	aborted := batch.Summarize(phaseNameConstant, nil, true)
	require.Equal(testInstance, batch.RunStatusAborted, aborted.Status)
}

func TestSummaryMerge(testInstance *testing.T) {
	first := batch.Summarize(phaseNameConstant, []batch.OperationResult{batch.Failed("b", "", errors.New("x"))}, false)
	second := batch.Summarize(phaseNameConstant, []batch.OperationResult{batch.Succeeded("c", ""), batch.Failed("a", "", errors.New("y"))}, false)

	merged := first.Merge(second)
	require.Equal(testInstance, 3, merged.Attempted)
	require.Equal(testInstance, 2, merged.Failed)
	require.Equal(testInstance, "a", merged.FailedItems[0].Key)
	require.Equal(testInstance, batch.RunStatusSucceededWithErrors, merged.Status)
}

func TestAccumulatorIsOrderIndependent(testInstance *testing.T) {
	accumulator := batch.NewAccumulator(phaseNameConstant)

	var waitGroup sync.WaitGroup
	for index := 99; index >= 0; index-- {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			accumulator.Record(index, batch.Succeeded(fmt.Sprintf("item %03d", index), ""))
		}()
	}
	waitGroup.Wait()

	results := accumulator.Results()
	require.Len(testInstance, results, 100)
	for index, result := range results {
		require.Equal(testInstance, fmt.Sprintf("item %03d", index), result.Key)
	}
	require.Equal(testInstance, 100, accumulator.Summary().Succeeded)
}

func TestRunBoundsParallelism(testInstance *testing.T) {
	const parallelism = 3
	var inFlight atomic.Int32
	var maximumInFlight atomic.Int32
	release := make(chan struct{})

	go func() {
		for iteration := 0; iteration < 20; iteration++ {
			release <- struct{}{}
		}
	}()

	results := batch.Run(context.Background(), parallelism, 20, func(_ context.Context, index int) batch.OperationResult {
		current := inFlight.Add(1)
		for {
			observed := maximumInFlight.Load()
			if current <= observed || maximumInFlight.CompareAndSwap(observed, current) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return batch.Succeeded(fmt.Sprintf("row %d", index), "")
	})

	require.Len(testInstance, results, 20)
	require.LessOrEqual(testInstance, maximumInFlight.Load(), int32(parallelism))
	for index, result := range results {
		require.Equal(testInstance, fmt.Sprintf("row %d", index), result.Key)
	}
}

func TestRunnerCancellationCountsUnstartedItems(testInstance *testing.T) {
	executionContext, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int32
	var cancelledContexts atomic.Int32
	runner := batch.Runner{Phase: phaseNameConstant, Parallelism: 1, Key: func(index int) string { return fmt.Sprintf("row %d", index+2) }}
	outcome := runner.Run(executionContext, 5, func(operationContext context.Context, index int) batch.OperationResult {
		started.Add(1)
		if index == 1 {
			cancel()
		}
		if operationContext.Err() != nil {
			cancelledContexts.Add(1)
		}
		return batch.Succeeded("", "")
	})

	require.True(testInstance, outcome.Cancelled)
	require.Equal(testInstance, int32(2), started.Load())
	require.Zero(testInstance, cancelledContexts.Load())
	require.Len(testInstance, outcome.Results, 5)
	require.Equal(testInstance, "row 3", outcome.Results[1].Key)
	require.Equal(testInstance, batch.StatusSucceeded, outcome.Results[1].Status)
	for _, result := range outcome.Results[2:] {
		require.Equal(testInstance, batch.StatusFailed, result.Status)
		require.Equal(testInstance, batch.ErrorKindCancelled, result.ErrorKind)
	}
	require.Equal(testInstance, 3, outcome.Summary.Failed)
	require.Equal(testInstance, batch.RunStatusAborted, outcome.Summary.Status)
}

func TestRunnerStopOnFatalResult(testInstance *testing.T) {
	runner := batch.Runner{
		Phase:       phaseNameConstant,
		Parallelism: 1,
		StopOn: func(result batch.OperationResult) bool {
			return result.ErrorKind == batch.ErrorKindAuthentication
		},
	}

	outcome := runner.Run(context.Background(), 4, func(_ context.Context, index int) batch.OperationResult {
		if index == 0 {
			return batch.Failed("", "create-issue", githubapi.AuthenticationError{StatusCode: 401})
		}
		return batch.Succeeded("", "")
	})

	require.True(testInstance, outcome.Stopped)
	require.False(testInstance, outcome.Cancelled)
	require.Equal(testInstance, 4, outcome.Summary.Failed)
	require.Equal(testInstance, batch.RunStatusAborted, outcome.Summary.Status)
	require.Equal(testInstance, "item 1", outcome.Results[1].Key)
}

func TestStopOnAuthenticationExtendsPredicate(testInstance *testing.T) {
	authenticationFailure := batch.Failed("row 2", "create-issue", githubapi.AuthenticationError{StatusCode: 401})
	stageAuthenticationFailure := batch.Completed("row 3", "I_1", []batch.StageError{batch.NewStageError("project-add", githubapi.AuthenticationError{StatusCode: 403})})
	permanentFailure := batch.Failed("row 4", "create-issue", errors.New("rejected"))
	failedOnly := func(result batch.OperationResult) bool { return result.Status == batch.StatusFailed }

	testCases := []struct {
		name      string
		predicate func(batch.OperationResult) bool
		result    batch.OperationResult
		expected  bool
	}{
		{name: "nil_predicate_authentication", result: authenticationFailure, expected: true},
		{name: "nil_predicate_stage_authentication", result: stageAuthenticationFailure, expected: true},
		{name: "nil_predicate_other_failure", result: permanentFailure, expected: false},
		{name: "predicate_other_failure", predicate: failedOnly, result: permanentFailure, expected: true},
		{name: "predicate_success", predicate: failedOnly, result: batch.Succeeded("row 5", "I_2"), expected: false},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			require.Equal(subTest, testCase.expected, batch.StopOnAuthentication(testCase.predicate)(testCase.result))
		})
	}
}
