package batch

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	defaultParallelismConstant   = 1
	cancelledStageConstant       = "scheduling"
	itemKeyTemplateConstant      = "item %d"
	cancelledItemMessageConstant = "not started: run cancelled"
)

// Operation performs the work for the item at index.
type Operation func(operationContext context.Context, index int) OperationResult

// Runner executes independent operations with bounded parallelism.
type Runner struct {
	Phase       string
	Parallelism int
	// Key names the item at index; it fills results without a key and labels un-started items.
	Key func(index int) string
	// StopOn stops scheduling further items once it returns true for a result.
	StopOn func(OperationResult) bool
}

// Outcome is the product of a Runner.
type Outcome struct {
	Results   []OperationResult
	Summary   BatchSummary
	Stopped   bool
	Cancelled bool
}

// Run executes count operations with at most parallelism in flight and returns their results in item order.
func Run(executionContext context.Context, parallelism int, count int, operation Operation) []OperationResult {
	return Runner{Parallelism: parallelism}.Run(executionContext, count, operation).Results
}

// Run executes count operations. Cancelling executionContext or a StopOn match stops
// new operations; operations already running finish on a context without cancellation.
// Items never started are reported as failed with ErrorKindCancelled.
func (runner Runner) Run(executionContext context.Context, count int, operation Operation) Outcome {
	parallelism := runner.Parallelism
	if parallelism < 1 {
		parallelism = defaultParallelismConstant
	}

	accumulator := NewAccumulator(runner.Phase)
	schedulingContext, stopScheduling := context.WithCancel(executionContext)
	defer stopScheduling()
	workContext := context.WithoutCancel(executionContext)

	var stopMatched atomic.Bool

	group := new(errgroup.Group)
	group.SetLimit(parallelism)

	for index := 0; index < count; index++ {
		if schedulingContext.Err() != nil {
			accumulator.Record(index, runner.cancelledResult(index))
			continue
		}
		group.Go(func() error {
			if schedulingContext.Err() != nil {
				accumulator.Record(index, runner.cancelledResult(index))
				return nil
			}
			result := operation(workContext, index)
			if len(result.Key) == 0 {
				result.Key = runner.keyFor(index)
			}
			accumulator.Record(index, result)
			if runner.StopOn != nil && runner.StopOn(result) {
				stopMatched.Store(true)
				stopScheduling()
			}
			return nil
		})
	}
	_ = group.Wait()

	stopped := stopMatched.Load()
	cancelled := executionContext.Err() != nil
	if stopped || cancelled {
		accumulator.MarkAborted()
	}
	return Outcome{
		Results:   accumulator.Results(),
		Summary:   accumulator.Summary(),
		Stopped:   stopped,
		Cancelled: cancelled,
	}
}

// StopOnAuthentication extends predicate so that authentication failures always stop
// scheduling. A nil predicate stops on authentication failures only.
func StopOnAuthentication(predicate func(OperationResult) bool) func(OperationResult) bool {
	return func(result OperationResult) bool {
		if result.HasErrorKind(ErrorKindAuthentication) {
			return true
		}
		return predicate != nil && predicate(result)
	}
}

func (runner Runner) keyFor(index int) string {
	if runner.Key != nil {
		return runner.Key(index)
	}
	return fmt.Sprintf(itemKeyTemplateConstant, index)
}

func (runner Runner) cancelledResult(index int) OperationResult {
	return OperationResult{
		Key:         runner.keyFor(index),
		Status:      StatusFailed,
		FailedStage: cancelledStageConstant,
		ErrorKind:   ErrorKindCancelled,
		Message:     cancelledItemMessageConstant,
		Err:         context.Canceled,
	}
}
