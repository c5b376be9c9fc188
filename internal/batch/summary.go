package batch

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"
)

const (
	runStatusFullySucceededValueConstant      = "fully-succeeded"
	runStatusSucceededWithErrorsValueConstant = "succeeded-with-errors"
	runStatusAbortedValueConstant             = "aborted"
)

// RunStatus is the overall outcome of a phase.
type RunStatus string

// Run statuses.
const (
	RunStatusFullySucceeded      RunStatus = runStatusFullySucceededValueConstant
	RunStatusSucceededWithErrors RunStatus = runStatusSucceededWithErrorsValueConstant
	RunStatusAborted             RunStatus = runStatusAbortedValueConstant
)

// FailedItem is one failure listed in a summary. Partially successful items
// contribute one entry per failed stage.
type FailedItem struct {
	Key     string    `json:"key" yaml:"key"`
	Status  Status    `json:"status" yaml:"status"`
	Stage   string    `json:"stage,omitempty" yaml:"stage,omitempty"`
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
}

// BatchSummary aggregates the results of one phase.
type BatchSummary struct {
	Phase               string       `json:"phase" yaml:"phase"`
	RunID               string       `json:"runId,omitempty" yaml:"runId,omitempty"`
	Status              RunStatus    `json:"status" yaml:"status"`
	Attempted           int          `json:"attempted" yaml:"attempted"`
	Succeeded           int          `json:"succeeded" yaml:"succeeded"`
	SucceededWithErrors int          `json:"succeededWithErrors" yaml:"succeededWithErrors"`
	NoOp                int          `json:"noOp" yaml:"noOp"`
	Failed              int          `json:"failed" yaml:"failed"`
	FailedItems         []FailedItem `json:"failedItems,omitempty" yaml:"failedItems,omitempty"`
	StartedAt           time.Time    `json:"startedAt" yaml:"startedAt"`
	FinishedAt          time.Time    `json:"finishedAt" yaml:"finishedAt"`
}

// HasFailures reports whether any item failed or completed with errors.
func (summary BatchSummary) HasFailures() bool {
	return summary.Failed > 0 || summary.SucceededWithErrors > 0
}

// Merge folds other into summary. Counts add up, failed items are merged by key
// and an aborted status wins.
func (summary BatchSummary) Merge(other BatchSummary) BatchSummary {
	merged := summary
	merged.Attempted += other.Attempted
	merged.Succeeded += other.Succeeded
	merged.SucceededWithErrors += other.SucceededWithErrors
	merged.NoOp += other.NoOp
	merged.Failed += other.Failed
	merged.FailedItems = append(append([]FailedItem{}, summary.FailedItems...), other.FailedItems...)
	sortFailedItems(merged.FailedItems)
	if merged.StartedAt.IsZero() || (!other.StartedAt.IsZero() && other.StartedAt.Before(merged.StartedAt)) {
		merged.StartedAt = other.StartedAt
	}
	if other.FinishedAt.After(merged.FinishedAt) {
		merged.FinishedAt = other.FinishedAt
	}
	merged.Status = deriveRunStatus(merged, summary.Status == RunStatusAborted || other.Status == RunStatusAborted)
	return merged
}

// Accumulator collects results from concurrent workers. Results are stored by
// item index, so the merge does not depend on completion order.
type Accumulator struct {
	mutex     sync.Mutex
	phase     string
	startedAt time.Time
	clock     func() time.Time
	results   map[int]OperationResult
	aborted   bool
}

// NewAccumulator creates an accumulator for phase.
func NewAccumulator(phase string) *Accumulator {
	return newAccumulatorWithClock(phase, time.Now)
}

func newAccumulatorWithClock(phase string, clock func() time.Time) *Accumulator {
	return &Accumulator{phase: phase, clock: clock, startedAt: clock(), results: make(map[int]OperationResult)}
}

// Record stores the result for the item at index, replacing an earlier one.
func (accumulator *Accumulator) Record(index int, result OperationResult) {
	accumulator.mutex.Lock()
	defer accumulator.mutex.Unlock()
	accumulator.results[index] = result
}

// Append stores result after every recorded index.
func (accumulator *Accumulator) Append(result OperationResult) {
	accumulator.mutex.Lock()
	defer accumulator.mutex.Unlock()
	nextIndex := 0
	for index := range accumulator.results {
		if index >= nextIndex {
			nextIndex = index + 1
		}
	}
	accumulator.results[nextIndex] = result
}

// MarkAborted flags the phase as aborted.
func (accumulator *Accumulator) MarkAborted() {
	accumulator.mutex.Lock()
	defer accumulator.mutex.Unlock()
	accumulator.aborted = true
}

// Results returns the recorded results ordered by item index.
func (accumulator *Accumulator) Results() []OperationResult {
	accumulator.mutex.Lock()
	defer accumulator.mutex.Unlock()
	results := make([]OperationResult, 0, len(accumulator.results))
	for _, index := range slices.Sorted(maps.Keys(accumulator.results)) {
		results = append(results, accumulator.results[index])
	}
	return results
}

// Summary folds the recorded results into a BatchSummary.
func (accumulator *Accumulator) Summary() BatchSummary {
	results := accumulator.Results()

	accumulator.mutex.Lock()
	aborted := accumulator.aborted
	accumulator.mutex.Unlock()

	summary := Summarize(accumulator.phase, results, aborted)
	summary.StartedAt = accumulator.startedAt
	summary.FinishedAt = accumulator.clock()
	return summary
}

// Summarize folds results into a BatchSummary without timing information.
func Summarize(phase string, results []OperationResult, aborted bool) BatchSummary {
	summary := BatchSummary{Phase: phase, Attempted: len(results)}
	for _, result := range results {
		switch result.Status {
		case StatusSucceeded:
			summary.Succeeded++
		case StatusSucceededWithErrors:
			summary.Succeeded++
			summary.SucceededWithErrors++
			for _, subError := range result.SubErrors {
				summary.FailedItems = append(summary.FailedItems, FailedItem{Key: result.Key, Status: result.Status, Stage: subError.Stage, Kind: subError.Kind, Message: subError.Message})
			}
		case StatusNoOp:
			summary.NoOp++
		default:
			summary.Failed++
			summary.FailedItems = append(summary.FailedItems, FailedItem{Key: result.Key, Status: StatusFailed, Stage: result.FailedStage, Kind: result.ErrorKind, Message: result.Message})
		}
	}
	sortFailedItems(summary.FailedItems)
	summary.Status = deriveRunStatus(summary, aborted)
	return summary
}

func deriveRunStatus(summary BatchSummary, aborted bool) RunStatus {
	switch {
	case aborted:
		return RunStatusAborted
	case summary.HasFailures():
		return RunStatusSucceededWithErrors
	default:
		return RunStatusFullySucceeded
	}
}

func sortFailedItems(failedItems []FailedItem) {
	slices.SortStableFunc(failedItems, func(first FailedItem, second FailedItem) int {
		return cmp.Compare(first.Key, second.Key)
	})
}
