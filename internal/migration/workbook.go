package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/tabular"
)

const (
	outputDirectoryPermissionsConstant = 0o755
	tableMissingErrorTemplate          = "workbook %s has no %s sheet"
	outputDirectoryErrorTemplate       = "unable to create output directory %s: %w"
	loadStageConstant                  = "load"
	loadedRowKeyTemplate               = "%s row %d"
)

func (orchestrator *Orchestrator) loadWorkbook(phase Phase, path string) (*tabular.Workbook, error) {
	workbook, loadError := tabular.Load(path)
	if loadError != nil {
		return nil, fatalPhaseError(phase, loadError)
	}
	return workbook, nil
}

func requireTable(phase Phase, workbook *tabular.Workbook, path string, tableName string) (*tabular.Table, error) {
	table, exists := workbook.Table(tableName)
	if !exists {
		return nil, fatalPhaseError(phase, fmt.Errorf(tableMissingErrorTemplate, path, tableName))
	}
	return table, nil
}

// saveWorkbook appends summary to the Summary sheet and writes workbook to path.
func saveWorkbook(phase Phase, workbook *tabular.Workbook, path string, summary batch.BatchSummary) error {
	summaryTable, exists := workbook.Table(tabular.TableSummary)
	if !exists {
		summaryTable = tabular.NewTable(tabular.SummarySchema())
		workbook.PutTable(summaryTable)
	}
	summaryTable.AppendRow(summaryRow(summary))

	if directory := filepath.Dir(path); len(directory) > 0 {
		if mkdirError := os.MkdirAll(directory, outputDirectoryPermissionsConstant); mkdirError != nil {
			return fatalPhaseError(phase, fmt.Errorf(outputDirectoryErrorTemplate, directory, mkdirError))
		}
	}
	if saveError := tabular.Save(workbook, path); saveError != nil {
		return fatalPhaseError(phase, saveError)
	}
	return nil
}

func summaryRow(summary batch.BatchSummary) map[string]string {
	return map[string]string{
		tabular.ColumnPhase:      summary.Phase,
		tabular.ColumnRunID:      summary.RunID,
		tabular.ColumnStatus:     string(summary.Status),
		tabular.ColumnAttempted:  strconv.Itoa(summary.Attempted),
		tabular.ColumnSucceeded:  strconv.Itoa(summary.Succeeded),
		tabular.ColumnPartial:    strconv.Itoa(summary.SucceededWithErrors),
		tabular.ColumnNoOp:       strconv.Itoa(summary.NoOp),
		tabular.ColumnFailed:     strconv.Itoa(summary.Failed),
		tabular.ColumnStartedAt:  formatTimestamp(summary.StartedAt),
		tabular.ColumnFinishedAt: formatTimestamp(summary.FinishedAt),
	}
}

func formatTimestamp(timestamp time.Time) string {
	if timestamp.IsZero() {
		return ""
	}
	return timestamp.UTC().Format(time.RFC3339)
}

// recordRowErrors reports rows rejected while loading table as failed items.
func recordRowErrors(accumulator *batch.Accumulator, table *tabular.Table) {
	for _, rowError := range table.Errors {
		accumulator.Append(batch.Failed(fmt.Sprintf(loadedRowKeyTemplate, table.Name, rowError.RowNumber), loadStageConstant, rowError))
	}
}

func resultRowValues(result batch.OperationResult) map[string]string {
	return map[string]string{
		tabular.ColumnStatus:      string(result.Status),
		tabular.ColumnFailedStage: result.FailedStage,
		tabular.ColumnErrorKind:   string(result.ErrorKind),
		tabular.ColumnErrors:      result.Message,
	}
}
