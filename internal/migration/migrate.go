package migration

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/issues"
	"github.com/temirov/ghmigrate/internal/tabular"
)

const (
	alreadyMigratedLogMessageConstant = "Issue already migrated"
	retryingStagesLogMessageConstant  = "Retrying failed stages"
	stagesLogFieldConstant            = "stages"
)

// Migrate creates one issue per Issues row through the issue pipeline. Rows that already
// carry both an issue and a project item identifier are no-ops unless their failedStages
// cell names secondary stages to retry; rows carrying only the issue identifier resume
// after creation. Identifiers and failed stages are written back to the Issues sheet,
// except in dry runs, and every row gets a line on the Results sheet.
func (orchestrator *Orchestrator) Migrate(executionContext context.Context, options PhaseOptions) (PhaseReport, error) {
	inputPath, outputPath := orchestrator.resolvePaths(PhaseMigrate, options)
	orchestrator.logPhaseStart(PhaseMigrate, inputPath)

	if executorError := orchestrator.requireExecutor(PhaseMigrate, true); executorError != nil {
		return PhaseReport{}, executorError
	}
	workbook, loadError := orchestrator.loadWorkbook(PhaseMigrate, inputPath)
	if loadError != nil {
		return PhaseReport{}, loadError
	}
	issuesTable, tableError := requireTable(PhaseMigrate, workbook, inputPath, tabular.TableIssues)
	if tableError != nil {
		return PhaseReport{}, tableError
	}
	mapper, mapperError := orchestrator.newRowMapper(workbook)
	if mapperError != nil {
		return PhaseReport{}, fatalPhaseError(PhaseMigrate, mapperError)
	}

	pipelineDependencies := issues.PipelineDependencies{Logger: orchestrator.logger}
	if orchestrator.executor != nil {
		pipelineDependencies.Executor = orchestrator.executor
	}
	pipeline, pipelineError := issues.NewPipeline(issues.PipelineConfiguration{
		RepositoryID: fieldmap.RemoteIdentifier(orchestrator.configuration.Project.TargetRepositoryID),
		ProjectID:    fieldmap.RemoteIdentifier(orchestrator.configuration.Project.TargetProjectID),
		Fields:       mapper.fields,
		DryRun:       orchestrator.configuration.Processing.DryRun,
	}, pipelineDependencies)
	if pipelineError != nil {
		return PhaseReport{}, fatalPhaseError(PhaseMigrate, pipelineError)
	}

	accumulator := batch.NewAccumulator(string(PhaseMigrate))
	records := make([]*issues.IssueRecord, len(issuesTable.Rows))
	var pending []int
	for rowIndex, row := range issuesTable.Rows {
		record, recordError := mapper.buildRecord(issuesTable, row)
		if recordError != nil {
			accumulator.Record(rowIndex, batch.Failed(rowKey(row), mapStageConstant, recordError))
			continue
		}
		records[rowIndex] = record
		if !record.RemoteID.IsZero() && !record.ProjectItemID.IsZero() {
			record.RetryStages = fieldmap.SplitValues(row.Get(tabular.ColumnFailedStages), mapper.separator)
			if len(record.RetryStages) > 0 {
				orchestrator.logger.Debug(retryingStagesLogMessageConstant, zap.Strings(stagesLogFieldConstant, record.RetryStages))
				pending = append(pending, rowIndex)
				continue
			}
			orchestrator.logger.Debug(alreadyMigratedLogMessageConstant)
			accumulator.Record(rowIndex, batch.NoOp(record.Key(), record.RemoteID))
			continue
		}
		pending = append(pending, rowIndex)
	}

	runner := batch.Runner{
		Phase:       string(PhaseMigrate),
		Parallelism: orchestrator.configuration.Processing.Parallelism,
		Key:         func(pendingIndex int) string { return records[pending[pendingIndex]].Key() },
		StopOn:      orchestrator.stopOn,
	}
	outcome := runner.Run(executionContext, len(pending), func(operationContext context.Context, pendingIndex int) batch.OperationResult {
		return pipeline.CreateComplete(operationContext, records[pending[pendingIndex]])
	})
	for pendingIndex, result := range outcome.Results {
		accumulator.Record(pending[pendingIndex], result)
	}
	if outcome.Stopped || outcome.Cancelled {
		accumulator.MarkAborted()
	}
	recordRowErrors(accumulator, issuesTable)

	results := accumulator.Results()
	resultsTable := tabular.NewTable(tabular.ResultsSchema())
	for rowIndex, row := range issuesTable.Rows {
		record := records[rowIndex]
		if record != nil && !orchestrator.configuration.Processing.DryRun {
			issuesTable.Set(rowIndex, tabular.ColumnTargetIssueID, record.RemoteID.String())
			issuesTable.Set(rowIndex, tabular.ColumnProjectItemID, record.ProjectItemID.String())
			if results[rowIndex].IsSuccess() {
				issuesTable.Set(rowIndex, tabular.ColumnFailedStages, strings.Join(issues.FailedStages(results[rowIndex]), mapper.separator))
			}
		}
		resultsTable.AppendRow(resultRow(row, record, results[rowIndex]))
	}
	workbook.PutTable(resultsTable)

	summary := orchestrator.finalizeSummary(PhaseMigrate, accumulator.Summary())
	if saveError := saveWorkbook(PhaseMigrate, workbook, outputPath, summary); saveError != nil {
		return PhaseReport{}, saveError
	}
	return orchestrator.completePhase(PhaseMigrate, summary, outputPath)
}

func resultRow(row tabular.Row, record *issues.IssueRecord, result batch.OperationResult) map[string]string {
	values := resultRowValues(result)
	values[tabular.ColumnRowNumber] = strconv.Itoa(row.Number)
	values[tabular.ColumnSourceIssueID] = row.Get(tabular.ColumnSourceIssueID)
	values[tabular.ColumnIssueTitle] = row.Get(tabular.ColumnIssueTitle)
	if record == nil {
		return values
	}
	values[tabular.ColumnTargetIssueID] = record.RemoteID.String()
	values[tabular.ColumnProjectItemID] = record.ProjectItemID.String()
	values[tabular.ColumnIssueURL] = record.URL
	if record.Number > 0 {
		values[tabular.ColumnIssueNumber] = strconv.Itoa(record.Number)
	}
	return values
}

// buildRecord maps row and converts it into an issue record.
func (mapper *rowMapper) buildRecord(table *tabular.Table, row tabular.Row) (*issues.IssueRecord, error) {
	mapped, failures := mapper.mapRow(table, row)
	if len(failures) > 0 {
		failureErrors := make([]error, 0, len(failures))
		for _, failure := range failures {
			failureErrors = append(failureErrors, failure.err)
		}
		return nil, errors.Join(failureErrors...)
	}
	value := func(column string) string {
		if mappedValue, exists := mapped[column]; exists {
			return mappedValue
		}
		return strings.TrimSpace(row.Get(column))
	}

	record := &issues.IssueRecord{
		RowNumber:     row.Number,
		SourceKey:     strings.TrimSpace(row.Get(tabular.ColumnSourceIssueID)),
		Title:         strings.TrimSpace(row.Get(tabular.ColumnIssueTitle)),
		Body:          row.Get(tabular.ColumnIssueBody),
		RepositoryID:  fieldmap.RemoteIdentifier(value(tabular.ColumnRepositoryID)),
		ProjectID:     fieldmap.RemoteIdentifier(value(tabular.ColumnProjectID)),
		MilestoneID:   fieldmap.RemoteIdentifier(value(tabular.ColumnMilestone)),
		IssueTypeID:   fieldmap.RemoteIdentifier(value(tabular.ColumnIssueType)),
		AssigneeIDs:   mapper.splitIdentifiers(value(tabular.ColumnAssignees)),
		LabelIDs:      mapper.splitIdentifiers(value(tabular.ColumnLabels)),
		Fields:        make(map[string]fieldmap.FieldValue),
		Comments:      mapper.comments(row),
		RemoteID:      fieldmap.RemoteIdentifier(strings.TrimSpace(row.Get(tabular.ColumnTargetIssueID))),
		ProjectItemID: fieldmap.RemoteIdentifier(strings.TrimSpace(row.Get(tabular.ColumnProjectItemID))),
	}

	for _, field := range mapper.fields {
		column, exists := table.Column(field.Name)
		if !exists {
			continue
		}
		fieldValue := value(column)
		if len(fieldValue) == 0 {
			continue
		}
		switch field.Type {
		case issues.FieldTypeSingleSelect, issues.FieldTypeIteration:
			record.Fields[field.Name] = fieldmap.IdentifierValue(fieldmap.RemoteIdentifier(fieldValue))
		default:
			record.Fields[field.Name] = fieldmap.TextValue(fieldValue)
		}
	}
	return record, nil
}

func (mapper *rowMapper) splitIdentifiers(raw string) []fieldmap.RemoteIdentifier {
	parts := fieldmap.SplitValues(raw, mapper.separator)
	identifiers := make([]fieldmap.RemoteIdentifier, 0, len(parts))
	for _, part := range parts {
		identifiers = append(identifiers, fieldmap.RemoteIdentifier(part))
	}
	return identifiers
}

// comments pairs the comments column with the comment authors column by position.
// Both columns are written with fieldmap.JoinEscaped, so bodies may contain the separator.
func (mapper *rowMapper) comments(row tabular.Row) []issues.Comment {
	bodies := fieldmap.SplitEscaped(row.Get(tabular.ColumnComments), mapper.separator)
	authors := fieldmap.SplitEscaped(row.Get(tabular.ColumnCommentAuthors), mapper.separator)
	var comments []issues.Comment
	for commentIndex, body := range bodies {
		trimmedBody := strings.TrimSpace(body)
		if len(trimmedBody) == 0 {
			continue
		}
		comment := issues.Comment{Body: trimmedBody}
		if commentIndex < len(authors) {
			comment.Author = strings.TrimSpace(authors[commentIndex])
		}
		comments = append(comments, comment)
	}
	return comments
}
