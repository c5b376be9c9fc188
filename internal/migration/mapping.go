package migration

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/issues"
	"github.com/temirov/ghmigrate/internal/tabular"
)

const (
	milestoneMappingFieldConstant = "milestone"
	labelsMappingFieldConstant    = "labels"
	issueTypeMappingFieldConstant = "issue type"
	mapStageConstant              = "map"
	rowKeyTemplateConstant        = "row %d"
	fieldsSourceLogFieldConstant  = "fields"
	fieldsFromSheetLogMessage     = "Using project fields from the Fields sheet"
)

// columnMappingError is one cell the mapping engine could not resolve.
type columnMappingError struct {
	column   string
	rawValue string
	err      error
}

// rowMapper replaces human values of an Issues row with identifiers. Mapping an
// already mapped row returns the same values, so the migrate phase reuses it.
type rowMapper struct {
	resolver     *fieldmap.Resolver
	fields       []issues.ProjectField
	separator    string
	repositoryID string
	projectID    string
}

// newRowMapper builds the mapping table for workbook. Project fields come from the
// configuration, or from the Fields sheet when none are configured; options listed on
// the Fields sheet serve as mappings for fields without configured values.
func (orchestrator *Orchestrator) newRowMapper(workbook *tabular.Workbook) (*rowMapper, error) {
	separator := orchestrator.configuration.Processing.Separator
	projectFields := orchestrator.projectFields
	mappingValues := maps.Clone(orchestrator.mapping.Values)
	if mappingValues == nil {
		mappingValues = make(map[string]map[string]string)
	}

	if fieldsTable, exists := workbook.Table(tabular.TableFields); exists {
		sheetFields, sheetOptions, fieldsError := fieldsFromTable(fieldsTable, separator)
		if fieldsError != nil {
			return nil, fieldsError
		}
		if len(projectFields) == 0 {
			projectFields = sheetFields
			orchestrator.logger.Debug(fieldsFromSheetLogMessage, zap.Int(fieldsSourceLogFieldConstant, len(sheetFields)))
		}
		for fieldName, options := range sheetOptions {
			if _, configured := mappingValues[fieldName]; configured {
				continue
			}
			mappingValues[fieldName] = options
		}
	}

	table, tableError := fieldmap.NewMappingTable(mappingValues, orchestrator.fieldRules)
	if tableError != nil {
		return nil, tableError
	}

	return &rowMapper{
		resolver:     fieldmap.NewResolver(table, fieldmap.ResolverOptions{Separator: separator}),
		fields:       projectFields,
		separator:    separator,
		repositoryID: orchestrator.configuration.Project.TargetRepositoryID,
		projectID:    orchestrator.configuration.Project.TargetProjectID,
	}, nil
}

func fieldsFromTable(fieldsTable *tabular.Table, separator string) ([]issues.ProjectField, map[string]map[string]string, error) {
	projectFields := make([]issues.ProjectField, 0, len(fieldsTable.Rows))
	options := make(map[string]map[string]string)
	for _, row := range fieldsTable.Rows {
		projectField, fieldError := newProjectField(row.Get(tabular.ColumnFieldName), row.Get(tabular.ColumnFieldID), row.Get(tabular.ColumnFieldType))
		if fieldError != nil {
			return nil, nil, fieldError
		}
		projectFields = append(projectFields, projectField)
		if fieldOptions := parseFieldOptions(row.Get(tabular.ColumnFieldOptions), separator); len(fieldOptions) > 0 {
			options[fieldmap.NormalizeKey(projectField.Name)] = fieldOptions
		}
	}
	return projectFields, options, nil
}

// mapRow returns the replacement value of every mapped column, or the cells that failed.
func (mapper *rowMapper) mapRow(table *tabular.Table, row tabular.Row) (map[string]string, []columnMappingError) {
	mapped := make(map[string]string)
	var failures []columnMappingError

	record := func(column string, rawValue string, resolved string, resolveError error) {
		if resolveError != nil {
			failures = append(failures, columnMappingError{column: column, rawValue: rawValue, err: resolveError})
			return
		}
		mapped[column] = resolved
	}

	milestone := row.Get(tabular.ColumnMilestone)
	milestoneID, milestoneError := mapper.resolver.Resolve(milestoneMappingFieldConstant, milestone)
	record(tabular.ColumnMilestone, milestone, milestoneID.String(), milestoneError)

	labels := row.Get(tabular.ColumnLabels)
	issueType := row.Get(tabular.ColumnIssueType)
	issueTypeID, issueTypeError := mapper.resolver.ResolveIssueType(issueTypeMappingFieldConstant, issueType, fieldmap.SplitValues(labels, mapper.separator))
	record(tabular.ColumnIssueType, issueType, issueTypeID.String(), issueTypeError)

	labelIDs, labelsError := mapper.resolver.ResolveList(labelsMappingFieldConstant, labels)
	record(tabular.ColumnLabels, labels, mapper.joinIdentifiers(labelIDs), labelsError)

	assignees := row.Get(tabular.ColumnAssignees)
	assigneeIDs, assigneesError := mapper.resolver.ResolveList(usersFieldNameConstant, assignees)
	record(tabular.ColumnAssignees, assignees, mapper.joinIdentifiers(assigneeIDs), assigneesError)

	for _, field := range mapper.fields {
		column, exists := table.Column(field.Name)
		if !exists {
			continue
		}
		rawValue := row.Get(column)
		resolved, resolveError := mapper.mapFieldValue(field, rawValue)
		record(column, rawValue, resolved, resolveError)
	}

	if len(mapper.repositoryID) > 0 {
		mapped[tabular.ColumnRepositoryID] = mapper.repositoryID
	}
	if len(mapper.projectID) > 0 {
		mapped[tabular.ColumnProjectID] = mapper.projectID
	}
	return mapped, failures
}

func (mapper *rowMapper) mapFieldValue(field issues.ProjectField, rawValue string) (string, error) {
	switch field.Type {
	case issues.FieldTypeSingleSelect, issues.FieldTypeIteration:
		identifier, resolveError := mapper.resolver.Resolve(field.Name, rawValue)
		return identifier.String(), resolveError
	case issues.FieldTypeDate:
		return fieldmap.NormalizeDate(rawValue)
	default:
		return strings.TrimSpace(rawValue), nil
	}
}

func (mapper *rowMapper) joinIdentifiers(identifiers []fieldmap.RemoteIdentifier) string {
	return fieldmap.IdentifierListValue(identifiers).Render(mapper.separator)
}

// Map resolves every mapped column of the Issues sheet in place. Rows with values that
// do not map are left unchanged, listed on the MappingErrors sheet and reported as failed.
func (orchestrator *Orchestrator) Map(executionContext context.Context, options PhaseOptions) (PhaseReport, error) {
	inputPath, outputPath := orchestrator.resolvePaths(PhaseMap, options)
	orchestrator.logPhaseStart(PhaseMap, inputPath)

	workbook, loadError := orchestrator.loadWorkbook(PhaseMap, inputPath)
	if loadError != nil {
		return PhaseReport{}, loadError
	}
	issuesTable, tableError := requireTable(PhaseMap, workbook, inputPath, tabular.TableIssues)
	if tableError != nil {
		return PhaseReport{}, tableError
	}
	mapper, mapperError := orchestrator.newRowMapper(workbook)
	if mapperError != nil {
		return PhaseReport{}, fatalPhaseError(PhaseMap, mapperError)
	}

	mappingErrorsTable := tabular.NewTable(tabular.MappingErrorsSchema())
	accumulator := batch.NewAccumulator(string(PhaseMap))
	for rowIndex, row := range issuesTable.Rows {
		key := rowKey(row)
		if executionContext.Err() != nil {
			accumulator.Record(rowIndex, batch.Failed(key, mapStageConstant, executionContext.Err()))
			accumulator.MarkAborted()
			continue
		}

		mapped, failures := mapper.mapRow(issuesTable, row)
		if len(failures) > 0 {
			failureErrors := make([]error, 0, len(failures))
			for _, failure := range failures {
				mappingErrorsTable.AppendRow(map[string]string{
					tabular.ColumnRowNumber:     strconv.Itoa(row.Number),
					tabular.ColumnSourceIssueID: row.Get(tabular.ColumnSourceIssueID),
					tabular.ColumnColumnName:    failure.column,
					tabular.ColumnRawValue:      failure.rawValue,
					tabular.ColumnErrors:        failure.err.Error(),
				})
				failureErrors = append(failureErrors, failure.err)
			}
			accumulator.Record(rowIndex, batch.Failed(key, mapStageConstant, errors.Join(failureErrors...)))
			continue
		}

		for column, value := range mapped {
			issuesTable.Set(rowIndex, column, value)
		}
		accumulator.Record(rowIndex, batch.Succeeded(key, ""))
	}
	recordRowErrors(accumulator, issuesTable)
	workbook.PutTable(mappingErrorsTable)

	summary := orchestrator.finalizeSummary(PhaseMap, accumulator.Summary())
	if saveError := saveWorkbook(PhaseMap, workbook, outputPath, summary); saveError != nil {
		return PhaseReport{}, saveError
	}
	return orchestrator.completePhase(PhaseMap, summary, outputPath)
}

func rowKey(row tabular.Row) string {
	if sourceIssueID := strings.TrimSpace(row.Get(tabular.ColumnSourceIssueID)); len(sourceIssueID) > 0 {
		return sourceIssueID
	}
	return fmt.Sprintf(rowKeyTemplateConstant, row.Number)
}
