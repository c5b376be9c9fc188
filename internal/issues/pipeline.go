package issues

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/githubapi"
)

// Stage names reported in results.
const (
	StageCreateIssue = "create-issue"
	StageProjectAdd  = "project-add"
	StageMilestone   = "milestone"
	StageIssueType   = "issue-type"
	StageAssignees   = "assignees"
	StageLabels      = "labels"
	StageDeleteIssue = "delete-issue"
)

const (
	fieldStagePrefixConstant          = "field:"
	commentStageTemplateConstant      = "comment:%d"
	commentAuthorTemplateConstant     = "[Author: %s] %s"
	dryRunIssueIDTemplateConstant     = "DRY_RUN_ISSUE_%d"
	dryRunProjectItemIDTemplate       = "DRY_RUN_ITEM_%d"
	createdIssueIDPathConstant        = "createIssue.issue.id"
	createdIssueNumberPathConstant    = "createIssue.issue.number"
	createdIssueURLPathConstant       = "createIssue.issue.url"
	projectItemIDPathConstant         = "addProjectV2ItemById.item.id"
	missingResponseFieldTemplate      = "response field %s missing"
	repositoryIDFieldNameConstant     = "repositoryId"
	projectIDFieldNameConstant        = "projectId"
	issueIDFieldNameConstant          = "issueId"
	requiredValueMessageConstant      = "required value missing"
	executorMissingMessageConstant    = "graphql executor not configured"
	recordMissingMessageConstant      = "issue record not provided"
	singleSelectValueKeyConstant      = "singleSelectOptionId"
	iterationValueKeyConstant         = "iterationId"
	dateValueKeyConstant              = "date"
	textValueKeyConstant              = "text"
	numberValueKeyConstant            = "number"
	issueKeyLogFieldConstant          = "issue"
	stageLogFieldConstant             = "stage"
	issueIDLogFieldConstant           = "issue_id"
	operationLogFieldConstant         = "operation"
	stageFailedLogMessageConstant     = "Issue stage failed"
	issueCreatedLogMessageConstant    = "Issue created"
	issueResumedLogMessageConstant    = "Resuming previously created issue"
	dryRunMutationLogMessageConstant  = "Dry run: skipping mutation"
	issueDeletedLogMessageConstant    = "Issue deleted"
	mutationVariablesUpdateIssueInput = "input"
	updateIssueIDInputKeyConstant     = "id"
	milestoneInputKeyConstant         = "milestoneId"
	issueTypeInputKeyConstant         = "issueTypeId"
	repositoryIDVariableConstant      = "repositoryId"
	titleVariableConstant             = "title"
	bodyVariableConstant              = "body"
	projectIDVariableConstant         = "projectId"
	contentIDVariableConstant         = "contentId"
	assignableIDVariableConstant      = "assignableId"
	assigneeIDsVariableConstant       = "assigneeIds"
	itemIDVariableConstant            = "itemId"
	fieldIDVariableConstant           = "fieldId"
	valueVariableConstant             = "value"
	labelableIDVariableConstant       = "labelableId"
	labelIDsVariableConstant          = "labelIds"
	subjectIDVariableConstant         = "subjectId"
	issueIDVariableConstant           = "issueId"
)

var (
	// ErrExecutorNotConfigured indicates NewPipeline received no GraphQL executor.
	ErrExecutorNotConfigured = errors.New(executorMissingMessageConstant)
	errRecordMissing         = errors.New(recordMissingMessageConstant)
)

// PipelineConfiguration holds the target coordinates shared by every record.
type PipelineConfiguration struct {
	RepositoryID fieldmap.RemoteIdentifier
	ProjectID    fieldmap.RemoteIdentifier
	Fields       []ProjectField
	DryRun       bool
}

// PipelineDependencies describes collaborators of the pipeline.
type PipelineDependencies struct {
	Executor githubapi.GraphQLExecutor
	Logger   *zap.Logger
}

// Pipeline creates issues stage by stage.
type Pipeline struct {
	executor       githubapi.GraphQLExecutor
	logger         *zap.Logger
	repositoryID   fieldmap.RemoteIdentifier
	projectID      fieldmap.RemoteIdentifier
	fields         map[string]ProjectField
	dryRun         bool
	dryRunSequence atomic.Int64
}

type createdIssue struct {
	id     fieldmap.RemoteIdentifier
	number int
	url    string
}

// NewPipeline constructs a Pipeline.
func NewPipeline(configuration PipelineConfiguration, dependencies PipelineDependencies) (*Pipeline, error) {
	if dependencies.Executor == nil && !configuration.DryRun {
		return nil, ErrExecutorNotConfigured
	}

	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fields := make(map[string]ProjectField, len(configuration.Fields))
	for _, field := range configuration.Fields {
		fields[fieldmap.NormalizeKey(field.Name)] = field
	}

	return &Pipeline{
		executor:     dependencies.Executor,
		logger:       logger,
		repositoryID: configuration.RepositoryID,
		projectID:    configuration.ProjectID,
		fields:       fields,
		dryRun:       configuration.DryRun,
	}, nil
}

// CreateComplete creates the issue described by record and applies every stage.
// Identifiers obtained along the way are attached to record, so a later call
// resumes after the last primary stage that succeeded.
func (pipeline *Pipeline) CreateComplete(executionContext context.Context, record *IssueRecord) batch.OperationResult {
	if record == nil {
		return batch.Failed("", StageCreateIssue, errRecordMissing)
	}
	key := record.Key()
	stageLogger := pipeline.logger.With(zap.String(issueKeyLogFieldConstant, key))

	repositoryID := record.RepositoryID
	if repositoryID.IsZero() {
		repositoryID = pipeline.repositoryID
	}
	projectID := record.ProjectID
	if projectID.IsZero() {
		projectID = pipeline.projectID
	}

	if record.RemoteID.IsZero() {
		if repositoryID.IsZero() {
			return batch.Failed(key, StageCreateIssue, githubapi.InvalidInputError{FieldName: repositoryIDFieldNameConstant, Message: requiredValueMessageConstant})
		}
		created, createError := pipeline.createIssue(executionContext, repositoryID, record)
		if createError != nil {
			stageLogger.Warn(stageFailedLogMessageConstant, zap.String(stageLogFieldConstant, StageCreateIssue), zap.Error(createError))
			return batch.Failed(key, StageCreateIssue, createError)
		}
		record.RemoteID = created.id
		record.Number = created.number
		record.URL = created.url
		stageLogger.Info(issueCreatedLogMessageConstant, zap.String(issueIDLogFieldConstant, created.id.String()))
	} else {
		stageLogger.Debug(issueResumedLogMessageConstant, zap.String(issueIDLogFieldConstant, record.RemoteID.String()))
	}

	if record.ProjectItemID.IsZero() {
		itemID, addError := pipeline.addToProject(executionContext, projectID, record.RemoteID)
		if addError != nil {
			stageLogger.Warn(stageFailedLogMessageConstant, zap.String(stageLogFieldConstant, StageProjectAdd), zap.Error(addError))
			result := batch.Failed(key, StageProjectAdd, PartialCreationError{IssueID: record.RemoteID, Stage: StageProjectAdd, Cause: addError})
			result.RemoteID = record.RemoteID
			return result
		}
		record.ProjectItemID = itemID
	}

	var subErrors []batch.StageError
	run := func(stage string, apply func() error) {
		if !record.runsStage(stage) {
			return
		}
		stageError := apply()
		if stageError == nil {
			return
		}
		stageLogger.Warn(stageFailedLogMessageConstant, zap.String(stageLogFieldConstant, stage), zap.Error(stageError))
		subErrors = append(subErrors, batch.NewStageError(stage, stageError))
	}

	if !record.MilestoneID.IsZero() {
		run(StageMilestone, func() error {
			return pipeline.updateIssue(executionContext, record.RemoteID, milestoneInputKeyConstant, record.MilestoneID)
		})
	}
	if !record.IssueTypeID.IsZero() {
		run(StageIssueType, func() error {
			return pipeline.updateIssue(executionContext, record.RemoteID, issueTypeInputKeyConstant, record.IssueTypeID)
		})
	}
	if assigneeIDs := nonEmptyIdentifiers(record.AssigneeIDs); len(assigneeIDs) > 0 {
		run(StageAssignees, func() error {
			return pipeline.mutate(executionContext, addAssigneesOperationName, addAssigneesMutation, map[string]any{
				assignableIDVariableConstant: record.RemoteID,
				assigneeIDsVariableConstant:  assigneeIDs,
			})
		})
	}
	for _, fieldName := range slices.Sorted(maps.Keys(record.Fields)) {
		fieldValue := record.Fields[fieldName]
		if fieldValue.IsEmpty() {
			continue
		}
		run(fieldStagePrefixConstant+fieldName, func() error {
			return pipeline.updateField(executionContext, projectID, record.ProjectItemID, fieldName, fieldValue)
		})
	}
	if labelIDs := nonEmptyIdentifiers(record.LabelIDs); len(labelIDs) > 0 {
		run(StageLabels, func() error {
			return pipeline.mutate(executionContext, addLabelsOperationName, addLabelsMutation, map[string]any{
				labelableIDVariableConstant: record.RemoteID,
				labelIDsVariableConstant:    labelIDs,
			})
		})
	}
	for commentIndex, comment := range record.Comments {
		if len(strings.TrimSpace(comment.Body)) == 0 {
			continue
		}
		run(fmt.Sprintf(commentStageTemplateConstant, commentIndex+1), func() error {
			return pipeline.mutate(executionContext, addCommentOperationName, addCommentMutation, map[string]any{
				subjectIDVariableConstant: record.RemoteID,
				bodyVariableConstant:      FormatComment(comment),
			})
		})
	}

	return batch.Completed(key, record.RemoteID, subErrors)
}

// DeleteIssue removes an issue. It is meant for manual cleanup of partial creations.
func (pipeline *Pipeline) DeleteIssue(executionContext context.Context, issueID fieldmap.RemoteIdentifier) error {
	if issueID.IsZero() {
		return githubapi.InvalidInputError{FieldName: issueIDFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if deleteError := pipeline.mutate(executionContext, deleteIssueOperationName, deleteIssueMutation, map[string]any{issueIDVariableConstant: issueID}); deleteError != nil {
		return deleteError
	}
	pipeline.logger.Info(issueDeletedLogMessageConstant, zap.String(issueIDLogFieldConstant, issueID.String()))
	return nil
}

// FormatComment prefixes the body with the original author when known.
func FormatComment(comment Comment) string {
	author := strings.TrimSpace(comment.Author)
	if len(author) == 0 {
		return comment.Body
	}
	return fmt.Sprintf(commentAuthorTemplateConstant, author, comment.Body)
}

func (pipeline *Pipeline) createIssue(executionContext context.Context, repositoryID fieldmap.RemoteIdentifier, record *IssueRecord) (createdIssue, error) {
	if pipeline.dryRun {
		sequence := pipeline.dryRunSequence.Add(1)
		pipeline.logDryRun(createIssueOperationName)
		return createdIssue{id: fieldmap.RemoteIdentifier(fmt.Sprintf(dryRunIssueIDTemplateConstant, sequence))}, nil
	}

	data, executionError := pipeline.executor.ExecuteGraphQL(executionContext, githubapi.GraphQLRequest{
		Name:  createIssueOperationName,
		Query: createIssueMutation,
		Variables: map[string]any{
			repositoryIDVariableConstant: repositoryID,
			titleVariableConstant:        record.Title,
			bodyVariableConstant:         record.Body,
		},
	})
	if executionError != nil {
		return createdIssue{}, executionError
	}

	issueID := gjson.GetBytes(data, createdIssueIDPathConstant)
	if len(issueID.String()) == 0 {
		return createdIssue{}, missingResponseField(createIssueOperationName, createdIssueIDPathConstant)
	}
	return createdIssue{
		id:     fieldmap.RemoteIdentifier(issueID.String()),
		number: int(gjson.GetBytes(data, createdIssueNumberPathConstant).Int()),
		url:    gjson.GetBytes(data, createdIssueURLPathConstant).String(),
	}, nil
}

func (pipeline *Pipeline) addToProject(executionContext context.Context, projectID fieldmap.RemoteIdentifier, issueID fieldmap.RemoteIdentifier) (fieldmap.RemoteIdentifier, error) {
	if projectID.IsZero() {
		return "", githubapi.InvalidInputError{FieldName: projectIDFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if pipeline.dryRun {
		sequence := pipeline.dryRunSequence.Add(1)
		pipeline.logDryRun(addProjectItemOperationName)
		return fieldmap.RemoteIdentifier(fmt.Sprintf(dryRunProjectItemIDTemplate, sequence)), nil
	}

	data, executionError := pipeline.executor.ExecuteGraphQL(executionContext, githubapi.GraphQLRequest{
		Name:      addProjectItemOperationName,
		Query:     addProjectItemMutation,
		Variables: map[string]any{projectIDVariableConstant: projectID, contentIDVariableConstant: issueID},
	})
	if executionError != nil {
		return "", executionError
	}

	itemID := gjson.GetBytes(data, projectItemIDPathConstant).String()
	if len(itemID) == 0 {
		return "", missingResponseField(addProjectItemOperationName, projectItemIDPathConstant)
	}
	return fieldmap.RemoteIdentifier(itemID), nil
}

func (pipeline *Pipeline) updateIssue(executionContext context.Context, issueID fieldmap.RemoteIdentifier, inputKey string, value fieldmap.RemoteIdentifier) error {
	return pipeline.mutate(executionContext, updateIssueOperationName, updateIssueMutation, map[string]any{
		mutationVariablesUpdateIssueInput: map[string]any{
			updateIssueIDInputKeyConstant: issueID,
			inputKey:                      value,
		},
	})
}

func (pipeline *Pipeline) updateField(executionContext context.Context, projectID fieldmap.RemoteIdentifier, itemID fieldmap.RemoteIdentifier, fieldName string, value fieldmap.FieldValue) error {
	field, defined := pipeline.fields[fieldmap.NormalizeKey(fieldName)]
	if !defined {
		return FieldValueError{FieldName: fieldName, Message: fmt.Sprintf(unknownFieldErrorTemplateConstant, fieldName)}
	}
	valueInput, valueError := fieldValueInput(field, value)
	if valueError != nil {
		return valueError
	}
	return pipeline.mutate(executionContext, updateFieldValueOperationName, updateFieldValueMutation, map[string]any{
		projectIDVariableConstant: projectID,
		itemIDVariableConstant:    itemID,
		fieldIDVariableConstant:   field.ID,
		valueVariableConstant:     valueInput,
	})
}

func (pipeline *Pipeline) mutate(executionContext context.Context, operationName string, query string, variables map[string]any) error {
	if pipeline.dryRun {
		pipeline.logDryRun(operationName)
		return nil
	}
	_, executionError := pipeline.executor.ExecuteGraphQL(executionContext, githubapi.GraphQLRequest{Name: operationName, Query: query, Variables: variables})
	return executionError
}

func (pipeline *Pipeline) logDryRun(operationName string) {
	pipeline.logger.Info(dryRunMutationLogMessageConstant, zap.String(operationLogFieldConstant, operationName))
}

func fieldValueInput(field ProjectField, value fieldmap.FieldValue) (map[string]any, error) {
	scalar, scalarError := scalarFieldText(field, value)
	if scalarError != nil {
		return nil, scalarError
	}

	switch field.Type {
	case FieldTypeSingleSelect:
		return map[string]any{singleSelectValueKeyConstant: scalar}, nil
	case FieldTypeIteration:
		return map[string]any{iterationValueKeyConstant: scalar}, nil
	case FieldTypeDate:
		normalizedDate, dateError := fieldmap.NormalizeDate(scalar)
		if dateError != nil {
			return nil, FieldValueError{FieldName: field.Name, Message: dateError.Error()}
		}
		return map[string]any{dateValueKeyConstant: normalizedDate}, nil
	case FieldTypeText:
		return map[string]any{textValueKeyConstant: scalar}, nil
	case FieldTypeNumber:
		number, parseError := strconv.ParseFloat(strings.TrimSpace(scalar), 64)
		if parseError != nil {
			return nil, FieldValueError{FieldName: field.Name, Message: fmt.Sprintf(invalidNumberErrorTemplateConstant, field.Name, scalar)}
		}
		return map[string]any{numberValueKeyConstant: number}, nil
	default:
		return nil, FieldValueError{FieldName: field.Name, Message: fmt.Sprintf(unsupportedValueErrorTemplate, field.Name, field.Type)}
	}
}

func scalarFieldText(field ProjectField, value fieldmap.FieldValue) (string, error) {
	switch value.Kind() {
	case fieldmap.FieldValueKindText:
		return strings.TrimSpace(value.Text()), nil
	case fieldmap.FieldValueKindIdentifier:
		return value.Identifier().String(), nil
	case fieldmap.FieldValueKindList:
		var nonEmptyItems []fieldmap.FieldValue
		for _, item := range value.Items() {
			if !item.IsEmpty() {
				nonEmptyItems = append(nonEmptyItems, item)
			}
		}
		if len(nonEmptyItems) != 1 {
			return "", FieldValueError{FieldName: field.Name, Message: fmt.Sprintf(unsupportedValueErrorTemplate, field.Name, value.Kind())}
		}
		return scalarFieldText(field, nonEmptyItems[0])
	default:
		return "", FieldValueError{FieldName: field.Name, Message: fmt.Sprintf(unsupportedValueErrorTemplate, field.Name, value.Kind())}
	}
}

func nonEmptyIdentifiers(identifiers []fieldmap.RemoteIdentifier) []fieldmap.RemoteIdentifier {
	filtered := make([]fieldmap.RemoteIdentifier, 0, len(identifiers))
	for _, identifier := range identifiers {
		if !identifier.IsZero() && !slices.Contains(filtered, identifier) {
			filtered = append(filtered, identifier)
		}
	}
	return filtered
}

func missingResponseField(operationName string, path string) error {
	return githubapi.ResponseDecodingError{Operation: operationName, Cause: fmt.Errorf(missingResponseFieldTemplate, path)}
}
