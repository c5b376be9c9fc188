package issues_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/githubapi"
	"github.com/temirov/ghmigrate/internal/issues"
)

const (
	testRepositoryID  fieldmap.RemoteIdentifier = "R_kgDOTarget"
	testProjectID     fieldmap.RemoteIdentifier = "PVT_kwDOTarget"
	testIssueID       fieldmap.RemoteIdentifier = "I_kwDONew1"
	testProjectItemID fieldmap.RemoteIdentifier = "PVTI_lADONew1"
)

const (
	statusFieldName           = "Status"
	startDateFieldName        = "Start Date"
	estimateFieldName         = "Estimate"
	createIssueResponse       = `{"createIssue":{"issue":{"id":"I_kwDONew1","number":42,"url":"https://github.com/acme/target/issues/42"}}}`
	addProjectItemResponse    = `{"addProjectV2ItemById":{"item":{"id":"PVTI_lADONew1"}}}`
	emptyMutationResponse     = `{}`
	addAssigneesOperation     = "addAssigneesToAssignable"
	createIssueOperation      = "createIssue"
	addProjectItemOperation   = "addProjectV2ItemById"
	updateIssueOperation      = "updateIssue"
	updateFieldValueOperation = "updateProjectV2ItemFieldValue"
	addLabelsOperation        = "addLabelsToLabelable"
	addCommentOperation       = "addComment"
	deleteIssueOperation      = "deleteIssue"
)

type stubGraphQLExecutor struct {
	mutex     sync.Mutex
	requests  []githubapi.GraphQLRequest
	responses map[string]string
	failures  map[string]error
}

func newStubGraphQLExecutor() *stubGraphQLExecutor {
	return &stubGraphQLExecutor{
		responses: map[string]string{
			createIssueOperation:    createIssueResponse,
			addProjectItemOperation: addProjectItemResponse,
		},
		failures: map[string]error{},
	}
}

func (executor *stubGraphQLExecutor) ExecuteGraphQL(_ context.Context, request githubapi.GraphQLRequest) (json.RawMessage, error) {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	executor.requests = append(executor.requests, request)
	if failure, exists := executor.failures[request.Name]; exists {
		return nil, failure
	}
	if response, exists := executor.responses[request.Name]; exists {
		return json.RawMessage(response), nil
	}
	return json.RawMessage(emptyMutationResponse), nil
}

func (executor *stubGraphQLExecutor) operationNames() []string {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	names := make([]string, 0, len(executor.requests))
	for _, request := range executor.requests {
		names = append(names, request.Name)
	}
	return names
}

func (executor *stubGraphQLExecutor) requestsNamed(name string) []githubapi.GraphQLRequest {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	var matching []githubapi.GraphQLRequest
	for _, request := range executor.requests {
		if request.Name == name {
			matching = append(matching, request)
		}
	}
	return matching
}

func newTestPipeline(testInstance *testing.T, executor githubapi.GraphQLExecutor, dryRun bool, logger *zap.Logger) *issues.Pipeline {
	testInstance.Helper()
	pipeline, pipelineError := issues.NewPipeline(issues.PipelineConfiguration{
		RepositoryID: testRepositoryID,
		ProjectID:    testProjectID,
		Fields: []issues.ProjectField{
			{Name: statusFieldName, ID: "PVTSSF_status", Type: issues.FieldTypeSingleSelect},
			{Name: startDateFieldName, ID: "PVTF_start", Type: issues.FieldTypeDate},
			{Name: estimateFieldName, ID: "PVTF_estimate", Type: issues.FieldTypeNumber},
		},
		DryRun: dryRun,
	}, issues.PipelineDependencies{Executor: executor, Logger: logger})
	require.NoError(testInstance, pipelineError)
	return pipeline
}

func completeRecord() *issues.IssueRecord {
	return &issues.IssueRecord{
		RowNumber:   2,
		SourceKey:   "I_kwDOSource1",
		Title:       "Broken login",
		Body:        "Steps to reproduce",
		MilestoneID: "MI_kwDOSprint",
		IssueTypeID: "IT_kwDOBug",
		AssigneeIDs: []fieldmap.RemoteIdentifier{"U_kgDOAlice", "U_kgDOAlice", "U_kgDOBob"},
		LabelIDs:    []fieldmap.RemoteIdentifier{"LA_kwDOBug"},
		Fields: map[string]fieldmap.FieldValue{
			statusFieldName:    fieldmap.IdentifierValue("47fc9ee4"),
			startDateFieldName: fieldmap.TextValue("03/05/2024"),
			estimateFieldName:  fieldmap.TextValue("3.5"),
		},
		Comments: []issues.Comment{
			{Author: "alice", Body: "First"},
			{Body: "Second"},
		},
	}
}

func TestCreateCompleteRunsEveryStageInOrder(testInstance *testing.T) {
	executor := newStubGraphQLExecutor()
	pipeline := newTestPipeline(testInstance, executor, false, nil)
	record := completeRecord()

	result := pipeline.CreateComplete(context.Background(), record)

	require.Equal(testInstance, batch.StatusSucceeded, result.Status)
	require.Equal(testInstance, testIssueID, result.RemoteID)
	require.Equal(testInstance, "I_kwDOSource1", result.Key)
	require.Equal(testInstance, testIssueID, record.RemoteID)
	require.Equal(testInstance, testProjectItemID, record.ProjectItemID)
	require.Equal(testInstance, 42, record.Number)
	require.Equal(testInstance, "https://github.com/acme/target/issues/42", record.URL)

	require.Equal(testInstance, []string{
		createIssueOperation,
		addProjectItemOperation,
		updateIssueOperation,
		updateIssueOperation,
		addAssigneesOperation,
		updateFieldValueOperation,
		updateFieldValueOperation,
		updateFieldValueOperation,
		addLabelsOperation,
		addCommentOperation,
		addCommentOperation,
	}, executor.operationNames())

	assigneeRequests := executor.requestsNamed(addAssigneesOperation)
	require.Equal(testInstance, []fieldmap.RemoteIdentifier{"U_kgDOAlice", "U_kgDOBob"}, assigneeRequests[0].Variables["assigneeIds"])

	fieldRequests := executor.requestsNamed(updateFieldValueOperation)
	require.Equal(testInstance, map[string]any{"number": 3.5}, fieldRequests[0].Variables["value"])
	require.Equal(testInstance, map[string]any{"date": "2024-03-05"}, fieldRequests[1].Variables["value"])
	require.Equal(testInstance, map[string]any{"singleSelectOptionId": "47fc9ee4"}, fieldRequests[2].Variables["value"])
	require.Equal(testInstance, fieldmap.RemoteIdentifier("PVTSSF_status"), fieldRequests[2].Variables["fieldId"])
	require.Equal(testInstance, testProjectItemID, fieldRequests[2].Variables["itemId"])

	commentRequests := executor.requestsNamed(addCommentOperation)
	require.Equal(testInstance, "[Author: alice] First", commentRequests[0].Variables["body"])
	require.Equal(testInstance, "Second", commentRequests[1].Variables["body"])
}

func TestCreateCompleteCollectsSecondaryStageFailures(testInstance *testing.T) {
	executor := newStubGraphQLExecutor()
	executor.failures[addAssigneesOperation] = githubapi.TransportError{Kind: githubapi.ErrorKindPermanent, StatusCode: 422, Message: "assignee not found"}
	pipeline := newTestPipeline(testInstance, executor, false, nil)
	record := completeRecord()

	result := pipeline.CreateComplete(context.Background(), record)

	require.Equal(testInstance, batch.StatusSucceededWithErrors, result.Status)
	require.True(testInstance, result.IsSuccess())
	require.Equal(testInstance, testIssueID, result.RemoteID)
	require.Len(testInstance, result.SubErrors, 1)
	require.Equal(testInstance, issues.StageAssignees, result.SubErrors[0].Stage)
	require.Equal(testInstance, batch.ErrorKindPermanent, result.SubErrors[0].Kind)

	require.Len(testInstance, executor.requestsNamed(updateFieldValueOperation), 3)
	require.Len(testInstance, executor.requestsNamed(addLabelsOperation), 1)
	require.Len(testInstance, executor.requestsNamed(addCommentOperation), 2)
}

func TestCreateCompleteFailureStopsAllStages(testInstance *testing.T) {
	executor := newStubGraphQLExecutor()
	executor.failures[createIssueOperation] = githubapi.TransportError{Kind: githubapi.ErrorKindPermanent, StatusCode: 422}
	pipeline := newTestPipeline(testInstance, executor, false, nil)
	record := completeRecord()

	result := pipeline.CreateComplete(context.Background(), record)

	require.Equal(testInstance, batch.StatusFailed, result.Status)
	require.Equal(testInstance, issues.StageCreateIssue, result.FailedStage)
	require.True(testInstance, record.RemoteID.IsZero())
	require.Equal(testInstance, []string{createIssueOperation}, executor.operationNames())
}

func TestProjectAddFailureAttachesIdentifierAndResumes(testInstance *testing.T) {
	executor := newStubGraphQLExecutor()
	executor.failures[addProjectItemOperation] = githubapi.TransportError{Kind: githubapi.ErrorKindTransient, StatusCode: 502}
	pipeline := newTestPipeline(testInstance, executor, false, nil)
	record := completeRecord()

	result := pipeline.CreateComplete(context.Background(), record)

	require.Equal(testInstance, batch.StatusFailed, result.Status)
	require.Equal(testInstance, issues.StageProjectAdd, result.FailedStage)
	require.Equal(testInstance, batch.ErrorKindPartialCreation, result.ErrorKind)
	require.Equal(testInstance, testIssueID, result.RemoteID)
	require.Equal(testInstance, testIssueID, record.RemoteID)

	var partialError issues.PartialCreationError
	require.True(testInstance, errors.As(result.Err, &partialError))
	require.Equal(testInstance, testIssueID, partialError.IssueID)
	require.Equal(testInstance, []string{createIssueOperation, addProjectItemOperation}, executor.operationNames())

	delete(executor.failures, addProjectItemOperation)
	resumed := pipeline.CreateComplete(context.Background(), record)

	require.Equal(testInstance, batch.StatusSucceeded, resumed.Status)
	require.Len(testInstance, executor.requestsNamed(createIssueOperation), 1)
	require.Len(testInstance, executor.requestsNamed(addProjectItemOperation), 2)
}

func TestCreateCompleteRetriesOnlyNamedStages(testInstance *testing.T) {
	executor := newStubGraphQLExecutor()
	pipeline := newTestPipeline(testInstance, executor, false, nil)
	record := completeRecord()
	record.RemoteID = testIssueID
	record.ProjectItemID = testProjectItemID
	record.RetryStages = []string{issues.StageAssignees, "comment:2"}

	result := pipeline.CreateComplete(context.Background(), record)

	require.Equal(testInstance, batch.StatusSucceeded, result.Status)
	require.Equal(testInstance, []string{addAssigneesOperation, addCommentOperation}, executor.operationNames())
	require.Equal(testInstance, issues.FormatComment(issues.Comment{Body: "Second"}), executor.requestsNamed(addCommentOperation)[0].Variables["body"])
}

func TestFailedStagesListsSecondaryFailures(testInstance *testing.T) {
	executor := newStubGraphQLExecutor()
	executor.failures[addLabelsOperation] = githubapi.TransportError{Kind: githubapi.ErrorKindPermanent, StatusCode: 422}
	executor.failures[updateIssueOperation] = githubapi.TransportError{Kind: githubapi.ErrorKindPermanent, StatusCode: 422}
	pipeline := newTestPipeline(testInstance, executor, false, nil)

	result := pipeline.CreateComplete(context.Background(), completeRecord())

	require.Equal(testInstance, []string{issues.StageMilestone, issues.StageIssueType, issues.StageLabels}, issues.FailedStages(result))
	require.Empty(testInstance, issues.FailedStages(batch.Succeeded("row 2", testIssueID)))
}

func TestCreateCompleteReportsUndefinedAndInvalidFields(testInstance *testing.T) {
	executor := newStubGraphQLExecutor()
	pipeline := newTestPipeline(testInstance, executor, false, nil)
	record := &issues.IssueRecord{
		RowNumber: 7,
		Title:     "Field trouble",
		Fields: map[string]fieldmap.FieldValue{
			"Unknown":         fieldmap.TextValue("x"),
			estimateFieldName: fieldmap.TextValue("several"),
			statusFieldName:   fieldmap.TextValue(""),
		},
	}

	result := pipeline.CreateComplete(context.Background(), record)

	require.Equal(testInstance, "row 7", result.Key)
	require.Equal(testInstance, batch.StatusSucceededWithErrors, result.Status)
	require.Len(testInstance, result.SubErrors, 2)
	require.Equal(testInstance, "field:"+estimateFieldName, result.SubErrors[0].Stage)
	require.Equal(testInstance, "field:Unknown", result.SubErrors[1].Stage)
	require.Equal(testInstance, batch.ErrorKindInvalidInput, result.SubErrors[1].Kind)
	require.Empty(testInstance, executor.requestsNamed(updateFieldValueOperation))
}

func TestDryRunPerformsNoRemoteCalls(testInstance *testing.T) {
	core, observedLogs := observer.New(zapcore.InfoLevel)
	pipeline := newTestPipeline(testInstance, nil, true, zap.New(core))
	record := completeRecord()

	result := pipeline.CreateComplete(context.Background(), record)

	require.Equal(testInstance, batch.StatusSucceeded, result.Status)
	require.Equal(testInstance, fieldmap.RemoteIdentifier("DRY_RUN_ISSUE_1"), record.RemoteID)
	require.Equal(testInstance, fieldmap.RemoteIdentifier("DRY_RUN_ITEM_2"), record.ProjectItemID)
	require.NotZero(testInstance, observedLogs.FilterMessage("Dry run: skipping mutation").Len())
}

func TestDeleteIssue(testInstance *testing.T) {
	executor := newStubGraphQLExecutor()
	pipeline := newTestPipeline(testInstance, executor, false, nil)

	require.NoError(testInstance, pipeline.DeleteIssue(context.Background(), testIssueID))
	deleteRequests := executor.requestsNamed(deleteIssueOperation)
	require.Len(testInstance, deleteRequests, 1)
	require.Equal(testInstance, testIssueID, deleteRequests[0].Variables["issueId"])

	var inputError githubapi.InvalidInputError
	require.True(testInstance, errors.As(pipeline.DeleteIssue(context.Background(), ""), &inputError))
}

func TestParseFieldType(testInstance *testing.T) {
	testCases := []struct {
		raw      string
		expected issues.FieldType
	}{
		{raw: "SINGLE_SELECT", expected: issues.FieldTypeSingleSelect},
		{raw: "singleSelect", expected: issues.FieldTypeSingleSelect},
		{raw: "ProjectV2IterationField", expected: issues.FieldTypeIteration},
		{raw: " date ", expected: issues.FieldTypeDate},
		{raw: "NUMBER", expected: issues.FieldTypeNumber},
	}
	for _, testCase := range testCases {
		fieldType, known := issues.ParseFieldType(testCase.raw)
		require.True(testInstance, known, testCase.raw)
		require.Equal(testInstance, testCase.expected, fieldType, testCase.raw)
	}

	_, known := issues.ParseFieldType("formula")
	require.False(testInstance, known)
}

func TestNewPipelineRequiresExecutor(testInstance *testing.T) {
	_, pipelineError := issues.NewPipeline(issues.PipelineConfiguration{}, issues.PipelineDependencies{})
	require.ErrorIs(testInstance, pipelineError, issues.ErrExecutorNotConfigured)
}
