package labels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/githubapi"
)

const (
	phaseNameConstant              = "labels"
	listStageConstant              = "list-labels"
	createStageConstant            = "create-label"
	validateStageConstant          = "validate"
	listLabelsOperationName        = "repositoryLabels"
	createLabelOperationName       = "createLabel"
	createLabelPathTemplate        = "repos/%s/%s/labels"
	labelsConnectionPathConstant   = "repository.labels"
	labelIDPathConstant            = "id"
	labelNamePathConstant          = "name"
	createdLabelNodeIDPath         = "node_id"
	ownerVariableConstant          = "owner"
	nameVariableConstant           = "name"
	bodyNameKeyConstant            = "name"
	bodyColorKeyConstant           = "color"
	bodyDescriptionKeyConstant     = "description"
	ownerFieldNameConstant         = "owner"
	repositoryFieldNameConstant    = "repository"
	requiredValueMessageConstant   = "required value missing"
	executorMissingMessageConstant = "remote executor not configured"
	labelLogFieldConstant          = "label"
	labelCreatedLogMessage         = "Label created"
	labelExistsLogMessage          = "Label already present"
	labelFailedLogMessage          = "Label creation failed"
	dryRunLogMessageConstant       = "Dry run: skipping label creation"
	defaultParallelismConstant     = 4
	listLabelsQuery                = `query($owner: String!, $name: String!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    labels(first: $first, after: $after) {
      nodes { id name color description }
      pageInfo { hasNextPage endCursor }
    }
  }
}`
)

// ErrExecutorNotConfigured indicates NewSynchronizer received no remote executor.
var ErrExecutorNotConfigured = errors.New(executorMissingMessageConstant)

// RemoteExecutor performs the GraphQL and REST calls of the synchronizer.
type RemoteExecutor interface {
	ExecuteGraphQL(executionContext context.Context, request githubapi.GraphQLRequest) (json.RawMessage, error)
	ExecuteREST(executionContext context.Context, request githubapi.RESTRequest) (githubapi.RawResponse, error)
}

// SynchronizerConfiguration names the target repository.
type SynchronizerConfiguration struct {
	Owner       string
	Repository  string
	Parallelism int
	DryRun      bool
	// StopOn ends scheduling of further creations when it matches a result.
	// Authentication failures always stop.
	StopOn func(batch.OperationResult) bool
}

// SynchronizerDependencies describes collaborators of the synchronizer.
type SynchronizerDependencies struct {
	Executor RemoteExecutor
	Logger   *zap.Logger
}

// Synchronizer creates absent labels on the target repository.
type Synchronizer struct {
	executor      RemoteExecutor
	logger        *zap.Logger
	configuration SynchronizerConfiguration
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(configuration SynchronizerConfiguration, dependencies SynchronizerDependencies) (*Synchronizer, error) {
	if dependencies.Executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	if len(strings.TrimSpace(configuration.Owner)) == 0 {
		return nil, githubapi.InvalidInputError{FieldName: ownerFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if len(strings.TrimSpace(configuration.Repository)) == 0 {
		return nil, githubapi.InvalidInputError{FieldName: repositoryFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if configuration.Parallelism < 1 {
		configuration.Parallelism = defaultParallelismConstant
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{executor: dependencies.Executor, logger: logger, configuration: configuration}, nil
}

// Sync creates every absent label and returns the definitions with target identifiers attached.
func (synchronizer *Synchronizer) Sync(executionContext context.Context, definitions []Definition) (batch.BatchSummary, []Definition) {
	synchronized, _, summary := synchronizer.Execute(executionContext, definitions)
	return summary, synchronized
}

// Execute is Sync with per-definition results in input order.
func (synchronizer *Synchronizer) Execute(executionContext context.Context, definitions []Definition) ([]Definition, []batch.OperationResult, batch.BatchSummary) {
	synchronized := append([]Definition{}, definitions...)
	accumulator := batch.NewAccumulator(phaseNameConstant)

	existing, listError := synchronizer.ExistingLabels(executionContext)
	if listError != nil {
		for definitionIndex, definition := range synchronized {
			accumulator.Record(definitionIndex, batch.Failed(definition.Name, listStageConstant, listError))
		}
		if githubapi.IsAuthentication(listError) || errors.Is(listError, context.Canceled) {
			accumulator.MarkAborted()
		}
		return synchronized, accumulator.Results(), accumulator.Summary()
	}

	var creations []int
	firstByName := make(map[string]int)
	var duplicates []int
	for definitionIndex, definition := range synchronized {
		name := strings.TrimSpace(definition.Name)
		if len(name) == 0 {
			accumulator.Record(definitionIndex, batch.Failed(definition.Name, validateStageConstant, githubapi.InvalidInputError{FieldName: definitionNameFieldNameConstant, Message: definitionNameRequiredMessage}))
			continue
		}
		if targetID, exists := existing[name]; exists {
			synchronized[definitionIndex].TargetID = targetID
			accumulator.Record(definitionIndex, batch.NoOp(name, targetID))
			continue
		}
		if _, seen := firstByName[name]; seen {
			duplicates = append(duplicates, definitionIndex)
			continue
		}
		if _, colorError := NormalizeColor(definition.Color); colorError != nil {
			accumulator.Record(definitionIndex, batch.Failed(name, validateStageConstant, githubapi.InvalidInputError{FieldName: definitionColorFieldNameConstant, Message: colorError.Error()}))
			continue
		}
		firstByName[name] = definitionIndex
		creations = append(creations, definitionIndex)
	}

	runner := batch.Runner{
		Phase:       phaseNameConstant,
		Parallelism: synchronizer.configuration.Parallelism,
		Key:         func(creationIndex int) string { return strings.TrimSpace(synchronized[creations[creationIndex]].Name) },
		StopOn:      batch.StopOnAuthentication(synchronizer.configuration.StopOn),
	}
	outcome := runner.Run(executionContext, len(creations), func(operationContext context.Context, creationIndex int) batch.OperationResult {
		return synchronizer.create(operationContext, synchronized[creations[creationIndex]])
	})
	for creationIndex, result := range outcome.Results {
		definitionIndex := creations[creationIndex]
		synchronized[definitionIndex].TargetID = result.RemoteID
		accumulator.Record(definitionIndex, result)
	}

	for _, definitionIndex := range duplicates {
		name := strings.TrimSpace(synchronized[definitionIndex].Name)
		synchronized[definitionIndex].TargetID = synchronized[firstByName[name]].TargetID
		accumulator.Record(definitionIndex, batch.NoOp(name, synchronized[definitionIndex].TargetID))
	}
	if outcome.Stopped || outcome.Cancelled {
		accumulator.MarkAborted()
	}
	return synchronized, accumulator.Results(), accumulator.Summary()
}

// ExistingLabels lists the target repository labels keyed by exact name.
func (synchronizer *Synchronizer) ExistingLabels(executionContext context.Context) (map[string]fieldmap.RemoteIdentifier, error) {
	paginator := githubapi.NewPaginator(synchronizer.executor, githubapi.PageQuery{
		Name:  listLabelsOperationName,
		Query: listLabelsQuery,
		Variables: map[string]any{
			ownerVariableConstant: synchronizer.configuration.Owner,
			nameVariableConstant:  synchronizer.configuration.Repository,
		},
		ConnectionPath: labelsConnectionPathConstant,
	})

	existing := make(map[string]fieldmap.RemoteIdentifier)
	for page, pageError := range paginator.Pages(executionContext) {
		if pageError != nil {
			return nil, pageError
		}
		for _, item := range page.Items {
			existing[gjson.GetBytes(item, labelNamePathConstant).String()] = fieldmap.RemoteIdentifier(gjson.GetBytes(item, labelIDPathConstant).String())
		}
	}
	return existing, nil
}

func (synchronizer *Synchronizer) create(executionContext context.Context, definition Definition) batch.OperationResult {
	name := strings.TrimSpace(definition.Name)
	labelLogger := synchronizer.logger.With(zap.String(labelLogFieldConstant, name))
	color, _ := NormalizeColor(definition.Color)

	if synchronizer.configuration.DryRun {
		labelLogger.Info(dryRunLogMessageConstant)
		return batch.Succeeded(name, "")
	}

	response, createError := synchronizer.executor.ExecuteREST(executionContext, githubapi.RESTRequest{
		Name:   createLabelOperationName,
		Method: http.MethodPost,
		Path:   fmt.Sprintf(createLabelPathTemplate, url.PathEscape(synchronizer.configuration.Owner), url.PathEscape(synchronizer.configuration.Repository)),
		Body: map[string]any{
			bodyNameKeyConstant:        name,
			bodyColorKeyConstant:       color,
			bodyDescriptionKeyConstant: definition.Description,
		},
	})
	if createError != nil {
		if githubapi.IsAlreadyExists(createError) {
			labelLogger.Info(labelExistsLogMessage)
			return batch.Succeeded(name, "")
		}
		labelLogger.Warn(labelFailedLogMessage, zap.Error(createError))
		return batch.Failed(name, createStageConstant, createError)
	}

	labelLogger.Info(labelCreatedLogMessage)
	return batch.Succeeded(name, fieldmap.RemoteIdentifier(gjson.GetBytes(response.Body, createdLabelNodeIDPath).String()))
}
