package relationships

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/githubapi"
)

const (
	phaseNameConstant              = "relationships"
	subIssuesFeatureConstant       = "sub_issues"
	addSubIssueOperationName       = "addSubIssue"
	issueContextOperationName      = "issueContext"
	addBlockedByOperationName      = "addBlockedBy"
	writeStageConstant             = "link"
	resolveStageConstant           = "resolve"
	blockedByPathTemplateConstant  = "repos/%s/%s/issues/%d/dependencies/blocked_by"
	blockerIssueIDBodyKeyConstant  = "issue_id"
	issueContextNumberPath         = "node.number"
	issueContextDatabaseIDPath     = "node.databaseId"
	issueContextRepositoryPath     = "node.repository.name"
	issueContextOwnerPath          = "node.repository.owner.login"
	issueNotFoundErrorTemplate     = "issue %s not found"
	executorMissingMessageConstant = "remote executor not configured"
	edgeLogFieldConstant           = "edge"
	edgeLinkedLogMessageConstant   = "Relationship linked"
	edgeExistsLogMessageConstant   = "Relationship already present"
	edgeFailedLogMessageConstant   = "Relationship failed"
	dryRunLogMessageConstant       = "Dry run: skipping relationship write"
	parentVariableConstant         = "parent"
	childVariableConstant          = "child"
	nodeIDVariableConstant         = "id"
	defaultParallelismConstant     = 4
	kindFieldNameConstant          = "kind"
	selfReferenceMessageConstant   = "issue cannot be related to itself"
	addSubIssueMutation            = `mutation($parent: ID!, $child: ID!) {
  addSubIssue(input: {issueId: $parent, subIssueId: $child}) {
    issue { id }
    subIssue { id }
  }
}`
	issueContextQuery = `query($id: ID!) {
  node(id: $id) {
    ... on Issue {
      number
      databaseId
      repository { name owner { login } }
    }
  }
}`
)

// ErrExecutorNotConfigured indicates NewResolver received no remote executor.
var ErrExecutorNotConfigured = errors.New(executorMissingMessageConstant)

// RemoteExecutor performs the GraphQL and REST calls of the resolver.
type RemoteExecutor interface {
	ExecuteGraphQL(executionContext context.Context, request githubapi.GraphQLRequest) (json.RawMessage, error)
	ExecuteREST(executionContext context.Context, request githubapi.RESTRequest) (githubapi.RawResponse, error)
}

// ResolverConfiguration tunes the resolver.
type ResolverConfiguration struct {
	Parallelism int
	DryRun      bool
	// StopOn ends scheduling of further writes when it matches a result.
	// Authentication failures always stop.
	StopOn func(batch.OperationResult) bool
}

// ResolverDependencies describes collaborators of the resolver.
type ResolverDependencies struct {
	Executor RemoteExecutor
	Logger   *zap.Logger
}

// IssueContext locates an issue for REST endpoints.
type IssueContext struct {
	Owner      string
	Repository string
	Number     int
	DatabaseID int64
}

// Resolver applies relationship edges. Edges applied once are remembered for the
// lifetime of the resolver and become no-ops afterwards.
type Resolver struct {
	executor     RemoteExecutor
	logger       *zap.Logger
	parallelism  int
	dryRun       bool
	stopOn       func(batch.OperationResult) bool
	appliedMutex sync.Mutex
	applied      map[ResolvedEdge]struct{}
	contextMutex sync.Mutex
	contexts     map[fieldmap.RemoteIdentifier]IssueContext
}

// NewResolver constructs a Resolver.
func NewResolver(configuration ResolverConfiguration, dependencies ResolverDependencies) (*Resolver, error) {
	if dependencies.Executor == nil && !configuration.DryRun {
		return nil, ErrExecutorNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	parallelism := configuration.Parallelism
	if parallelism < 1 {
		parallelism = defaultParallelismConstant
	}
	return &Resolver{
		executor:    dependencies.Executor,
		logger:      logger,
		parallelism: parallelism,
		dryRun:      configuration.DryRun,
		stopOn:      batch.StopOnAuthentication(configuration.StopOn),
		applied:     make(map[ResolvedEdge]struct{}),
		contexts:    make(map[fieldmap.RemoteIdentifier]IssueContext),
	}, nil
}

// Seed marks an edge as already present, typically from an earlier run's results.
func (resolver *Resolver) Seed(edge ResolvedEdge) {
	resolver.appliedMutex.Lock()
	defer resolver.appliedMutex.Unlock()
	resolver.applied[edge.Canonical()] = struct{}{}
}

// Apply links every edge and summarizes the outcome.
func (resolver *Resolver) Apply(executionContext context.Context, edges []Edge, lookup IdentifierLookup) batch.BatchSummary {
	_, summary := resolver.Execute(executionContext, edges, lookup)
	return summary
}

// EdgeResult pairs an edge with its outcome.
type EdgeResult struct {
	Edge     Edge
	Resolved ResolvedEdge
	Result   batch.OperationResult
}

type plannedWrite struct {
	edgeIndex int
	edge      ResolvedEdge
}

// Execute links every edge and returns per-edge results in input order.
// All endpoints are resolved before the first write.
func (resolver *Resolver) Execute(executionContext context.Context, edges []Edge, lookup IdentifierLookup) ([]EdgeResult, batch.BatchSummary) {
	accumulator := batch.NewAccumulator(phaseNameConstant)
	edgeResults := make([]EdgeResult, len(edges))

	var writes []plannedWrite
	planned := make(map[ResolvedEdge]struct{})
	for edgeIndex, edge := range edges {
		edgeResults[edgeIndex].Edge = edge
		resolvedEdge, resolveError := resolveEdge(edge, lookup)
		if resolveError != nil {
			result := batch.Failed(edge.String(), resolveStageConstant, resolveError)
			edgeResults[edgeIndex].Result = result
			accumulator.Record(edgeIndex, result)
			continue
		}
		edgeResults[edgeIndex].Resolved = resolvedEdge

		canonicalEdge := resolvedEdge.Canonical()
		_, plannedAlready := planned[canonicalEdge]
		if plannedAlready || resolver.isApplied(canonicalEdge) {
			result := batch.NoOp(edge.String(), canonicalEdge.Source)
			edgeResults[edgeIndex].Result = result
			accumulator.Record(edgeIndex, result)
			continue
		}
		planned[canonicalEdge] = struct{}{}
		writes = append(writes, plannedWrite{edgeIndex: edgeIndex, edge: canonicalEdge})
	}

	runner := batch.Runner{
		Phase:       phaseNameConstant,
		Parallelism: resolver.parallelism,
		Key: func(writeIndex int) string {
			return edges[writes[writeIndex].edgeIndex].String()
		},
		StopOn: resolver.stopOn,
	}
	outcome := runner.Run(executionContext, len(writes), func(operationContext context.Context, writeIndex int) batch.OperationResult {
		write := writes[writeIndex]
		return resolver.link(operationContext, edges[write.edgeIndex], write.edge)
	})
	for writeIndex, result := range outcome.Results {
		edgeIndex := writes[writeIndex].edgeIndex
		edgeResults[edgeIndex].Result = result
		accumulator.Record(edgeIndex, result)
	}
	if outcome.Stopped || outcome.Cancelled {
		accumulator.MarkAborted()
	}

	return edgeResults, accumulator.Summary()
}

func (resolver *Resolver) link(executionContext context.Context, edge Edge, canonicalEdge ResolvedEdge) batch.OperationResult {
	key := edge.String()
	edgeLogger := resolver.logger.With(zap.String(edgeLogFieldConstant, key))

	if resolver.dryRun {
		edgeLogger.Info(dryRunLogMessageConstant)
		resolver.markApplied(canonicalEdge)
		return batch.Succeeded(key, canonicalEdge.Source)
	}

	var linkError error
	switch canonicalEdge.Kind {
	case KindParentOf:
		linkError = resolver.addSubIssue(executionContext, canonicalEdge.Source, canonicalEdge.Target)
	default:
		linkError = resolver.addBlockedBy(executionContext, canonicalEdge.Source, canonicalEdge.Target)
	}

	switch {
	case linkError == nil:
		edgeLogger.Info(edgeLinkedLogMessageConstant)
	case githubapi.IsAlreadyExists(linkError):
		edgeLogger.Info(edgeExistsLogMessageConstant)
	default:
		edgeLogger.Warn(edgeFailedLogMessageConstant, zap.Error(linkError))
		return batch.Failed(key, writeStageConstant, linkError)
	}
	resolver.markApplied(canonicalEdge)
	return batch.Succeeded(key, canonicalEdge.Source)
}

func (resolver *Resolver) addSubIssue(executionContext context.Context, parentID fieldmap.RemoteIdentifier, childID fieldmap.RemoteIdentifier) error {
	_, executionError := resolver.executor.ExecuteGraphQL(executionContext, githubapi.GraphQLRequest{
		Name:      addSubIssueOperationName,
		Query:     addSubIssueMutation,
		Variables: map[string]any{parentVariableConstant: parentID, childVariableConstant: childID},
		Features:  []string{subIssuesFeatureConstant},
	})
	return executionError
}

func (resolver *Resolver) addBlockedBy(executionContext context.Context, blockedID fieldmap.RemoteIdentifier, blockerID fieldmap.RemoteIdentifier) error {
	blockedContext, blockedError := resolver.issueContext(executionContext, blockedID)
	if blockedError != nil {
		return blockedError
	}
	blockerContext, blockerError := resolver.issueContext(executionContext, blockerID)
	if blockerError != nil {
		return blockerError
	}

	_, executionError := resolver.executor.ExecuteREST(executionContext, githubapi.RESTRequest{
		Name:   addBlockedByOperationName,
		Method: http.MethodPost,
		Path:   fmt.Sprintf(blockedByPathTemplateConstant, url.PathEscape(blockedContext.Owner), url.PathEscape(blockedContext.Repository), blockedContext.Number),
		Body:   map[string]any{blockerIssueIDBodyKeyConstant: blockerContext.DatabaseID},
	})
	return executionError
}

// issueContext fetches and caches the REST coordinates of an issue.
func (resolver *Resolver) issueContext(executionContext context.Context, issueID fieldmap.RemoteIdentifier) (IssueContext, error) {
	resolver.contextMutex.Lock()
	cached, exists := resolver.contexts[issueID]
	resolver.contextMutex.Unlock()
	if exists {
		return cached, nil
	}

	data, executionError := resolver.executor.ExecuteGraphQL(executionContext, githubapi.GraphQLRequest{
		Name:      issueContextOperationName,
		Query:     issueContextQuery,
		Variables: map[string]any{nodeIDVariableConstant: issueID},
	})
	if executionError != nil {
		return IssueContext{}, executionError
	}

	numberResult := gjson.GetBytes(data, issueContextNumberPath)
	if !numberResult.Exists() {
		return IssueContext{}, githubapi.TransportError{
			Operation: issueContextOperationName,
			Kind:      githubapi.ErrorKindPermanent,
			Message:   fmt.Sprintf(issueNotFoundErrorTemplate, issueID),
		}
	}
	issueContext := IssueContext{
		Owner:      gjson.GetBytes(data, issueContextOwnerPath).String(),
		Repository: gjson.GetBytes(data, issueContextRepositoryPath).String(),
		Number:     int(numberResult.Int()),
		DatabaseID: gjson.GetBytes(data, issueContextDatabaseIDPath).Int(),
	}

	resolver.contextMutex.Lock()
	resolver.contexts[issueID] = issueContext
	resolver.contextMutex.Unlock()
	return issueContext, nil
}

func (resolver *Resolver) isApplied(edge ResolvedEdge) bool {
	resolver.appliedMutex.Lock()
	defer resolver.appliedMutex.Unlock()
	_, applied := resolver.applied[edge]
	return applied
}

func (resolver *Resolver) markApplied(edge ResolvedEdge) {
	resolver.appliedMutex.Lock()
	defer resolver.appliedMutex.Unlock()
	resolver.applied[edge] = struct{}{}
}

func resolveEdge(edge Edge, lookup IdentifierLookup) (ResolvedEdge, error) {
	var danglingErrors []error
	var sourceID, targetID fieldmap.RemoteIdentifier
	if lookup != nil {
		sourceID, _ = lookup.Lookup(edge.Source)
		targetID, _ = lookup.Lookup(edge.Target)
	}
	if sourceID.IsZero() {
		danglingErrors = append(danglingErrors, DanglingReferenceError{Edge: edge, Reference: edge.Source})
	}
	if targetID.IsZero() {
		danglingErrors = append(danglingErrors, DanglingReferenceError{Edge: edge, Reference: edge.Target})
	}
	if len(danglingErrors) > 0 {
		return ResolvedEdge{}, errors.Join(danglingErrors...)
	}
	if _, kindError := ParseKind(string(edge.Kind)); kindError != nil {
		return ResolvedEdge{}, githubapi.InvalidInputError{FieldName: kindFieldNameConstant, Message: kindError.Error()}
	}
	if sourceID == targetID {
		return ResolvedEdge{}, githubapi.InvalidInputError{FieldName: edge.String(), Message: selfReferenceMessageConstant}
	}
	return ResolvedEdge{Source: sourceID, Target: targetID, Kind: edge.Kind}, nil
}
