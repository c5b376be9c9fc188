package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/githubapi"
	"github.com/temirov/ghmigrate/internal/issues"
	"github.com/temirov/ghmigrate/internal/relationships"
)

const (
	extractOutputFileNameConstant       = "extracted.xlsx"
	mapOutputFileNameConstant           = "mapped.xlsx"
	migrateOutputFileNameConstant       = "migrated.xlsx"
	relationshipsOutputFileNameConstant = "relationships.xlsx"
	labelsOutputFileNameConstant        = "labels.xlsx"
	phaseLogFieldConstant               = "phase"
	runIDLogFieldConstant               = "run_id"
	statusLogFieldConstant              = "status"
	inputLogFieldConstant               = "input"
	outputLogFieldConstant              = "output"
	attemptedLogFieldConstant           = "attempted"
	succeededLogFieldConstant           = "succeeded"
	noOpLogFieldConstant                = "no_op"
	failedLogFieldConstant              = "failed"
	phaseStartedLogMessageConstant      = "Phase started"
	phaseCompletedLogMessageConstant    = "Phase completed"
	phaseSkippedLogMessageConstant      = "Phase skipped"
)

// Phase names one step of the migration.
type Phase string

// Phases in dependency order, plus PhaseFull which runs them all.
const (
	PhaseExtract       Phase = "extract"
	PhaseMap           Phase = "map"
	PhaseMigrate       Phase = "migrate"
	PhaseRelationships Phase = "relationships"
	PhaseLabels        Phase = "labels"
	PhaseFull          Phase = "full"
)

var phaseOrder = []Phase{PhaseExtract, PhaseMap, PhaseMigrate, PhaseRelationships, PhaseLabels}

var phaseOutputFileNames = map[Phase]string{
	PhaseExtract:       extractOutputFileNameConstant,
	PhaseMap:           mapOutputFileNameConstant,
	PhaseMigrate:       migrateOutputFileNameConstant,
	PhaseRelationships: relationshipsOutputFileNameConstant,
	PhaseLabels:        labelsOutputFileNameConstant,
}

// ParsePhase accepts a phase name.
func ParsePhase(raw string) (Phase, error) {
	candidate := Phase(strings.ToLower(strings.TrimSpace(raw)))
	if candidate == PhaseFull {
		return PhaseFull, nil
	}
	for _, phase := range phaseOrder {
		if phase == candidate {
			return phase, nil
		}
	}
	return "", fmt.Errorf(unknownPhaseErrorTemplate, raw)
}

// PhaseOptions overrides the workbooks a phase reads and writes. Empty paths select
// the defaults under the output directory.
type PhaseOptions struct {
	InputPath  string
	OutputPath string
}

// PhaseReport is the outcome of one phase.
type PhaseReport struct {
	Phase      Phase              `json:"phase" yaml:"phase"`
	Summary    batch.BatchSummary `json:"summary" yaml:"summary"`
	OutputPath string             `json:"outputPath,omitempty" yaml:"outputPath,omitempty"`
}

// RemoteExecutor performs GraphQL and REST calls. *githubapi.Client implements it.
type RemoteExecutor interface {
	ExecuteGraphQL(executionContext context.Context, request githubapi.GraphQLRequest) (json.RawMessage, error)
	ExecuteREST(executionContext context.Context, request githubapi.RESTRequest) (githubapi.RawResponse, error)
}

// Dependencies describes collaborators of the orchestrator.
type Dependencies struct {
	// Executor may be nil for dry runs of the map, migrate and relationships phases.
	Executor RemoteExecutor
	Logger   *zap.Logger
	// RunID labels every summary of this orchestrator; a random UUID is used when empty.
	RunID string
}

// Orchestrator owns the tables of one run and executes phases in order.
type Orchestrator struct {
	configuration Configuration
	executor      RemoteExecutor
	logger        *zap.Logger
	runID         string
	mapping       mappingDocument
	fieldRules    map[string]fieldmap.FieldRule
	projectFields []issues.ProjectField
	edgeResolver  *relationships.Resolver
}

// NewOrchestrator validates configuration and prepares the mapping tables.
func NewOrchestrator(configuration Configuration, dependencies Dependencies) (*Orchestrator, error) {
	sanitized := configuration.Sanitize()

	fatalPolicy, policyError := ParseFatalPolicy(string(sanitized.Processing.FatalPolicy))
	if policyError != nil {
		return nil, policyError
	}
	sanitized.Processing.FatalPolicy = fatalPolicy

	projectFields, fieldsError := sanitized.ProjectFields()
	if fieldsError != nil {
		return nil, fieldsError
	}

	mapping, mappingError := sanitized.Mapping.loadMappingDocument()
	if mappingError != nil {
		return nil, mappingError
	}
	fieldRules := defaultFieldRules()
	for fieldName, ruleConfiguration := range mapping.Rules {
		rule, ruleError := parseFieldRule(fieldName, ruleConfiguration)
		if ruleError != nil {
			return nil, ruleError
		}
		fieldRules[fieldName] = rule
	}
	if _, tableError := fieldmap.NewMappingTable(mapping.Values, fieldRules); tableError != nil {
		return nil, tableError
	}

	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := strings.TrimSpace(dependencies.RunID)
	if len(runID) == 0 {
		runID = uuid.NewString()
	}

	return &Orchestrator{
		configuration: sanitized,
		executor:      dependencies.Executor,
		logger:        logger.With(zap.String(runIDLogFieldConstant, runID)),
		runID:         runID,
		mapping:       mapping,
		fieldRules:    fieldRules,
		projectFields: projectFields,
	}, nil
}

// RunID returns the identifier stamped on every summary.
func (orchestrator *Orchestrator) RunID() string {
	return orchestrator.runID
}

// Configuration returns the sanitized configuration in use.
func (orchestrator *Orchestrator) Configuration() Configuration {
	return orchestrator.configuration
}

// Run executes one phase. PhaseFull is delegated to Full and returns its last report.
func (orchestrator *Orchestrator) Run(executionContext context.Context, phase Phase, options PhaseOptions) (PhaseReport, error) {
	switch phase {
	case PhaseExtract:
		return orchestrator.Extract(executionContext, options)
	case PhaseMap:
		return orchestrator.Map(executionContext, options)
	case PhaseMigrate:
		return orchestrator.Migrate(executionContext, options)
	case PhaseRelationships:
		return orchestrator.Relationships(executionContext, options)
	case PhaseLabels:
		return orchestrator.Labels(executionContext, options)
	case PhaseFull:
		reports, fullError := orchestrator.Full(executionContext, options)
		if len(reports) == 0 {
			return PhaseReport{Phase: PhaseFull}, fullError
		}
		return reports[len(reports)-1], fullError
	default:
		return PhaseReport{}, fmt.Errorf(unknownPhaseErrorTemplate, phase)
	}
}

// Full runs every phase in order, feeding each phase the workbook of the previous one.
// Extraction is skipped when no source project is configured; options.InputPath then
// names the workbook the map phase starts from. Reports produced before an abort are returned.
func (orchestrator *Orchestrator) Full(executionContext context.Context, options PhaseOptions) ([]PhaseReport, error) {
	var reports []PhaseReport
	inputPath := options.InputPath
	for _, phase := range phaseOrder {
		if phase == PhaseExtract && len(orchestrator.configuration.Project.SourceProjectID) == 0 {
			orchestrator.logger.Info(phaseSkippedLogMessageConstant, zap.String(phaseLogFieldConstant, string(phase)))
			continue
		}
		report, phaseError := orchestrator.Run(executionContext, phase, PhaseOptions{InputPath: inputPath})
		if len(report.Phase) > 0 {
			reports = append(reports, report)
		}
		if phaseError != nil {
			return reports, phaseError
		}
		inputPath = report.OutputPath
		if executionContext.Err() != nil {
			return reports, fatalPhaseError(phase, executionContext.Err())
		}
	}
	return reports, nil
}

// DefaultOutputPath is the workbook a phase writes when no path is given.
func (orchestrator *Orchestrator) DefaultOutputPath(phase Phase) string {
	return filepath.Join(orchestrator.configuration.Processing.OutputDirectory, phaseOutputFileNames[phase])
}

// DefaultInputPath is the workbook a phase reads when no path is given: the output of
// the phase before it.
func (orchestrator *Orchestrator) DefaultInputPath(phase Phase) string {
	for phaseIndex, candidate := range phaseOrder {
		if candidate == phase && phaseIndex > 0 {
			return orchestrator.DefaultOutputPath(phaseOrder[phaseIndex-1])
		}
	}
	return ""
}

func (orchestrator *Orchestrator) resolvePaths(phase Phase, options PhaseOptions) (string, string) {
	inputPath := strings.TrimSpace(options.InputPath)
	if len(inputPath) == 0 {
		inputPath = orchestrator.DefaultInputPath(phase)
	}
	outputPath := strings.TrimSpace(options.OutputPath)
	if len(outputPath) == 0 {
		outputPath = orchestrator.DefaultOutputPath(phase)
	}
	return inputPath, outputPath
}

func (orchestrator *Orchestrator) requireExecutor(phase Phase, allowDryRun bool) error {
	if orchestrator.executor != nil {
		return nil
	}
	if allowDryRun && orchestrator.configuration.Processing.DryRun {
		return nil
	}
	return fatalPhaseError(phase, ErrExecutorNotConfigured)
}

func (orchestrator *Orchestrator) logPhaseStart(phase Phase, inputPath string) {
	orchestrator.logger.Info(phaseStartedLogMessageConstant,
		zap.String(phaseLogFieldConstant, string(phase)),
		zap.String(inputLogFieldConstant, inputPath),
	)
}

// stopOn decides whether one failed item ends scheduling of the remaining items.
func (orchestrator *Orchestrator) stopOn(result batch.OperationResult) bool {
	return batch.StopOnAuthentication(orchestrator.abortsOnFailure)(result)
}

func (orchestrator *Orchestrator) abortsOnFailure(result batch.OperationResult) bool {
	return orchestrator.configuration.Processing.FatalPolicy == FatalPolicyAbortOnFirstFatal && result.Status == batch.StatusFailed
}

// finalizeSummary stamps the phase and run identifier and applies the fatal policy.
func (orchestrator *Orchestrator) finalizeSummary(phase Phase, summary batch.BatchSummary) batch.BatchSummary {
	summary.Phase = string(phase)
	summary.RunID = orchestrator.runID
	if orchestrator.hasFatalFailure(summary) {
		summary.Status = batch.RunStatusAborted
	}
	return summary
}

// completePhase logs the outcome and turns an aborted summary into a fatal error.
func (orchestrator *Orchestrator) completePhase(phase Phase, summary batch.BatchSummary, outputPath string) (PhaseReport, error) {
	orchestrator.logger.Info(phaseCompletedLogMessageConstant,
		zap.String(phaseLogFieldConstant, string(phase)),
		zap.String(statusLogFieldConstant, string(summary.Status)),
		zap.Int(attemptedLogFieldConstant, summary.Attempted),
		zap.Int(succeededLogFieldConstant, summary.Succeeded),
		zap.Int(noOpLogFieldConstant, summary.NoOp),
		zap.Int(failedLogFieldConstant, summary.Failed),
		zap.String(outputLogFieldConstant, outputPath),
	)

	report := PhaseReport{Phase: phase, Summary: summary, OutputPath: outputPath}
	if summary.Status == batch.RunStatusAborted {
		return report, abortedPhaseError(phase)
	}
	return report, nil
}

func (orchestrator *Orchestrator) hasFatalFailure(summary batch.BatchSummary) bool {
	for _, failedItem := range summary.FailedItems {
		if failedItem.Kind == batch.ErrorKindAuthentication {
			return true
		}
		if orchestrator.configuration.Processing.FatalPolicy == FatalPolicyAbortOnFirstFatal && failedItem.Status == batch.StatusFailed {
			return true
		}
	}
	return false
}
