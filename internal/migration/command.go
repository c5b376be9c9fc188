package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/temirov/ghmigrate/internal/githubapi"
	"github.com/temirov/ghmigrate/internal/githubauth"
	"github.com/temirov/ghmigrate/internal/utils/flags"
	pathutils "github.com/temirov/ghmigrate/internal/utils/path"
)

const (
	phaseCommandShortTemplateConstant     = "Run the %s phase"
	fullCommandShortDescriptionConstant   = "Run every phase in order"
	phaseCommandLongTemplateConstant      = "%s reads the workbook of the previous phase and writes %s under the output directory."
	fullCommandLongDescriptionConstant    = "full runs extract, map, migrate, relationships and labels, feeding each phase the workbook of the previous one. Extraction is skipped when no source project is configured."
	unexpectedArgumentsErrorTemplate      = "%s does not accept positional arguments"
	commandExecutionErrorTemplateConstant = "%s failed: %w"
	tokenSourceParseErrorTemplateConstant = "invalid token source: %w"
	tokenResolveErrorTemplateConstant     = "unable to resolve GitHub token: %w"
	summaryRenderErrorTemplateConstant    = "unable to render summary: %w"
	inputFlagNameConstant                 = "input"
	inputFlagDescriptionConstant          = "Workbook to read (defaults to the previous phase output)"
	outputFlagNameConstant                = "output"
	outputFlagDescriptionConstant         = "Workbook to write (defaults to the phase file under the output directory)"
	outputDirectoryFlagNameConstant       = "output-dir"
	outputDirectoryFlagDescription        = "Directory holding phase workbooks"
	dryRunFlagNameConstant                = "dry-run"
	dryRunFlagDescriptionConstant         = "Log mutations instead of sending them"
	parallelismFlagNameConstant           = "parallelism"
	parallelismFlagDescriptionConstant    = "Maximum concurrent operations"
	fatalPolicyFlagNameConstant           = "fatal-policy"
	fatalPolicyFlagDescriptionConstant    = "Failure handling policy"
	tokenSourceFlagNameConstant           = "token-source"
	tokenSourceFlagDescriptionConstant    = "Token source (env:NAME, file:/path or command:gh auth token); defaults to GH_TOKEN, GITHUB_TOKEN, GITHUB_API_TOKEN"
	runIDFlagNameConstant                 = "run-id"
	runIDFlagDescriptionConstant          = "Identifier stamped on phase summaries"
	formatFlagNameConstant                = "format"
	formatFlagDescriptionConstant         = "Summary output format"
	summaryFormatYAMLConstant             = "yaml"
	summaryFormatJSONConstant             = "json"
	jsonIndentConstant                    = "  "
	credentialSkippedLogMessageConstant   = "No GitHub token resolved; continuing dry run without remote access"
)

var summaryFormats = []string{summaryFormatYAMLConstant, summaryFormatJSONConstant}

// LoggerProvider supplies a zap logger instance.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider returns the current migration configuration.
type ConfigurationProvider func() Configuration

// ExecutorResolver creates the remote executor used by an orchestrator.
type ExecutorResolver interface {
	Resolve(executionContext context.Context, logger *zap.Logger, configuration Configuration) (RemoteExecutor, error)
}

// CommandBuilder assembles one command per phase plus the full command.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	ExecutorResolver      ExecutorResolver
	// RunIDProvider returns the run identifier of the invocation; empty selects a random one.
	RunIDProvider func(executionContext context.Context) string
	HomeExpander  *pathutils.HomeExpander
}

type commandOptions struct {
	phaseOptions PhaseOptions
	runID        string
	format       string
}

// Build constructs the phase commands in dependency order followed by full.
func (builder *CommandBuilder) Build() ([]*cobra.Command, error) {
	commands := make([]*cobra.Command, 0, len(phaseOrder)+1)
	for _, phase := range phaseOrder {
		commands = append(commands, builder.buildPhaseCommand(phase,
			fmt.Sprintf(phaseCommandShortTemplateConstant, phase),
			fmt.Sprintf(phaseCommandLongTemplateConstant, phase, phaseOutputFileNames[phase]),
		))
	}
	commands = append(commands, builder.buildPhaseCommand(PhaseFull, fullCommandShortDescriptionConstant, fullCommandLongDescriptionConstant))
	return commands, nil
}

func (builder *CommandBuilder) buildPhaseCommand(phase Phase, shortDescription string, longDescription string) *cobra.Command {
	phaseCommand := &cobra.Command{
		Use:   string(phase),
		Short: shortDescription,
		Long:  longDescription,
		RunE: func(command *cobra.Command, arguments []string) error {
			return builder.runPhase(command, arguments, phase)
		},
	}

	defaults := DefaultConfiguration()
	phaseCommand.Flags().String(inputFlagNameConstant, "", inputFlagDescriptionConstant)
	phaseCommand.Flags().String(outputFlagNameConstant, "", outputFlagDescriptionConstant)
	phaseCommand.Flags().String(outputDirectoryFlagNameConstant, "", outputDirectoryFlagDescription)
	phaseCommand.Flags().Bool(dryRunFlagNameConstant, false, dryRunFlagDescriptionConstant)
	phaseCommand.Flags().Int(parallelismFlagNameConstant, 0, parallelismFlagDescriptionConstant)
	phaseCommand.Flags().String(fatalPolicyFlagNameConstant, "", flags.FormatChoiceUsage(
		string(defaults.Processing.FatalPolicy),
		[]string{string(FatalPolicyAbortOnFirstFatal), string(FatalPolicyContinueAndReport)},
		fatalPolicyFlagDescriptionConstant,
	))
	phaseCommand.Flags().String(tokenSourceFlagNameConstant, "", tokenSourceFlagDescriptionConstant)
	phaseCommand.Flags().String(runIDFlagNameConstant, "", runIDFlagDescriptionConstant)
	phaseCommand.Flags().String(formatFlagNameConstant, "", flags.FormatChoiceUsage(summaryFormatYAMLConstant, summaryFormats, formatFlagDescriptionConstant))
	if phase == PhaseFull {
		phaseCommand.Flags().Lookup(outputFlagNameConstant).Hidden = true
	}
	return phaseCommand
}

func (builder *CommandBuilder) runPhase(command *cobra.Command, arguments []string, phase Phase) error {
	if len(arguments) > 0 {
		return fmt.Errorf(unexpectedArgumentsErrorTemplate, phase)
	}

	configuration, options, optionsError := builder.parseOptions(command)
	if optionsError != nil {
		return optionsError
	}

	logger := builder.resolveLogger()
	executor, executorError := builder.resolveExecutor(command.Context(), logger, configuration)
	if executorError != nil {
		return executorError
	}

	orchestrator, orchestratorError := NewOrchestrator(configuration, Dependencies{Executor: executor, Logger: logger, RunID: options.runID})
	if orchestratorError != nil {
		return fmt.Errorf(commandExecutionErrorTemplateConstant, phase, orchestratorError)
	}

	var reports []PhaseReport
	var runError error
	if phase == PhaseFull {
		reports, runError = orchestrator.Full(command.Context(), options.phaseOptions)
	} else {
		var report PhaseReport
		report, runError = orchestrator.Run(command.Context(), phase, options.phaseOptions)
		if len(report.Phase) > 0 {
			reports = append(reports, report)
		}
	}

	if len(reports) > 0 {
		if renderError := renderReports(command.OutOrStdout(), options.format, reports); renderError != nil {
			return renderError
		}
	}
	if runError != nil {
		return fmt.Errorf(commandExecutionErrorTemplateConstant, phase, runError)
	}
	return nil
}

func (builder *CommandBuilder) parseOptions(command *cobra.Command) (Configuration, commandOptions, error) {
	configuration := builder.resolveConfiguration()
	expander := builder.HomeExpander
	if expander == nil {
		expander = pathutils.NewHomeExpander()
	}

	inputValue, inputError := command.Flags().GetString(inputFlagNameConstant)
	if inputError != nil {
		return Configuration{}, commandOptions{}, inputError
	}
	outputValue, outputError := command.Flags().GetString(outputFlagNameConstant)
	if outputError != nil {
		return Configuration{}, commandOptions{}, outputError
	}
	outputDirectoryValue, outputDirectoryError := command.Flags().GetString(outputDirectoryFlagNameConstant)
	if outputDirectoryError != nil {
		return Configuration{}, commandOptions{}, outputDirectoryError
	}
	configuration.Processing.OutputDirectory = expander.Expand(selectStringValue(outputDirectoryValue, configuration.Processing.OutputDirectory))
	configuration.Mapping.File = expander.Expand(configuration.Mapping.File)
	configuration.LabelsFile = expander.Expand(configuration.LabelsFile)

	if command.Flags().Changed(dryRunFlagNameConstant) {
		dryRunValue, dryRunError := command.Flags().GetBool(dryRunFlagNameConstant)
		if dryRunError != nil {
			return Configuration{}, commandOptions{}, dryRunError
		}
		configuration.Processing.DryRun = dryRunValue
	}
	if command.Flags().Changed(parallelismFlagNameConstant) {
		parallelismValue, parallelismError := command.Flags().GetInt(parallelismFlagNameConstant)
		if parallelismError != nil {
			return Configuration{}, commandOptions{}, parallelismError
		}
		configuration.Processing.Parallelism = parallelismValue
	}

	fatalPolicyValue, fatalPolicyFlagError := command.Flags().GetString(fatalPolicyFlagNameConstant)
	if fatalPolicyFlagError != nil {
		return Configuration{}, commandOptions{}, fatalPolicyFlagError
	}
	fatalPolicy, fatalPolicyError := ParseFatalPolicy(selectStringValue(fatalPolicyValue, string(configuration.Processing.FatalPolicy)))
	if fatalPolicyError != nil {
		return Configuration{}, commandOptions{}, fatalPolicyError
	}
	configuration.Processing.FatalPolicy = fatalPolicy

	tokenSourceValue, tokenSourceError := command.Flags().GetString(tokenSourceFlagNameConstant)
	if tokenSourceError != nil {
		return Configuration{}, commandOptions{}, tokenSourceError
	}
	configuration.GitHub.TokenSource = selectStringValue(tokenSourceValue, configuration.GitHub.TokenSource)

	runIDValue, runIDError := command.Flags().GetString(runIDFlagNameConstant)
	if runIDError != nil {
		return Configuration{}, commandOptions{}, runIDError
	}
	if len(strings.TrimSpace(runIDValue)) == 0 && builder.RunIDProvider != nil {
		runIDValue = builder.RunIDProvider(command.Context())
	}

	formatValue, formatFlagError := command.Flags().GetString(formatFlagNameConstant)
	if formatFlagError != nil {
		return Configuration{}, commandOptions{}, formatFlagError
	}
	format, formatError := flags.ParseChoice(formatFlagNameConstant, formatValue, summaryFormatYAMLConstant, summaryFormats)
	if formatError != nil {
		return Configuration{}, commandOptions{}, formatError
	}

	return configuration, commandOptions{
		phaseOptions: PhaseOptions{InputPath: expander.Expand(inputValue), OutputPath: expander.Expand(outputValue)},
		runID:        strings.TrimSpace(runIDValue),
		format:       format,
	}, nil
}

// resolveExecutor returns nil without error for dry runs that have no credential.
func (builder *CommandBuilder) resolveExecutor(executionContext context.Context, logger *zap.Logger, configuration Configuration) (RemoteExecutor, error) {
	resolver := builder.ExecutorResolver
	if resolver == nil {
		resolver = &DefaultExecutorResolver{}
	}
	executor, resolveError := resolver.Resolve(executionContext, logger, configuration)
	if resolveError != nil {
		if configuration.Processing.DryRun && errors.Is(resolveError, githubauth.ErrTokenNotFound) {
			logger.Warn(credentialSkippedLogMessageConstant)
			return nil, nil
		}
		return nil, resolveError
	}
	return executor, nil
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return zap.NewNop()
	}
	logger := builder.LoggerProvider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func (builder *CommandBuilder) resolveConfiguration() Configuration {
	if builder.ConfigurationProvider == nil {
		return DefaultConfiguration()
	}
	return builder.ConfigurationProvider()
}

// DefaultExecutorResolver builds a githubapi.Client from the configured token source.
type DefaultExecutorResolver struct {
	TokenResolver *githubauth.TokenResolver
	HTTPClient    *http.Client
}

// Resolve implements ExecutorResolver.
func (resolver *DefaultExecutorResolver) Resolve(executionContext context.Context, logger *zap.Logger, configuration Configuration) (RemoteExecutor, error) {
	tokenSource, parseError := githubauth.ParseTokenSource(configuration.GitHub.TokenSource)
	if parseError != nil {
		return nil, fmt.Errorf(tokenSourceParseErrorTemplateConstant, parseError)
	}
	tokenResolver := resolver.TokenResolver
	if tokenResolver == nil {
		tokenResolver = githubauth.NewTokenResolver(nil, nil)
	}
	token, tokenError := tokenResolver.ResolveToken(executionContext, tokenSource)
	if tokenError != nil {
		return nil, fmt.Errorf(tokenResolveErrorTemplateConstant, tokenError)
	}

	client, clientError := githubapi.NewClient(configuration.GitHub.ClientConfiguration(token), githubapi.ClientDependencies{
		Logger:     logger,
		HTTPClient: resolver.HTTPClient,
		Observer:   githubapi.NewLoggingAttemptObserver(logger),
	})
	if clientError != nil {
		return nil, clientError
	}
	return client, nil
}

func renderReports(writer io.Writer, format string, reports []PhaseReport) error {
	var rendered []byte
	var renderError error
	switch format {
	case summaryFormatJSONConstant:
		rendered, renderError = json.MarshalIndent(reports, "", jsonIndentConstant)
		rendered = append(rendered, '\n')
	default:
		rendered, renderError = yaml.Marshal(reports)
	}
	if renderError != nil {
		return fmt.Errorf(summaryRenderErrorTemplateConstant, renderError)
	}
	if _, writeError := writer.Write(rendered); writeError != nil {
		return fmt.Errorf(summaryRenderErrorTemplateConstant, writeError)
	}
	return nil
}

func selectStringValue(flagValue string, configurationValue string) string {
	trimmedFlagValue := strings.TrimSpace(flagValue)
	if len(trimmedFlagValue) > 0 {
		return trimmedFlagValue
	}
	return strings.TrimSpace(configurationValue)
}
