package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/ghmigrate/internal/migration"
	"github.com/temirov/ghmigrate/internal/tabular"
)

const (
	testConfigurationFileNameConstant = "config.yaml"
	testConfigurationContentConstant  = `common:
  log_level: error
  log_format: console
migration:
  project:
    target_project_id: PVT_kwDOTarget
    target_repository_id: R_kgDOTarget
  processing:
    parallelism: 8
  fields:
    - name: Status
      id: PVTSSF_status
      type: single_select
  mapping:
    values:
      status:
        "In Progress": "47fc9ee4"
`
)

type unusedExecutorResolver struct{}

func (unusedExecutorResolver) Resolve(context.Context, *zap.Logger, migration.Configuration) (migration.RemoteExecutor, error) {
	return nil, nil
}

func writeConfigurationFile(testInstance *testing.T, directory string) string {
	testInstance.Helper()
	configurationPath := filepath.Join(directory, testConfigurationFileNameConstant)
	require.NoError(testInstance, os.WriteFile(configurationPath, []byte(testConfigurationContentConstant), 0o600))
	return configurationPath
}

func TestEmbeddedDefaultsPopulateConfiguration(testInstance *testing.T) {
	application := NewApplication()
	rootCommand := application.rootCommand
	rootCommand.SetContext(context.Background())

	require.NoError(testInstance, application.initializeConfiguration(rootCommand))

	migrationConfiguration := application.configuration.Migration
	require.Equal(testInstance, string(migration.FatalPolicyContinueAndReport), string(migrationConfiguration.Processing.FatalPolicy))
	require.Equal(testInstance, 4, migrationConfiguration.Processing.Parallelism)
	require.Equal(testInstance, "||", migrationConfiguration.Processing.Separator)
	require.Equal(testInstance, 60*time.Second, migrationConfiguration.GitHub.Timeout)
	require.Equal(testInstance, 15*time.Minute, migrationConfiguration.GitHub.MaxRateLimitWait)
	require.Equal(testInstance, "info", application.configuration.Common.LogLevel)
}

func TestConfigurationFileAndFlagsOverrideDefaults(testInstance *testing.T) {
	application := NewApplication()
	application.configurationFilePath = writeConfigurationFile(testInstance, testInstance.TempDir())
	rootCommand := application.rootCommand
	rootCommand.SetContext(context.Background())
	require.NoError(testInstance, rootCommand.PersistentFlags().Set(logLevelFlagNameConstant, "warn"))

	require.NoError(testInstance, application.initializeConfiguration(rootCommand))

	require.Equal(testInstance, "warn", application.configuration.Common.LogLevel)
	require.Equal(testInstance, "console", application.configuration.Common.LogFormat)
	migrationConfiguration := application.configuration.Migration
	require.Equal(testInstance, 8, migrationConfiguration.Processing.Parallelism)
	require.Equal(testInstance, "PVT_kwDOTarget", migrationConfiguration.Project.TargetProjectID)
	require.Len(testInstance, migrationConfiguration.Fields, 1)
	require.Equal(testInstance, "47fc9ee4", migrationConfiguration.Mapping.Values["status"]["in progress"])

	configurationFilePath, available := application.commandContextAccessor.ConfigurationFilePath(rootCommand.Context())
	require.True(testInstance, available)
	require.Equal(testInstance, application.configurationFilePath, configurationFilePath)

	runID, runIDAvailable := application.commandContextAccessor.RunID(rootCommand.Context())
	require.True(testInstance, runIDAvailable)
	require.NotEmpty(testInstance, runID)
}

func TestEnvironmentOverridesConfiguration(testInstance *testing.T) {
	testInstance.Setenv("GHMIGRATE_MIGRATION_PROCESSING_FATAL_POLICY", "abort-on-first-fatal")

	application := NewApplication()
	rootCommand := application.rootCommand
	rootCommand.SetContext(context.Background())
	require.NoError(testInstance, application.initializeConfiguration(rootCommand))
	require.Equal(testInstance, migration.FatalPolicyAbortOnFirstFatal, application.configuration.Migration.Processing.FatalPolicy)
}

func TestInvalidLogLevelFailsInitialization(testInstance *testing.T) {
	application := NewApplication()
	rootCommand := application.rootCommand
	rootCommand.SetContext(context.Background())
	require.NoError(testInstance, rootCommand.PersistentFlags().Set(logLevelFlagNameConstant, "chatty"))

	require.Error(testInstance, application.initializeConfiguration(rootCommand))
}

func TestApplicationRegistersPhaseCommands(testInstance *testing.T) {
	application := NewApplication()
	registered := make(map[string]bool)
	for _, command := range application.rootCommand.Commands() {
		registered[command.Name()] = true
	}
	for _, phaseName := range []string{"extract", "map", "migrate", "relationships", "labels", "full"} {
		require.True(testInstance, registered[phaseName], phaseName)
	}
}

func TestApplicationRunsMapPhaseEndToEnd(testInstance *testing.T) {
	workingDirectory := testInstance.TempDir()
	inputPath := filepath.Join(workingDirectory, "extracted.xlsx")
	issuesTable := tabular.NewTable(tabular.IssuesSchema().WithColumns(tabular.ColumnSpec{Name: "Status"}))
	issuesTable.AppendRow(map[string]string{tabular.ColumnSourceIssueID: "I_kwDOSrc1", tabular.ColumnIssueTitle: "Broken login", "Status": "in progress"})
	workbook := tabular.NewWorkbook()
	workbook.PutTable(issuesTable)
	require.NoError(testInstance, tabular.Save(workbook, inputPath))

	outputDirectory := filepath.Join(workingDirectory, "output")
	application := NewApplicationWithExecutorResolver(unusedExecutorResolver{})
	outputBuffer := &bytes.Buffer{}
	application.rootCommand.SetOut(outputBuffer)
	application.rootCommand.SetArgs([]string{
		"map",
		"--config", writeConfigurationFile(testInstance, workingDirectory),
		"--input", inputPath,
		"--output-dir", outputDirectory,
		"--format", "json",
	})

	require.NoError(testInstance, application.Execute())

	var reports []migration.PhaseReport
	require.NoError(testInstance, json.Unmarshal(outputBuffer.Bytes(), &reports))
	require.Len(testInstance, reports, 1)
	require.Equal(testInstance, migration.PhaseMap, reports[0].Phase)
	require.Equal(testInstance, 1, reports[0].Summary.Succeeded)
	require.NotEmpty(testInstance, reports[0].Summary.RunID)
	require.True(testInstance, strings.HasPrefix(reports[0].OutputPath, outputDirectory))

	mappedWorkbook, loadError := tabular.Load(reports[0].OutputPath)
	require.NoError(testInstance, loadError)
	mappedIssues, exists := mappedWorkbook.Table(tabular.TableIssues)
	require.True(testInstance, exists)
	require.Equal(testInstance, "47fc9ee4", mappedIssues.Rows[0].Get("Status"))
}
