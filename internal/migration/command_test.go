package migration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/temirov/ghmigrate/internal/githubauth"
	"github.com/temirov/ghmigrate/internal/migration"
	"github.com/temirov/ghmigrate/internal/tabular"
)

type stubExecutorResolver struct {
	executor migration.RemoteExecutor
	err      error
	calls    int
}

func (resolver *stubExecutorResolver) Resolve(context.Context, *zap.Logger, migration.Configuration) (migration.RemoteExecutor, error) {
	resolver.calls++
	if resolver.err != nil {
		return nil, resolver.err
	}
	return resolver.executor, nil
}

func runPhaseCommand(testInstance *testing.T, configuration migration.Configuration, resolver migration.ExecutorResolver, phaseName string, arguments ...string) (string, error) {
	testInstance.Helper()
	builder := migration.CommandBuilder{
		ConfigurationProvider: func() migration.Configuration { return configuration },
		ExecutorResolver:      resolver,
		RunIDProvider:         func(context.Context) string { return "provided-run" },
	}
	commands, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	for _, command := range commands {
		if command.Name() != phaseName {
			continue
		}
		outputBuffer := &bytes.Buffer{}
		command.SetOut(outputBuffer)
		command.SetErr(&bytes.Buffer{})
		command.SetArgs(arguments)
		command.SetContext(context.Background())
		executionError := command.Execute()
		return outputBuffer.String(), executionError
	}
	testInstance.Fatalf("command %s not built", phaseName)
	return "", nil
}

func TestCommandBuilderBuildsPhaseCommands(testInstance *testing.T) {
	builder := migration.CommandBuilder{}
	commands, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	names := make([]string, 0, len(commands))
	for _, command := range commands {
		names = append(names, command.Name())
		require.NotNil(testInstance, command.Flags().Lookup("dry-run"))
		require.NotNil(testInstance, command.Flags().Lookup("fatal-policy"))
	}
	require.Equal(testInstance, []string{"extract", "map", "migrate", "relationships", "labels", "full"}, names)
	require.True(testInstance, commands[len(commands)-1].Flags().Lookup("output").Hidden)
}

func TestPhaseCommandRendersSummary(testInstance *testing.T) {
	testCases := []struct {
		name      string
		arguments []string
		decode    func([]byte, any) error
		runID     string
	}{
		{name: "json_with_explicit_run_id", arguments: []string{"--format", "json", "--run-id", "cli-run"}, decode: json.Unmarshal, runID: "cli-run"},
		{name: "yaml_with_provided_run_id", arguments: nil, decode: yaml.Unmarshal, runID: "provided-run"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			outputDirectory := subTest.TempDir()
			inputPath := filepath.Join(outputDirectory, testInputWorkbookName)
			writeWorkbook(subTest, inputPath, issuesTable(
				map[string]string{tabular.ColumnSourceIssueID: "I_kwDOSrc1", tabular.ColumnIssueTitle: "Broken login", tabular.ColumnMilestone: "Sprint 1"},
			))

			resolver := &stubExecutorResolver{executor: newStubExecutor()}
			arguments := append([]string{"--input", inputPath}, testCase.arguments...)
			output, executionError := runPhaseCommand(subTest, testConfiguration(outputDirectory), resolver, "map", arguments...)
			require.NoError(subTest, executionError)

			var reports []struct {
				Phase   string `json:"phase" yaml:"phase"`
				Summary struct {
					RunID     string `json:"runId" yaml:"runId"`
					Succeeded int    `json:"succeeded" yaml:"succeeded"`
				} `json:"summary" yaml:"summary"`
			}
			require.NoError(subTest, testCase.decode([]byte(output), &reports))
			require.Len(subTest, reports, 1)
			require.Equal(subTest, "map", reports[0].Phase)
			require.Equal(subTest, testCase.runID, reports[0].Summary.RunID)
			require.Equal(subTest, 1, reports[0].Summary.Succeeded)
		})
	}
}

func TestPhaseCommandRejectsInvalidInvocation(testInstance *testing.T) {
	testCases := []struct {
		name      string
		arguments []string
	}{
		{name: "unknown_fatal_policy", arguments: []string{"--fatal-policy", "sometimes"}},
		{name: "unknown_format", arguments: []string{"--format", "xml"}},
		{name: "positional_argument", arguments: []string{"extra.xlsx"}},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			resolver := &stubExecutorResolver{executor: newStubExecutor()}
			_, executionError := runPhaseCommand(subTest, testConfiguration(subTest.TempDir()), resolver, "map", testCase.arguments...)
			require.Error(subTest, executionError)
			require.Zero(subTest, resolver.calls)
		})
	}
}

func TestPhaseCommandCredentialHandling(testInstance *testing.T) {
	missingToken := fmt.Errorf("unable to resolve GitHub token: %w", githubauth.ErrTokenNotFound)
	testCases := []struct {
		name        string
		arguments   []string
		expectError bool
	}{
		{name: "dry_run_continues_without_token", arguments: []string{"--dry-run"}},
		{name: "live_run_requires_token", expectError: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			outputDirectory := subTest.TempDir()
			inputPath := filepath.Join(outputDirectory, testInputWorkbookName)
			writeWorkbook(subTest, inputPath, issuesTable(
				map[string]string{tabular.ColumnSourceIssueID: "I_kwDOSrc1", tabular.ColumnIssueTitle: "Preview"},
			))

			resolver := &stubExecutorResolver{err: missingToken}
			arguments := append([]string{"--input", inputPath}, testCase.arguments...)
			output, executionError := runPhaseCommand(subTest, testConfiguration(outputDirectory), resolver, "migrate", arguments...)
			if testCase.expectError {
				require.ErrorIs(subTest, executionError, githubauth.ErrTokenNotFound)
				require.Empty(subTest, output)
				return
			}
			require.NoError(subTest, executionError)
			require.Contains(subTest, output, "phase: migrate")
		})
	}
}

func TestDefaultExecutorResolver(testInstance *testing.T) {
	testCases := []struct {
		name        string
		tokenSource string
		environment map[string]string
		expectError error
	}{
		{name: "default_environment_token", environment: map[string]string{githubauth.EnvGitHubToken: "ghp_example"}},
		{name: "named_environment_token", tokenSource: "env:MIGRATION_TOKEN", environment: map[string]string{"MIGRATION_TOKEN": "ghp_example"}},
		{name: "missing_token", environment: map[string]string{}, expectError: githubauth.ErrTokenNotFound},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			resolver := &migration.DefaultExecutorResolver{
				TokenResolver: githubauth.NewTokenResolver(func(key string) (string, bool) {
					value, exists := testCase.environment[key]
					return value, exists
				}, nil),
			}
			configuration := migration.DefaultConfiguration()
			configuration.GitHub.TokenSource = testCase.tokenSource

			executor, resolveError := resolver.Resolve(context.Background(), zap.NewNop(), configuration)
			if testCase.expectError != nil {
				require.ErrorIs(subTest, resolveError, testCase.expectError)
				require.Nil(subTest, executor)
				return
			}
			require.NoError(subTest, resolveError)
			require.NotNil(subTest, executor)
		})
	}
}
