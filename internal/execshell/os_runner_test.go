package execshell_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/ghmigrate/internal/execshell"
)

const shellExecutableConstant = "sh"

func TestParseCommandLine(testInstance *testing.T) {
	testCases := []struct {
		name            string
		commandLine     string
		expectedCommand execshell.ShellCommand
		expectError     bool
	}{
		{name: "gh_auth_token", commandLine: " gh  auth token ", expectedCommand: execshell.ShellCommand{Name: "gh", Arguments: []string{"auth", "token"}}},
		{name: "bare_executable", commandLine: "pass", expectedCommand: execshell.ShellCommand{Name: "pass", Arguments: []string{}}},
		{name: "blank", commandLine: "   ", expectError: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			command, parseError := execshell.ParseCommandLine(testCase.commandLine)
			if testCase.expectError {
				require.ErrorIs(subTest, parseError, execshell.ErrCommandNameMissing)
				return
			}
			require.NoError(subTest, parseError)
			require.Equal(subTest, testCase.expectedCommand, command)
		})
	}
}

func TestOSCommandRunnerCapturesOutput(testInstance *testing.T) {
	testCases := []struct {
		name             string
		command          execshell.ShellCommand
		expectedOutput   string
		expectedError    string
		expectedExitCode int
	}{
		{
			name:           "standard_output",
			command:        execshell.ShellCommand{Name: shellExecutableConstant, Arguments: []string{"-c", "printf token-value"}},
			expectedOutput: "token-value",
		},
		{
			name:           "environment_and_input",
			command:        execshell.ShellCommand{Name: shellExecutableConstant, Arguments: []string{"-c", "printf \"$GREETING\"; cat"}, EnvironmentVariables: map[string]string{"GREETING": "hello "}, StandardInput: []byte("world")},
			expectedOutput: "hello world",
		},
		{
			name:             "non_zero_exit",
			command:          execshell.ShellCommand{Name: shellExecutableConstant, Arguments: []string{"-c", "printf denied >&2; exit 3"}},
			expectedError:    "denied",
			expectedExitCode: 3,
		},
	}

	runner := execshell.NewOSCommandRunner()
	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			result, runError := runner.Run(context.Background(), testCase.command)
			require.NoError(subTest, runError)
			require.Equal(subTest, testCase.expectedOutput, result.StandardOutput)
			require.Equal(subTest, testCase.expectedError, result.StandardError)
			require.Equal(subTest, testCase.expectedExitCode, result.ExitCode)
		})
	}
}

func TestOSCommandRunnerRejectsMissingExecutable(testInstance *testing.T) {
	runner := execshell.NewOSCommandRunner()

	_, blankError := runner.Run(context.Background(), execshell.ShellCommand{})
	require.ErrorIs(testInstance, blankError, execshell.ErrCommandNameMissing)

	_, missingError := runner.Run(context.Background(), execshell.ShellCommand{Name: "ghmigrate-missing-executable"})
	require.Error(testInstance, missingError)
}

func TestCommandFailedErrorMessage(testInstance *testing.T) {
	failedError := execshell.CommandFailedError{
		Command: execshell.ShellCommand{Name: "gh", Arguments: []string{"auth", "token"}},
		Result:  execshell.ExecutionResult{ExitCode: 1, StandardError: "not logged in\n"},
	}
	require.True(testInstance, strings.HasPrefix(failedError.Error(), "gh auth token exited with code 1"))
	require.True(testInstance, strings.HasSuffix(failedError.Error(), "not logged in"))
}
