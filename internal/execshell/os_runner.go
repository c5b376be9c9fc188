package execshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const (
	environmentAssignmentTemplateConstant = "%s=%s"
	commandNameMissingErrorMessage        = "command name must be provided"
	commandFailureTemplateConstant        = "%s exited with code %d: %s"
	commandArgumentsSeparatorConstant     = " "
)

// ErrCommandNameMissing indicates a ShellCommand without an executable.
var ErrCommandNameMissing = errors.New(commandNameMissingErrorMessage)

// ShellCommand names an executable and its invocation details.
type ShellCommand struct {
	Name                 string
	Arguments            []string
	WorkingDirectory     string
	EnvironmentVariables map[string]string
	StandardInput        []byte
}

// String renders the command line for log messages.
func (command ShellCommand) String() string {
	return strings.TrimSpace(strings.Join(append([]string{command.Name}, command.Arguments...), commandArgumentsSeparatorConstant))
}

// ExecutionResult captures the outcome of a finished command.
type ExecutionResult struct {
	StandardOutput string
	StandardError  string
	ExitCode       int
}

// CommandFailedError reports a command that ran and exited with a non-zero code.
type CommandFailedError struct {
	Command ShellCommand
	Result  ExecutionResult
}

func (failedError CommandFailedError) Error() string {
	return fmt.Sprintf(commandFailureTemplateConstant, failedError.Command.String(), failedError.Result.ExitCode, strings.TrimSpace(failedError.Result.StandardError))
}

// CommandRunner executes shell commands.
type CommandRunner interface {
	Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error)
}

// ParseCommandLine splits a whitespace separated command line into a ShellCommand.
func ParseCommandLine(commandLine string) (ShellCommand, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return ShellCommand{}, ErrCommandNameMissing
	}
	return ShellCommand{Name: fields[0], Arguments: fields[1:]}, nil
}

// OSCommandRunner executes commands using the operating system facilities.
type OSCommandRunner struct{}

// NewOSCommandRunner constructs a runner backed by os/exec.
func NewOSCommandRunner() *OSCommandRunner {
	return &OSCommandRunner{}
}

// Run executes the command. A non-zero exit is reported through ExecutionResult.ExitCode rather than an error.
func (runner *OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	if len(strings.TrimSpace(command.Name)) == 0 {
		return ExecutionResult{}, ErrCommandNameMissing
	}

	executable := exec.CommandContext(executionContext, command.Name, append([]string{}, command.Arguments...)...)
	if len(command.WorkingDirectory) > 0 {
		executable.Dir = command.WorkingDirectory
	}

	if len(command.EnvironmentVariables) > 0 {
		mergedEnvironment := append([]string{}, os.Environ()...)
		for environmentKey, environmentValue := range command.EnvironmentVariables {
			mergedEnvironment = append(mergedEnvironment, fmt.Sprintf(environmentAssignmentTemplateConstant, environmentKey, environmentValue))
		}
		executable.Env = mergedEnvironment
	}

	var standardOutputBuffer bytes.Buffer
	var standardErrorBuffer bytes.Buffer
	executable.Stdout = &standardOutputBuffer
	executable.Stderr = &standardErrorBuffer
	if len(command.StandardInput) > 0 {
		executable.Stdin = bytes.NewReader(command.StandardInput)
	}

	runError := executable.Run()
	result := ExecutionResult{
		StandardOutput: standardOutputBuffer.String(),
		StandardError:  standardErrorBuffer.String(),
	}
	if runError != nil {
		exitError := &exec.ExitError{}
		if errors.As(runError, &exitError) {
			result.ExitCode = exitError.ExitCode()
			return result, nil
		}
		return ExecutionResult{}, runError
	}
	return result, nil
}
