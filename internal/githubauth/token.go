package githubauth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/temirov/ghmigrate/internal/execshell"
)

// Environment variable names consulted when no token source is configured.
const (
	EnvGitHubCLIToken = "GH_TOKEN"
	EnvGitHubToken    = "GITHUB_TOKEN"
	EnvGitHubAPIToken = "GITHUB_API_TOKEN"
)

const (
	tokenSourceSeparatorConstant               = ":"
	environmentTokenSourceTypeValueConstant    = "env"
	fileTokenSourceTypeValueConstant           = "file"
	commandTokenSourceTypeValueConstant        = "command"
	environmentNameMissingErrorMessageConstant = "environment variable name must be provided"
	filePathMissingErrorMessageConstant        = "token file path must be provided"
	commandMissingErrorMessageConstant         = "token command must be provided"
	commandRunErrorTemplateConstant            = "unable to run token command %s: %w"
	commandTokenEmptyErrorTemplateConstant     = "token command %s printed no token"
	environmentTokenMissingTemplateConstant    = "environment variable %s is not set"
	fileReadErrorTemplateConstant              = "unable to read token file %s: %w"
	fileTokenEmptyErrorTemplateConstant        = "token file %s is empty"
	unsupportedTokenSourceTemplateConstant     = "unsupported token source type %q"
	noTokenFoundErrorMessageConstant           = "no GitHub token found in GH_TOKEN, GITHUB_TOKEN or GITHUB_API_TOKEN"
)

// ErrTokenNotFound indicates that none of the default environment variables holds a token.
var ErrTokenNotFound = errors.New(noTokenFoundErrorMessageConstant)

var tokenPreference = []string{
	EnvGitHubCLIToken,
	EnvGitHubToken,
	EnvGitHubAPIToken,
}

// TokenSourceType enumerates the supported token retrieval mechanisms.
type TokenSourceType string

// Token source types. TokenSourceTypeDefault walks the preferred environment variables.
const (
	TokenSourceTypeDefault     TokenSourceType = ""
	TokenSourceTypeEnvironment TokenSourceType = environmentTokenSourceTypeValueConstant
	TokenSourceTypeFile        TokenSourceType = fileTokenSourceTypeValueConstant
	TokenSourceTypeCommand     TokenSourceType = commandTokenSourceTypeValueConstant
)

// TokenSource specifies how to locate a credential.
type TokenSource struct {
	Type      TokenSourceType
	Reference string
}

// EnvironmentLookup obtains an environment variable value.
type EnvironmentLookup func(key string) (string, bool)

// FileReader reads the contents of a file path.
type FileReader func(path string) ([]byte, error)

// ParseTokenSource interprets "env:NAME", "file:PATH", "command:gh auth token" or a bare variable name. A blank
// value selects the default environment variables.
func ParseTokenSource(sourceValue string) (TokenSource, error) {
	trimmedValue := strings.TrimSpace(sourceValue)
	if len(trimmedValue) == 0 {
		return TokenSource{Type: TokenSourceTypeDefault}, nil
	}

	components := strings.SplitN(trimmedValue, tokenSourceSeparatorConstant, 2)
	if len(components) == 1 {
		return TokenSource{Type: TokenSourceTypeEnvironment, Reference: trimmedValue}, nil
	}

	sourceType := strings.ToLower(strings.TrimSpace(components[0]))
	reference := strings.TrimSpace(components[1])
	switch sourceType {
	case environmentTokenSourceTypeValueConstant:
		if len(reference) == 0 {
			return TokenSource{}, errors.New(environmentNameMissingErrorMessageConstant)
		}
		return TokenSource{Type: TokenSourceTypeEnvironment, Reference: reference}, nil
	case fileTokenSourceTypeValueConstant:
		if len(reference) == 0 {
			return TokenSource{}, errors.New(filePathMissingErrorMessageConstant)
		}
		return TokenSource{Type: TokenSourceTypeFile, Reference: reference}, nil
	case commandTokenSourceTypeValueConstant:
		if len(reference) == 0 {
			return TokenSource{}, errors.New(commandMissingErrorMessageConstant)
		}
		return TokenSource{Type: TokenSourceTypeCommand, Reference: reference}, nil
	default:
		return TokenSource{}, fmt.Errorf(unsupportedTokenSourceTemplateConstant, sourceType)
	}
}

// TokenResolver retrieves credentials from token sources.
type TokenResolver struct {
	environmentLookup EnvironmentLookup
	fileReader        FileReader
	commandRunner     execshell.CommandRunner
}

// NewTokenResolver creates a resolver; nil collaborators select the process environment and filesystem.
func NewTokenResolver(environmentLookup EnvironmentLookup, fileReader FileReader) *TokenResolver {
	if environmentLookup == nil {
		environmentLookup = os.LookupEnv
	}
	if fileReader == nil {
		fileReader = os.ReadFile
	}
	return &TokenResolver{environmentLookup: environmentLookup, fileReader: fileReader, commandRunner: execshell.NewOSCommandRunner()}
}

// WithCommandRunner replaces the runner used for command token sources.
func (resolver *TokenResolver) WithCommandRunner(commandRunner execshell.CommandRunner) *TokenResolver {
	if commandRunner != nil {
		resolver.commandRunner = commandRunner
	}
	return resolver
}

// ResolveToken returns the trimmed credential named by source.
func (resolver *TokenResolver) ResolveToken(resolutionContext context.Context, source TokenSource) (string, error) {
	switch source.Type {
	case TokenSourceTypeDefault:
		for _, key := range tokenPreference {
			if value, found := resolver.lookup(key); found {
				return value, nil
			}
		}
		return "", ErrTokenNotFound
	case TokenSourceTypeEnvironment:
		value, found := resolver.lookup(source.Reference)
		if !found {
			return "", fmt.Errorf(environmentTokenMissingTemplateConstant, source.Reference)
		}
		return value, nil
	case TokenSourceTypeFile:
		contents, readError := resolver.fileReader(source.Reference)
		if readError != nil {
			return "", fmt.Errorf(fileReadErrorTemplateConstant, source.Reference, readError)
		}
		trimmedValue := strings.TrimSpace(string(contents))
		if len(trimmedValue) == 0 {
			return "", fmt.Errorf(fileTokenEmptyErrorTemplateConstant, source.Reference)
		}
		return trimmedValue, nil
	case TokenSourceTypeCommand:
		return resolver.runTokenCommand(resolutionContext, source.Reference)
	default:
		return "", fmt.Errorf(unsupportedTokenSourceTemplateConstant, source.Type)
	}
}

func (resolver *TokenResolver) runTokenCommand(resolutionContext context.Context, commandLine string) (string, error) {
	command, parseError := execshell.ParseCommandLine(commandLine)
	if parseError != nil {
		return "", parseError
	}
	result, runError := resolver.commandRunner.Run(resolutionContext, command)
	if runError != nil {
		return "", fmt.Errorf(commandRunErrorTemplateConstant, command.String(), runError)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf(commandRunErrorTemplateConstant, command.String(), execshell.CommandFailedError{Command: command, Result: result})
	}
	trimmedValue := strings.TrimSpace(result.StandardOutput)
	if len(trimmedValue) == 0 {
		return "", fmt.Errorf(commandTokenEmptyErrorTemplateConstant, command.String())
	}
	return trimmedValue, nil
}

func (resolver *TokenResolver) lookup(key string) (string, bool) {
	value, exists := resolver.environmentLookup(key)
	if !exists {
		return "", false
	}
	value = strings.TrimSpace(value)
	if len(value) == 0 {
		return "", false
	}
	return value, true
}
