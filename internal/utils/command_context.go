package utils

import "context"

const (
	configurationFilePathContextKeyConstant = commandContextKey("configurationFilePath")
	runIDContextKeyConstant                 = commandContextKey("runID")
)

type commandContextKey string

// CommandContextAccessor stores and reads values shared by the commands of one invocation.
type CommandContextAccessor struct{}

// NewCommandContextAccessor constructs a CommandContextAccessor.
func NewCommandContextAccessor() CommandContextAccessor {
	return CommandContextAccessor{}
}

// WithConfigurationFilePath attaches the configuration file in use.
func (accessor CommandContextAccessor) WithConfigurationFilePath(parentContext context.Context, configurationFilePath string) context.Context {
	return withValue(parentContext, configurationFilePathContextKeyConstant, configurationFilePath)
}

// ConfigurationFilePath returns the configuration file attached to executionContext.
func (accessor CommandContextAccessor) ConfigurationFilePath(executionContext context.Context) (string, bool) {
	return stringValue(executionContext, configurationFilePathContextKeyConstant)
}

// WithRunID attaches the identifier labelling every phase summary of the invocation.
func (accessor CommandContextAccessor) WithRunID(parentContext context.Context, runID string) context.Context {
	return withValue(parentContext, runIDContextKeyConstant, runID)
}

// RunID returns the run identifier attached to executionContext.
func (accessor CommandContextAccessor) RunID(executionContext context.Context) (string, bool) {
	return stringValue(executionContext, runIDContextKeyConstant)
}

func withValue(parentContext context.Context, key commandContextKey, value string) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	return context.WithValue(parentContext, key, value)
}

func stringValue(executionContext context.Context, key commandContextKey) (string, bool) {
	if executionContext == nil {
		return "", false
	}
	value, available := executionContext.Value(key).(string)
	if !available || len(value) == 0 {
		return "", false
	}
	return value, true
}
