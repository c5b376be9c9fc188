package migration

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/githubapi"
	"github.com/temirov/ghmigrate/internal/issues"
)

const (
	defaultParallelismConstant        = 4
	defaultSeparatorConstant          = "||"
	defaultOutputDirectoryConstant    = "output"
	defaultFatalPolicyConstant        = FatalPolicyContinueAndReport
	fatalPolicyAbortValueConstant     = "abort-on-first-fatal"
	fatalPolicyContinueValueConstant  = "continue-and-report"
	configurationKeySeparatorConstant = "."
	fieldRuleKindOptionConstant       = "option"
	fieldRuleKindNumberedConstant     = "numbered"
	fieldRuleKindUserConstant         = "user"
	iterationFieldNameConstant        = "iteration"
	quarterFieldNameConstant          = "quarter"
	usersFieldNameConstant            = "users"
	unknownFatalPolicyTemplate        = "unknown fatal policy %q"
	unknownFieldRuleKindTemplate      = "field rule %s: unknown kind %q"
	unknownFieldTypeTemplate          = "field %s: unknown type %q"
	fieldIncompleteTemplate           = "field definition %q requires a name and an id"
	mappingFileReadErrorTemplate      = "unable to read mapping file %s: %w"
	mappingFileParseErrorTemplate     = "unable to parse mapping file %s: %w"
)

// FatalPolicy decides whether a failed item stops the run.
type FatalPolicy string

// Fatal policies. Authentication failures abort under both.
const (
	FatalPolicyAbortOnFirstFatal FatalPolicy = fatalPolicyAbortValueConstant
	FatalPolicyContinueAndReport FatalPolicy = fatalPolicyContinueValueConstant
)

// ParseFatalPolicy accepts the policy names; blank selects continue-and-report.
func ParseFatalPolicy(raw string) (FatalPolicy, error) {
	switch FatalPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return defaultFatalPolicyConstant, nil
	case FatalPolicyAbortOnFirstFatal:
		return FatalPolicyAbortOnFirstFatal, nil
	case FatalPolicyContinueAndReport:
		return FatalPolicyContinueAndReport, nil
	default:
		return "", fmt.Errorf(unknownFatalPolicyTemplate, raw)
	}
}

// Configuration is the immutable input of an Orchestrator.
type Configuration struct {
	GitHub     GitHubConfiguration     `mapstructure:"github"`
	Project    ProjectConfiguration    `mapstructure:"project"`
	Processing ProcessingConfiguration `mapstructure:"processing"`
	Mapping    MappingConfiguration    `mapstructure:"mapping"`
	// Fields lists the target project fields. When empty the Fields sheet of the input workbook is used.
	Fields     []FieldConfiguration `mapstructure:"fields"`
	LabelsFile string               `mapstructure:"labels_file"`
}

// GitHubConfiguration describes the remote endpoints and transport limits.
type GitHubConfiguration struct {
	GraphQLURL        string        `mapstructure:"graphql_url"`
	RESTURL           string        `mapstructure:"rest_url"`
	APIVersion        string        `mapstructure:"api_version"`
	TokenSource       string        `mapstructure:"token_source"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	MaxRateLimitWait  time.Duration `mapstructure:"max_rate_limit_wait"`
	PoolSize          int           `mapstructure:"pool_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// ProjectConfiguration names the source and target of the migration.
type ProjectConfiguration struct {
	SourceProjectID    string `mapstructure:"source_project_id"`
	SourceOwner        string `mapstructure:"source_owner"`
	SourceRepository   string `mapstructure:"source_repository"`
	TargetProjectID    string `mapstructure:"target_project_id"`
	TargetRepositoryID string `mapstructure:"target_repository_id"`
	TargetOwner        string `mapstructure:"target_owner"`
	TargetRepository   string `mapstructure:"target_repository"`
}

// ProcessingConfiguration controls batching and outputs.
type ProcessingConfiguration struct {
	Parallelism     int         `mapstructure:"parallelism"`
	Separator       string      `mapstructure:"multi_value_separator"`
	DryRun          bool        `mapstructure:"dry_run"`
	ExtractLimit    int         `mapstructure:"extract_limit"`
	FatalPolicy     FatalPolicy `mapstructure:"fatal_policy"`
	OutputDirectory string      `mapstructure:"output_directory"`
}

// MappingConfiguration holds the human value to identifier tables.
type MappingConfiguration struct {
	// File is a YAML document with values and rules sections; its entries are
	// overridden by Values. Keys keep their case, unlike configuration keys.
	File   string                            `mapstructure:"file"`
	Values map[string]map[string]string      `mapstructure:"values"`
	Rules  map[string]FieldRuleConfiguration `mapstructure:"rules"`
}

// FieldRuleConfiguration selects the normalization of one mapped field.
type FieldRuleConfiguration struct {
	Kind   string `mapstructure:"kind" yaml:"kind"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// FieldConfiguration describes one target project field.
type FieldConfiguration struct {
	Name string `mapstructure:"name"`
	ID   string `mapstructure:"id"`
	Type string `mapstructure:"type"`
}

type mappingDocument struct {
	Values map[string]map[string]string      `yaml:"values"`
	Rules  map[string]FieldRuleConfiguration `yaml:"rules"`
}

// DefaultConfiguration supplies baseline values.
func DefaultConfiguration() Configuration {
	retryPolicy := githubapi.DefaultRetryPolicy()
	return Configuration{
		GitHub: GitHubConfiguration{
			MaxRetries:       retryPolicy.MaxRetries,
			RetryBaseDelay:   retryPolicy.BaseDelay,
			RetryMaxDelay:    retryPolicy.MaxDelay,
			MaxRateLimitWait: retryPolicy.MaxRateLimitWait,
		},
		Processing: ProcessingConfiguration{
			Parallelism:     defaultParallelismConstant,
			Separator:       defaultSeparatorConstant,
			FatalPolicy:     defaultFatalPolicyConstant,
			OutputDirectory: defaultOutputDirectoryConstant,
		},
	}
}

// DefaultConfigurationValues returns the flattened defaults keyed below rootKey, for
// registration with a configuration loader.
func DefaultConfigurationValues(rootKey string) map[string]any {
	defaults := DefaultConfiguration()
	prefix := strings.TrimSpace(rootKey)
	if len(prefix) > 0 {
		prefix += configurationKeySeparatorConstant
	}
	return map[string]any{
		prefix + "github.max_retries":               defaults.GitHub.MaxRetries,
		prefix + "github.retry_base_delay":          defaults.GitHub.RetryBaseDelay,
		prefix + "github.retry_max_delay":           defaults.GitHub.RetryMaxDelay,
		prefix + "github.max_rate_limit_wait":       defaults.GitHub.MaxRateLimitWait,
		prefix + "processing.parallelism":           defaults.Processing.Parallelism,
		prefix + "processing.multi_value_separator": defaults.Processing.Separator,
		prefix + "processing.fatal_policy":          string(defaults.Processing.FatalPolicy),
		prefix + "processing.output_directory":      defaults.Processing.OutputDirectory,
	}
}

// Sanitize trims values and replaces unusable ones with defaults.
func (configuration Configuration) Sanitize() Configuration {
	defaults := DefaultConfiguration()
	sanitized := configuration

	sanitized.Project = ProjectConfiguration{
		SourceProjectID:    strings.TrimSpace(configuration.Project.SourceProjectID),
		SourceOwner:        strings.TrimSpace(configuration.Project.SourceOwner),
		SourceRepository:   strings.TrimSpace(configuration.Project.SourceRepository),
		TargetProjectID:    strings.TrimSpace(configuration.Project.TargetProjectID),
		TargetRepositoryID: strings.TrimSpace(configuration.Project.TargetRepositoryID),
		TargetOwner:        strings.TrimSpace(configuration.Project.TargetOwner),
		TargetRepository:   strings.TrimSpace(configuration.Project.TargetRepository),
	}
	if sanitized.Processing.Parallelism < 1 {
		sanitized.Processing.Parallelism = defaults.Processing.Parallelism
	}
	if len(sanitized.Processing.Separator) == 0 {
		sanitized.Processing.Separator = defaults.Processing.Separator
	}
	if sanitized.Processing.ExtractLimit < 0 {
		sanitized.Processing.ExtractLimit = 0
	}
	sanitized.Processing.OutputDirectory = strings.TrimSpace(sanitized.Processing.OutputDirectory)
	if len(sanitized.Processing.OutputDirectory) == 0 {
		sanitized.Processing.OutputDirectory = defaults.Processing.OutputDirectory
	}
	sanitized.Mapping.File = strings.TrimSpace(sanitized.Mapping.File)
	sanitized.LabelsFile = strings.TrimSpace(sanitized.LabelsFile)
	return sanitized
}

// ClientConfiguration converts the GitHub section into transport settings.
func (configuration GitHubConfiguration) ClientConfiguration(credential string) githubapi.Configuration {
	retryPolicy := githubapi.DefaultRetryPolicy()
	retryPolicy.MaxRetries = configuration.MaxRetries
	retryPolicy.BaseDelay = configuration.RetryBaseDelay
	retryPolicy.MaxDelay = configuration.RetryMaxDelay
	retryPolicy.MaxRateLimitWait = configuration.MaxRateLimitWait

	return githubapi.Configuration{
		GraphQLURL:        configuration.GraphQLURL,
		RESTURL:           configuration.RESTURL,
		APIVersion:        configuration.APIVersion,
		Credential:        credential,
		Timeout:           configuration.Timeout,
		PoolSize:          configuration.PoolSize,
		RequestsPerSecond: configuration.RequestsPerSecond,
		Burst:             configuration.Burst,
		Retry:             retryPolicy.Sanitize(),
	}
}

// ProjectFields converts the configured field definitions.
func (configuration Configuration) ProjectFields() ([]issues.ProjectField, error) {
	projectFields := make([]issues.ProjectField, 0, len(configuration.Fields))
	for _, field := range configuration.Fields {
		projectField, fieldError := newProjectField(field.Name, field.ID, field.Type)
		if fieldError != nil {
			return nil, fieldError
		}
		projectFields = append(projectFields, projectField)
	}
	return projectFields, nil
}

func newProjectField(name string, identifier string, rawType string) (issues.ProjectField, error) {
	trimmedName := strings.TrimSpace(name)
	trimmedIdentifier := strings.TrimSpace(identifier)
	if len(trimmedName) == 0 || len(trimmedIdentifier) == 0 {
		return issues.ProjectField{}, fmt.Errorf(fieldIncompleteTemplate, name)
	}
	fieldType, known := issues.ParseFieldType(rawType)
	if !known {
		return issues.ProjectField{}, fmt.Errorf(unknownFieldTypeTemplate, trimmedName, rawType)
	}
	return issues.ProjectField{Name: trimmedName, ID: fieldmap.RemoteIdentifier(trimmedIdentifier), Type: fieldType}, nil
}

// loadMappingDocument merges the mapping file with the inline configuration.
func (configuration MappingConfiguration) loadMappingDocument() (mappingDocument, error) {
	document := mappingDocument{
		Values: make(map[string]map[string]string),
		Rules:  make(map[string]FieldRuleConfiguration),
	}

	if len(configuration.File) > 0 {
		fileContents, readError := os.ReadFile(configuration.File)
		if readError != nil {
			return mappingDocument{}, fmt.Errorf(mappingFileReadErrorTemplate, configuration.File, readError)
		}
		var fileDocument mappingDocument
		if parseError := yaml.Unmarshal(fileContents, &fileDocument); parseError != nil {
			return mappingDocument{}, fmt.Errorf(mappingFileParseErrorTemplate, configuration.File, parseError)
		}
		mergeMappingDocument(&document, fileDocument.Values, fileDocument.Rules)
	}
	mergeMappingDocument(&document, configuration.Values, configuration.Rules)
	return document, nil
}

func mergeMappingDocument(document *mappingDocument, values map[string]map[string]string, rules map[string]FieldRuleConfiguration) {
	for fieldName, entries := range values {
		normalizedFieldName := fieldmap.NormalizeKey(fieldName)
		if document.Values[normalizedFieldName] == nil {
			document.Values[normalizedFieldName] = make(map[string]string, len(entries))
		}
		for rawKey, identifier := range entries {
			document.Values[normalizedFieldName][rawKey] = identifier
		}
	}
	for fieldName, rule := range rules {
		document.Rules[fieldmap.NormalizeKey(fieldName)] = rule
	}
}

func defaultFieldRules() map[string]fieldmap.FieldRule {
	return map[string]fieldmap.FieldRule{
		iterationFieldNameConstant: {Kind: fieldmap.FieldKindNumbered, NumberedPrefix: iterationFieldNameConstant},
		quarterFieldNameConstant:   {Kind: fieldmap.FieldKindNumbered, NumberedPrefix: quarterFieldNameConstant},
		usersFieldNameConstant:     {Kind: fieldmap.FieldKindUser},
	}
}

func parseFieldRule(fieldName string, rule FieldRuleConfiguration) (fieldmap.FieldRule, error) {
	switch strings.ToLower(strings.TrimSpace(rule.Kind)) {
	case "", fieldRuleKindOptionConstant:
		return fieldmap.FieldRule{Kind: fieldmap.FieldKindOption}, nil
	case fieldRuleKindNumberedConstant:
		prefix := strings.TrimSpace(rule.Prefix)
		if len(prefix) == 0 {
			prefix = fieldName
		}
		return fieldmap.FieldRule{Kind: fieldmap.FieldKindNumbered, NumberedPrefix: prefix}, nil
	case fieldRuleKindUserConstant:
		return fieldmap.FieldRule{Kind: fieldmap.FieldKindUser}, nil
	default:
		return fieldmap.FieldRule{}, fmt.Errorf(unknownFieldRuleKindTemplate, fieldName, rule.Kind)
	}
}
