package labels

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/temirov/ghmigrate/internal/fieldmap"
)

const (
	colorPrefixConstant              = "#"
	defaultColorConstant             = "ededed"
	definitionsReadErrorTemplate     = "unable to read label definitions %s: %w"
	definitionsDecodeErrorTemplate   = "unable to decode label definitions %s: %w"
	invalidColorMessageTemplate      = "color %q is not a six digit hex value"
	definitionNameFieldNameConstant  = "name"
	definitionColorFieldNameConstant = "color"
	definitionNameRequiredMessage    = "label name required"
)

var hexColorPattern = regexp.MustCompile(`^[0-9a-f]{6}$`)

// Definition describes one label.
type Definition struct {
	Name        string                    `yaml:"name"`
	Color       string                    `yaml:"color"`
	Description string                    `yaml:"description"`
	SourceID    fieldmap.RemoteIdentifier `yaml:"sourceId,omitempty"`
	TargetID    fieldmap.RemoteIdentifier `yaml:"targetId,omitempty"`
}

// NormalizeColor removes a leading "#" and lower-cases the value. Blank colors
// fall back to the neutral GitHub default.
func NormalizeColor(raw string) (string, error) {
	color := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), colorPrefixConstant))
	if len(color) == 0 {
		return defaultColorConstant, nil
	}
	if !hexColorPattern.MatchString(color) {
		return "", fmt.Errorf(invalidColorMessageTemplate, raw)
	}
	return color, nil
}

// LoadDefinitions reads a YAML or JSON list of label definitions.
func LoadDefinitions(path string) ([]Definition, error) {
	contents, readError := os.ReadFile(path)
	if readError != nil {
		return nil, fmt.Errorf(definitionsReadErrorTemplate, path, readError)
	}
	var definitions []Definition
	if decodeError := yaml.Unmarshal(contents, &definitions); decodeError != nil {
		return nil, fmt.Errorf(definitionsDecodeErrorTemplate, path, decodeError)
	}
	return definitions, nil
}
