package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatChoiceUsage(testInstance *testing.T) {
	testCases := []struct {
		name           string
		defaultChoice  string
		choices        []string
		description    string
		expectedOutput string
	}{
		{
			name:           "default_first_choice",
			defaultChoice:  "yaml",
			choices:        []string{"yaml", "json"},
			description:    "Summary output format.",
			expectedOutput: "`<YAML|json>` Summary output format.",
		},
		{
			name:           "default_second_choice",
			defaultChoice:  "continue-and-report",
			choices:        []string{"abort-on-first-fatal", "continue-and-report"},
			description:    "Fatal error policy.",
			expectedOutput: "`<abort-on-first-fatal|CONTINUE-AND-REPORT>` Fatal error policy.",
		},
		{
			name:           "empty_description",
			defaultChoice:  "structured",
			choices:        []string{"structured", "console"},
			expectedOutput: "`<STRUCTURED|console>`",
		},
		{
			name:           "duplicates_and_whitespace_ignored",
			defaultChoice:  "json",
			choices:        []string{" json ", "json", " yaml", ""},
			description:    "Format.",
			expectedOutput: "`<JSON|yaml>` Format.",
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			require.Equal(subTest, testCase.expectedOutput, FormatChoiceUsage(testCase.defaultChoice, testCase.choices, testCase.description))
		})
	}
}

func TestParseChoice(testInstance *testing.T) {
	choices := []string{"yaml", "json"}
	testCases := []struct {
		name           string
		value          string
		expectedChoice string
		expectError    bool
	}{
		{name: "blank_selects_default", value: " ", expectedChoice: "yaml"},
		{name: "case_insensitive", value: "JSON", expectedChoice: "json"},
		{name: "unknown_choice", value: "xml", expectError: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			choice, parseError := ParseChoice("format", testCase.value, "yaml", choices)
			if testCase.expectError {
				require.ErrorContains(subTest, parseError, "yaml, json")
				return
			}
			require.NoError(subTest, parseError)
			require.Equal(subTest, testCase.expectedChoice, choice)
		})
	}
}
