package pathutils_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	pathutils "github.com/temirov/ghmigrate/internal/utils/path"
)

const (
	homeDirectoryConstant = "/home/migrator"
)

func TestHomeExpanderExpand(testInstance *testing.T) {
	testCases := []struct {
		name         string
		providerErr  error
		input        string
		expectedPath string
	}{
		{name: "blank_path", input: "  ", expectedPath: ""},
		{name: "tilde_only", input: "~", expectedPath: homeDirectoryConstant},
		{name: "tilde_prefix", input: "~/output/mapped.xlsx", expectedPath: filepath.Join(homeDirectoryConstant, "output", "mapped.xlsx")},
		{name: "relative_path_cleaned", input: "output/../output/migrated.xlsx", expectedPath: filepath.Join("output", "migrated.xlsx")},
		{name: "other_user_untouched", input: "~other/file.xlsx", expectedPath: "~other/file.xlsx"},
		{name: "provider_failure", providerErr: errors.New("no home"), input: "~/file.xlsx", expectedPath: "~/file.xlsx"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			expander := pathutils.NewHomeExpanderWithProvider(func() (string, error) {
				if testCase.providerErr != nil {
					return "", testCase.providerErr
				}
				return homeDirectoryConstant, nil
			})
			require.Equal(subTest, testCase.expectedPath, expander.Expand(testCase.input))
		})
	}
}
