package githubapi_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/ghmigrate/internal/githubapi"
)

func TestIsAlreadyExists(testInstance *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "validation_code",
			err:      githubapi.TransportError{Kind: githubapi.ErrorKindPermanent, StatusCode: 422, Body: []byte(`{"message":"Validation Failed","errors":[{"resource":"Label","code":"already_exists","field":"name"}]}`)},
			expected: true,
		},
		{
			name:     "wrapped_message",
			err:      fmt.Errorf("link: %w", githubapi.TransportError{Kind: githubapi.ErrorKindPermanent, StatusCode: 200, Message: "Issue dependency already exists"}),
			expected: true,
		},
		{
			name:     "other_validation_code",
			err:      githubapi.TransportError{Kind: githubapi.ErrorKindPermanent, StatusCode: 422, Body: []byte(`{"errors":[{"code":"invalid"}]}`)},
			expected: false,
		},
		{
			name:     "transient",
			err:      githubapi.TransportError{Kind: githubapi.ErrorKindTransient, StatusCode: 502, Message: "already exists"},
			expected: false,
		},
		{
			name:     "authentication",
			err:      githubapi.AuthenticationError{StatusCode: 401},
			expected: false,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			require.Equal(subTest, testCase.expected, githubapi.IsAlreadyExists(testCase.err))
		})
	}
}
