package fieldmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/ghmigrate/internal/fieldmap"
)

const (
	testStatusFieldConstant      = "status"
	testLabelFieldConstant       = "label"
	testIterationFieldConstant   = "iteration"
	testUserFieldConstant        = "user"
	testIssueTypeFieldConstant   = "issue_type"
	testInProgressOptionConstant = "47fc9ee4"
	testDoneOptionConstant       = "98236657"
	testBugLabelConstant         = "LA_kwDOBug1"
	testFeatureLabelConstant     = "LA_kwDOFeat"
	testIterationThreeConstant   = "a1b2c3d4"
	testOctocatUserConstant      = "U_kgDOOcto"
	testBugIssueTypeConstant     = "IT_kwDOBugT"
	testTaskIssueTypeConstant    = "IT_kwDOTask"
)

func newTestResolver(testInstance *testing.T) *fieldmap.Resolver {
	testInstance.Helper()

	table, tableError := fieldmap.NewMappingTable(
		map[string]map[string]string{
			testStatusFieldConstant: {
				"In Progress": testInProgressOptionConstant,
				"Done":        testDoneOptionConstant,
			},
			testLabelFieldConstant: {
				"bug":     testBugLabelConstant,
				"Feature": testFeatureLabelConstant,
			},
			testIterationFieldConstant: {
				"3": testIterationThreeConstant,
			},
			testUserFieldConstant: {
				"octocat": testOctocatUserConstant,
			},
			testIssueTypeFieldConstant: {
				"bug":     testBugIssueTypeConstant,
				"default": testTaskIssueTypeConstant,
			},
		},
		map[string]fieldmap.FieldRule{
			testIterationFieldConstant: {Kind: fieldmap.FieldKindNumbered, NumberedPrefix: "Iteration"},
			testUserFieldConstant:      {Kind: fieldmap.FieldKindUser},
		},
	)
	require.NoError(testInstance, tableError)

	return fieldmap.NewResolver(table, fieldmap.ResolverOptions{})
}

func TestResolveNormalizesEquivalentSpellings(testInstance *testing.T) {
	resolver := newTestResolver(testInstance)

	spellings := []string{"In Progress", "in-progress", "IN PROGRESS ", "in_progress", "In — Progress", "ＩＮ ＰＲＯＧＲＥＳＳ", "  in   progress"}
	for _, spelling := range spellings {
		testInstance.Run(spelling, func(testInstance *testing.T) {
			testInstance.Parallel()
			identifier, resolveError := resolver.Resolve(testStatusFieldConstant, spelling)
			require.NoError(testInstance, resolveError)
			require.Equal(testInstance, fieldmap.RemoteIdentifier(testInProgressOptionConstant), identifier)
		})
	}
}

func TestResolvePassesIdentifiersThrough(testInstance *testing.T) {
	resolver := newTestResolver(testInstance)

	identifierShapedValues := []string{testDoneOptionConstant, "deadBEEF", testBugLabelConstant, "MI_kwDOMile", "PVTSSF_lADOField", "I_kwDOIssue"}
	for _, value := range identifierShapedValues {
		firstPass, firstError := resolver.Resolve(testStatusFieldConstant, value)
		require.NoError(testInstance, firstError)
		require.Equal(testInstance, fieldmap.RemoteIdentifier(value), firstPass)

		secondPass, secondError := resolver.Resolve(testStatusFieldConstant, firstPass.String())
		require.NoError(testInstance, secondError)
		require.Equal(testInstance, firstPass, secondPass)
	}
}

func TestResolveReportsUnmappedValues(testInstance *testing.T) {
	resolver := newTestResolver(testInstance)

	_, resolveError := resolver.Resolve(testStatusFieldConstant, "Blocked")
	var unmappedError fieldmap.UnmappedValueError
	require.ErrorAs(testInstance, resolveError, &unmappedError)
	require.Equal(testInstance, testStatusFieldConstant, unmappedError.FieldName)
	require.Equal(testInstance, "Blocked", unmappedError.RawValue)

	_, unknownFieldError := resolver.Resolve("team", "Platform")
	require.ErrorAs(testInstance, unknownFieldError, &unmappedError)

	blankIdentifier, blankError := resolver.Resolve(testStatusFieldConstant, "   ")
	require.NoError(testInstance, blankError)
	require.True(testInstance, blankIdentifier.IsZero())
}

func TestResolveListKeepsOrderAndDropsDuplicates(testInstance *testing.T) {
	resolver := newTestResolver(testInstance)

	identifiers, resolveError := resolver.ResolveList(testLabelFieldConstant, "Feature || bug||BUG || "+testFeatureLabelConstant)
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, []fieldmap.RemoteIdentifier{testFeatureLabelConstant, testBugLabelConstant}, identifiers)
}

func TestResolveListCollectsEveryUnmappedPart(testInstance *testing.T) {
	resolver := newTestResolver(testInstance)

	identifiers, resolveError := resolver.ResolveList(testLabelFieldConstant, "bug||unknown-one||unknown-two")
	require.Equal(testInstance, []fieldmap.RemoteIdentifier{testBugLabelConstant}, identifiers)
	require.Error(testInstance, resolveError)
	require.Contains(testInstance, resolveError.Error(), "unknown-one")
	require.Contains(testInstance, resolveError.Error(), "unknown-two")
}

func TestResolveNumberedFields(testInstance *testing.T) {
	resolver := newTestResolver(testInstance)

	for _, spelling := range []string{"Iteration 3", "iteration3", "3", "03", " ITERATION 3 "} {
		identifier, resolveError := resolver.Resolve(testIterationFieldConstant, spelling)
		require.NoError(testInstance, resolveError, spelling)
		require.Equal(testInstance, fieldmap.RemoteIdentifier(testIterationThreeConstant), identifier, spelling)
	}
}

func TestResolveUserTokens(testInstance *testing.T) {
	resolver := newTestResolver(testInstance)

	for _, spelling := range []string{"octocat", "@octocat", "https://github.com/octocat", "Octo Cat (octocat)", "OctoCat"} {
		identifier, resolveError := resolver.Resolve(testUserFieldConstant, spelling)
		require.NoError(testInstance, resolveError, spelling)
		require.Equal(testInstance, fieldmap.RemoteIdentifier(testOctocatUserConstant), identifier, spelling)
	}
}

func TestResolveIssueType(testInstance *testing.T) {
	resolver := newTestResolver(testInstance)

	testCases := []struct {
		name     string
		rawValue string
		labels   []string
		expected fieldmap.RemoteIdentifier
	}{
		{name: "bug_label_wins", rawValue: "default", labels: []string{"Bug"}, expected: testBugIssueTypeConstant},
		{name: "blank_uses_default", rawValue: "", labels: []string{"feature"}, expected: testTaskIssueTypeConstant},
		{name: "explicit_value", rawValue: "Bug", expected: testBugIssueTypeConstant},
		{name: "identifier_passthrough", rawValue: "IT_kwDOOther", expected: "IT_kwDOOther"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			testInstance.Parallel()
			identifier, resolveError := resolver.ResolveIssueType(testIssueTypeFieldConstant, testCase.rawValue, testCase.labels)
			require.NoError(testInstance, resolveError)
			require.Equal(testInstance, testCase.expected, identifier)
		})
	}
}

func TestNewMappingTableRejectsAmbiguousKeys(testInstance *testing.T) {
	_, tableError := fieldmap.NewMappingTable(map[string]map[string]string{
		testStatusFieldConstant: {
			"In Progress": testInProgressOptionConstant,
			"in-progress": testDoneOptionConstant,
		},
	}, nil)

	var ambiguousError fieldmap.AmbiguousMappingError
	require.ErrorAs(testInstance, tableError, &ambiguousError)
	require.Equal(testInstance, "in progress", ambiguousError.NormalizedKey)

	_, consistentError := fieldmap.NewMappingTable(map[string]map[string]string{
		testStatusFieldConstant: {
			"In Progress": testInProgressOptionConstant,
			"in-progress": testInProgressOptionConstant,
		},
	}, nil)
	require.NoError(testInstance, consistentError)
}

func TestResolveValueHandlesEveryKind(testInstance *testing.T) {
	resolver := newTestResolver(testInstance)

	identifierValue, identifierError := resolver.ResolveValue(testStatusFieldConstant, fieldmap.IdentifierValue(testDoneOptionConstant))
	require.NoError(testInstance, identifierError)
	require.Equal(testInstance, fieldmap.FieldValueKindIdentifier, identifierValue.Kind())

	textValue, textError := resolver.ResolveValue(testStatusFieldConstant, fieldmap.TextValue("done"))
	require.NoError(testInstance, textError)
	require.Equal(testInstance, fieldmap.RemoteIdentifier(testDoneOptionConstant), textValue.Identifier())

	listValue, listError := resolver.ResolveValue(testLabelFieldConstant, fieldmap.ListValue(fieldmap.TextValue("bug"), fieldmap.IdentifierValue(testFeatureLabelConstant)))
	require.NoError(testInstance, listError)
	require.Equal(testInstance, testBugLabelConstant+"||"+testFeatureLabelConstant, listValue.Render("||"))
}
