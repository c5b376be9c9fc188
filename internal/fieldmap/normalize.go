package fieldmap

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	normalizedSeparatorConstant = " "
	atSignPrefixConstant        = "@"
	userTokenTrimSetConstant    = " ,;:|/-"
)

// dashAndUnderscoreReplacer maps every dash variant and the underscore to a space.
var dashAndUnderscoreReplacer = strings.NewReplacer(
	"-", normalizedSeparatorConstant,
	"_", normalizedSeparatorConstant,
	"‐", normalizedSeparatorConstant,
	"‑", normalizedSeparatorConstant,
	"‒", normalizedSeparatorConstant,
	"–", normalizedSeparatorConstant,
	"—", normalizedSeparatorConstant,
	"―", normalizedSeparatorConstant,
	"−", normalizedSeparatorConstant,
)

var (
	optionIdentifierPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)
	nodeIdentifierPattern   = regexp.MustCompile(`^(PVTSSF|PVTIF|PVTF|PVTI|PVT|MI|IT|LA|IC|I|U|R|O)_[A-Za-z0-9_-]{4,}$`)
	githubProfilePattern    = regexp.MustCompile(`(?i)github\.com/([^/\s]+)`)
	parentheticalPattern    = regexp.MustCompile(`\(.*?\)`)
)

// NormalizeKey folds raw into its lookup form: "In Progress", "in-progress" and
// " IN_PROGRESS " all become "in progress".
func NormalizeKey(raw string) string {
	composed := norm.NFKC.String(raw)
	folded := cases.Fold().String(composed)
	separated := dashAndUnderscoreReplacer.Replace(folded)
	return strings.Join(strings.Fields(separated), normalizedSeparatorConstant)
}

// LooksLikeIdentifier reports whether raw already has the shape of a remote identifier:
// an 8 digit hexadecimal project option id or a GitHub global node id.
func LooksLikeIdentifier(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return optionIdentifierPattern.MatchString(trimmed) || nodeIdentifierPattern.MatchString(trimmed)
}

// cleanUserToken reduces a profile URL, @handle or "Name (handle)" string to its lookup text.
func cleanUserToken(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if match := githubProfilePattern.FindStringSubmatch(cleaned); len(match) == 2 {
		cleaned = match[1]
	}
	cleaned = parentheticalPattern.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimLeft(strings.TrimSpace(cleaned), atSignPrefixConstant)
	cleaned = strings.Trim(cleaned, userTokenTrimSetConstant)
	return cleaned
}

// numberedKey turns "iteration 5", "iteration5" and "05" into "5" for numbered fields.
// Keys that do not end in a number are returned unchanged. The key is already normalized.
func numberedKey(normalizedKey string, normalizedPrefix string) string {
	candidate := normalizedKey
	if len(normalizedPrefix) > 0 && strings.HasPrefix(candidate, normalizedPrefix) {
		candidate = strings.TrimSpace(strings.TrimPrefix(candidate, normalizedPrefix))
	}
	number, parseError := strconv.Atoi(candidate)
	if parseError != nil || number < 0 {
		return normalizedKey
	}
	return strconv.Itoa(number)
}
