package fieldmap

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	unmappedValueErrorTemplateConstant    = "no mapping for %s value %q"
	ambiguousMappingErrorTemplateConstant = "mapping for %s is ambiguous: %q and %q both normalize to %q"
	unknownFieldValueKindTemplateConstant = "unsupported field value kind %s"
	bugIssueTypeKeyConstant               = "bug"
	defaultIssueTypeKeyConstant           = "default"
	spaceCharacterConstant                = " "
)

// FieldKind selects the normalization applied to a field before lookup.
type FieldKind int

// Field kinds.
const (
	// FieldKindOption is a plain single or multi select value.
	FieldKindOption FieldKind = iota
	// FieldKindNumbered accepts "Iteration 5" and "5" for the same entry.
	FieldKindNumbered
	// FieldKindUser accepts profile URLs, @handles and "Name (handle)" forms.
	FieldKindUser
)

// FieldRule customizes lookup for one field.
type FieldRule struct {
	Kind FieldKind
	// NumberedPrefix is the word stripped from numbered values, for example iteration.
	NumberedPrefix string
}

// UnmappedValueError reports a value with no mapping entry.
type UnmappedValueError struct {
	FieldName string
	RawValue  string
}

// Error describes the missing mapping.
func (unmappedError UnmappedValueError) Error() string {
	return fmt.Sprintf(unmappedValueErrorTemplateConstant, unmappedError.FieldName, unmappedError.RawValue)
}

// AmbiguousMappingError reports two configured keys that collapse to the same normalized key
// but point at different identifiers.
type AmbiguousMappingError struct {
	FieldName     string
	FirstKey      string
	SecondKey     string
	NormalizedKey string
}

// Error describes the collision.
func (ambiguousError AmbiguousMappingError) Error() string {
	return fmt.Sprintf(ambiguousMappingErrorTemplateConstant, ambiguousError.FieldName, ambiguousError.FirstKey, ambiguousError.SecondKey, ambiguousError.NormalizedKey)
}

type mappingEntry struct {
	rawKey     string
	identifier RemoteIdentifier
}

// MappingTable holds normalized value-to-identifier lookups per field. It is read-only after construction.
type MappingTable struct {
	fields map[string]map[string]mappingEntry
	rules  map[string]FieldRule
}

// NewMappingTable normalizes every configured key. Field names are matched case-insensitively.
func NewMappingTable(rawMappings map[string]map[string]string, rules map[string]FieldRule) (MappingTable, error) {
	normalizedRules := make(map[string]FieldRule, len(rules))
	for fieldName, rule := range rules {
		normalizedRules[normalizeFieldName(fieldName)] = rule
	}

	table := MappingTable{fields: make(map[string]map[string]mappingEntry, len(rawMappings)), rules: normalizedRules}

	fieldNames := slices.Sorted(maps.Keys(rawMappings))
	for _, fieldName := range fieldNames {
		normalizedFieldName := normalizeFieldName(fieldName)
		entries := table.fields[normalizedFieldName]
		if entries == nil {
			entries = make(map[string]mappingEntry)
			table.fields[normalizedFieldName] = entries
		}

		rawKeys := slices.Sorted(maps.Keys(rawMappings[fieldName]))
		for _, rawKey := range rawKeys {
			identifier := RemoteIdentifier(strings.TrimSpace(rawMappings[fieldName][rawKey]))
			if identifier.IsZero() {
				continue
			}
			lookupKey := table.lookupKey(normalizedFieldName, rawKey)
			if existing, exists := entries[lookupKey]; exists && existing.identifier != identifier {
				return MappingTable{}, AmbiguousMappingError{
					FieldName:     fieldName,
					FirstKey:      existing.rawKey,
					SecondKey:     rawKey,
					NormalizedKey: lookupKey,
				}
			}
			entries[lookupKey] = mappingEntry{rawKey: rawKey, identifier: identifier}
		}
	}

	return table, nil
}

// Fields lists the configured field names in sorted order.
func (table MappingTable) Fields() []string {
	return slices.Sorted(maps.Keys(table.fields))
}

// HasField reports whether any mapping exists for fieldName.
func (table MappingTable) HasField(fieldName string) bool {
	_, exists := table.fields[normalizeFieldName(fieldName)]
	return exists
}

func (table MappingTable) lookup(fieldName string, rawValue string) (RemoteIdentifier, bool) {
	normalizedFieldName := normalizeFieldName(fieldName)
	entries := table.fields[normalizedFieldName]
	if len(entries) == 0 {
		return "", false
	}

	for _, candidate := range table.candidateKeys(normalizedFieldName, rawValue) {
		if entry, exists := entries[candidate]; exists {
			return entry.identifier, true
		}
	}
	return "", false
}

func (table MappingTable) lookupKey(normalizedFieldName string, rawValue string) string {
	return table.candidateKeys(normalizedFieldName, rawValue)[0]
}

// candidateKeys lists lookup keys in priority order. The first entry is the canonical key.
func (table MappingTable) candidateKeys(normalizedFieldName string, rawValue string) []string {
	rule := table.rules[normalizedFieldName]
	switch rule.Kind {
	case FieldKindNumbered:
		return []string{numberedKey(NormalizeKey(rawValue), NormalizeKey(rule.NumberedPrefix))}
	case FieldKindUser:
		normalizedUser := NormalizeKey(cleanUserToken(rawValue))
		return []string{
			normalizedUser,
			strings.ReplaceAll(normalizedUser, spaceCharacterConstant, ""),
			NormalizeKey(atSignPrefixConstant + normalizedUser),
		}
	default:
		return []string{NormalizeKey(rawValue)}
	}
}

// Resolver turns field values into remote identifiers using a MappingTable.
// Resolution is deterministic and safe for concurrent use.
type Resolver struct {
	table      MappingTable
	separator  string
	recognizer func(string) bool
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Separator string
	// Recognizer overrides LooksLikeIdentifier.
	Recognizer func(string) bool
}

// NewResolver constructs a Resolver over table.
func NewResolver(table MappingTable, options ResolverOptions) *Resolver {
	separator := options.Separator
	if len(separator) == 0 {
		separator = defaultListSeparatorConstant
	}
	recognizer := options.Recognizer
	if recognizer == nil {
		recognizer = LooksLikeIdentifier
	}
	return &Resolver{table: table, separator: separator, recognizer: recognizer}
}

// Separator returns the multi-value separator in use.
func (resolver *Resolver) Separator() string {
	return resolver.separator
}

// Table exposes the underlying mapping table.
func (resolver *Resolver) Table() MappingTable {
	return resolver.table
}

// Resolve maps one raw value. Identifier-shaped values are returned unchanged and
// blank values resolve to the zero identifier.
func (resolver *Resolver) Resolve(fieldName string, rawValue string) (RemoteIdentifier, error) {
	trimmedValue := strings.TrimSpace(rawValue)
	if len(trimmedValue) == 0 {
		return "", nil
	}
	if resolver.recognizer(trimmedValue) {
		return RemoteIdentifier(trimmedValue), nil
	}
	if identifier, found := resolver.table.lookup(fieldName, trimmedValue); found {
		return identifier, nil
	}
	return "", UnmappedValueError{FieldName: fieldName, RawValue: rawValue}
}

// ResolveList splits raw on the separator and resolves each part, keeping the first
// occurrence of each identifier. Every unmapped part is reported.
func (resolver *Resolver) ResolveList(fieldName string, rawValue string) ([]RemoteIdentifier, error) {
	value, resolveError := resolver.ResolveValue(fieldName, ParseListValue(rawValue, resolver.separator))
	return value.Identifiers(), resolveError
}

// ResolveValue resolves every text member of value. Lists keep order, drop duplicates
// and collect all failures; mapped members are returned even when others fail.
func (resolver *Resolver) ResolveValue(fieldName string, value FieldValue) (FieldValue, error) {
	switch value.Kind() {
	case FieldValueKindIdentifier:
		return value, nil
	case FieldValueKindText:
		identifier, resolveError := resolver.Resolve(fieldName, value.Text())
		if resolveError != nil {
			return value, resolveError
		}
		return IdentifierValue(identifier), nil
	case FieldValueKindList:
		seen := make(map[RemoteIdentifier]struct{}, len(value.items))
		resolvedItems := make([]FieldValue, 0, len(value.items))
		var resolutionErrors []error
		for _, item := range value.items {
			resolvedItem, itemError := resolver.ResolveValue(fieldName, item)
			if itemError != nil {
				resolutionErrors = append(resolutionErrors, itemError)
				continue
			}
			for _, identifier := range resolvedItem.Identifiers() {
				if _, duplicate := seen[identifier]; duplicate {
					continue
				}
				seen[identifier] = struct{}{}
				resolvedItems = append(resolvedItems, IdentifierValue(identifier))
			}
		}
		return FieldValue{kind: FieldValueKindList, items: resolvedItems}, errors.Join(resolutionErrors...)
	default:
		return value, fmt.Errorf(unknownFieldValueKindTemplateConstant, value.Kind())
	}
}

// ResolveIssueType maps an issue type value. Records labelled bug use the bug entry when
// one exists; blank values fall back to the default entry.
func (resolver *Resolver) ResolveIssueType(fieldName string, rawValue string, labelNames []string) (RemoteIdentifier, error) {
	for _, labelName := range labelNames {
		if NormalizeKey(labelName) != bugIssueTypeKeyConstant {
			continue
		}
		if identifier, found := resolver.table.lookup(fieldName, bugIssueTypeKeyConstant); found {
			return identifier, nil
		}
	}

	if len(strings.TrimSpace(rawValue)) > 0 {
		return resolver.Resolve(fieldName, rawValue)
	}

	if identifier, found := resolver.table.lookup(fieldName, defaultIssueTypeKeyConstant); found {
		return identifier, nil
	}
	return "", nil
}

func normalizeFieldName(fieldName string) string {
	return NormalizeKey(fieldName)
}
