package fieldmap

import (
	"slices"
	"strings"
)

const (
	defaultListSeparatorConstant = "||"
	escapeCharacterConstant      = '\\'
	textKindNameConstant         = "text"
	identifierKindNameConstant   = "identifier"
	listKindNameConstant         = "list"
	unknownKindNameConstant      = "unknown"
)

// RemoteIdentifier is an opaque handle for a remote entity. Only equality is meaningful.
type RemoteIdentifier string

// String returns the raw identifier.
func (identifier RemoteIdentifier) String() string {
	return string(identifier)
}

// IsZero reports whether the identifier is empty.
func (identifier RemoteIdentifier) IsZero() bool {
	return len(identifier) == 0
}

// FieldValueKind discriminates the FieldValue union.
type FieldValueKind int

// Field value kinds.
const (
	FieldValueKindText FieldValueKind = iota + 1
	FieldValueKindIdentifier
	FieldValueKindList
)

// String names the kind.
func (kind FieldValueKind) String() string {
	switch kind {
	case FieldValueKindText:
		return textKindNameConstant
	case FieldValueKindIdentifier:
		return identifierKindNameConstant
	case FieldValueKindList:
		return listKindNameConstant
	default:
		return unknownKindNameConstant
	}
}

// FieldValue holds raw text, a resolved identifier, or an ordered list of values.
// The zero value is empty text.
type FieldValue struct {
	kind       FieldValueKind
	text       string
	identifier RemoteIdentifier
	items      []FieldValue
}

// TextValue wraps unresolved text.
func TextValue(raw string) FieldValue {
	return FieldValue{kind: FieldValueKindText, text: raw}
}

// IdentifierValue wraps a resolved identifier.
func IdentifierValue(identifier RemoteIdentifier) FieldValue {
	return FieldValue{kind: FieldValueKindIdentifier, identifier: identifier}
}

// ListValue wraps an ordered list of values.
func ListValue(items ...FieldValue) FieldValue {
	return FieldValue{kind: FieldValueKindList, items: slices.Clone(items)}
}

// ParseListValue splits raw on separator into a list of trimmed, non-empty text values.
func ParseListValue(raw string, separator string) FieldValue {
	parts := SplitValues(raw, separator)
	items := make([]FieldValue, 0, len(parts))
	for _, part := range parts {
		items = append(items, TextValue(part))
	}
	return FieldValue{kind: FieldValueKindList, items: items}
}

// IdentifierListValue wraps identifiers as a list value.
func IdentifierListValue(identifiers []RemoteIdentifier) FieldValue {
	items := make([]FieldValue, 0, len(identifiers))
	for _, identifier := range identifiers {
		items = append(items, IdentifierValue(identifier))
	}
	return FieldValue{kind: FieldValueKindList, items: items}
}

// Kind returns the discriminator, treating the zero value as text.
func (value FieldValue) Kind() FieldValueKind {
	if value.kind == 0 {
		return FieldValueKindText
	}
	return value.kind
}

// Text returns the raw text of a text value.
func (value FieldValue) Text() string {
	return value.text
}

// Identifier returns the identifier of an identifier value.
func (value FieldValue) Identifier() RemoteIdentifier {
	return value.identifier
}

// Items returns a copy of the list members.
func (value FieldValue) Items() []FieldValue {
	return slices.Clone(value.items)
}

// IsEmpty reports whether the value carries nothing to write.
func (value FieldValue) IsEmpty() bool {
	switch value.Kind() {
	case FieldValueKindIdentifier:
		return value.identifier.IsZero()
	case FieldValueKindList:
		for _, item := range value.items {
			if !item.IsEmpty() {
				return false
			}
		}
		return true
	default:
		return len(strings.TrimSpace(value.text)) == 0
	}
}

// Identifiers flattens a resolved value into identifiers. Text members are skipped.
func (value FieldValue) Identifiers() []RemoteIdentifier {
	switch value.Kind() {
	case FieldValueKindIdentifier:
		if value.identifier.IsZero() {
			return nil
		}
		return []RemoteIdentifier{value.identifier}
	case FieldValueKindList:
		var identifiers []RemoteIdentifier
		for _, item := range value.items {
			identifiers = append(identifiers, item.Identifiers()...)
		}
		return identifiers
	default:
		return nil
	}
}

// Render formats the value as cell text, joining lists with separator.
func (value FieldValue) Render(separator string) string {
	if len(separator) == 0 {
		separator = defaultListSeparatorConstant
	}
	switch value.Kind() {
	case FieldValueKindIdentifier:
		return value.identifier.String()
	case FieldValueKindList:
		rendered := make([]string, 0, len(value.items))
		for _, item := range value.items {
			if item.IsEmpty() {
				continue
			}
			rendered = append(rendered, item.Render(separator))
		}
		return strings.Join(rendered, separator)
	default:
		return value.text
	}
}

// SplitValues splits raw on separator, trims each part and drops blanks.
func SplitValues(raw string, separator string) []string {
	if len(separator) == 0 {
		separator = defaultListSeparatorConstant
	}
	var parts []string
	for _, part := range strings.Split(raw, separator) {
		trimmedPart := strings.TrimSpace(part)
		if len(trimmedPart) == 0 {
			continue
		}
		parts = append(parts, trimmedPart)
	}
	return parts
}

// JoinEscaped joins free-text values on separator so that SplitEscaped recovers them
// exactly. Every backslash and every occurrence of the first separator byte inside a
// value is prefixed with a backslash.
func JoinEscaped(values []string, separator string) string {
	if len(separator) == 0 {
		separator = defaultListSeparatorConstant
	}
	leadByte := separator[0]
	var builder strings.Builder
	for valueIndex, value := range values {
		if valueIndex > 0 {
			builder.WriteString(separator)
		}
		for byteIndex := 0; byteIndex < len(value); byteIndex++ {
			if value[byteIndex] == escapeCharacterConstant || value[byteIndex] == leadByte {
				builder.WriteByte(escapeCharacterConstant)
			}
			builder.WriteByte(value[byteIndex])
		}
	}
	return builder.String()
}

// SplitEscaped reverses JoinEscaped. Parts are neither trimmed nor dropped, so positions
// line up across parallel columns. A backslash not followed by a backslash or the first
// separator byte is kept literally, which leaves hand-written cells readable.
func SplitEscaped(raw string, separator string) []string {
	if len(raw) == 0 {
		return nil
	}
	if len(separator) == 0 {
		separator = defaultListSeparatorConstant
	}
	leadByte := separator[0]
	var parts []string
	var current strings.Builder
	for byteIndex := 0; byteIndex < len(raw); {
		switch {
		case raw[byteIndex] == escapeCharacterConstant && byteIndex+1 < len(raw) &&
			(raw[byteIndex+1] == escapeCharacterConstant || raw[byteIndex+1] == leadByte):
			current.WriteByte(raw[byteIndex+1])
			byteIndex += 2
		case strings.HasPrefix(raw[byteIndex:], separator):
			parts = append(parts, current.String())
			current.Reset()
			byteIndex += len(separator)
		default:
			current.WriteByte(raw[byteIndex])
			byteIndex++
		}
	}
	return append(parts, current.String())
}
