// Package fieldmap translates human-authored field values into remote identifiers.
//
// Values that already look like GitHub identifiers pass through untouched.
// Everything else is normalized (Unicode compatibility form, case folding,
// whitespace and dash collapsing) and looked up in a per-field MappingTable
// built once from configuration. Missing entries surface as
// UnmappedValueError so callers can report the row instead of guessing.
package fieldmap
