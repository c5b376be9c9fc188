// Package relationships links migrated issues as parent/sub-issues and as
// blocking dependencies.
//
// Every edge endpoint is resolved to a target identifier before any write so
// that references to issues that were never migrated fail as dangling instead
// of linking the wrong issue. Edges are deduplicated in canonical form:
// "A blocking B" and "B blocked-by A" are the same dependency.
package relationships
