// Package migration runs the migration phases end to end.
//
// Phases run in dependency order: extract, map, migrate, relationships and
// labels. Each phase reads the workbook written by the previous one and writes
// its own, so an interrupted run resumes from any phase boundary. Every phase
// returns a PhaseReport and appends its summary to the Summary sheet of the
// workbook it writes.
package migration
