// Package tabular reads and writes the multi-sheet workbooks exchanged between
// migration phases.
//
// Each sheet is a table with a header row. Known tables have a Schema that
// names their columns and marks the required ones; headers are matched
// loosely so hand-edited spreadsheets still load. Rows missing a required
// value are rejected individually with a RowError while the rest of the
// workbook loads.
package tabular
