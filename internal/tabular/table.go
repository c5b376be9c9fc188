package tabular

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	validationErrorTemplateConstant  = "%s.%s: %s"
	rowErrorTemplateConstant         = "%s row %d: %v"
	requiredValueMissingMessage      = "required value missing"
	columnNameReplacerSpaceConstant  = " "
	columnNameReplacerUnderscore     = "_"
	columnNameReplacerHyphenConstant = "-"
)

var columnNameReplacer = strings.NewReplacer(
	columnNameReplacerSpaceConstant, "",
	columnNameReplacerUnderscore, "",
	columnNameReplacerHyphenConstant, "",
)

// ValidationError describes a value that violates its column schema.
type ValidationError struct {
	Table   string
	Column  string
	Message string
}

// Error describes the validation failure.
func (validationError ValidationError) Error() string {
	return fmt.Sprintf(validationErrorTemplateConstant, validationError.Table, validationError.Column, validationError.Message)
}

// RowError ties a failure to a physical row of a sheet.
type RowError struct {
	Table     string
	RowNumber int
	Cause     error
}

// Error describes the rejected row.
func (rowError RowError) Error() string {
	return fmt.Sprintf(rowErrorTemplateConstant, rowError.Table, rowError.RowNumber, rowError.Cause)
}

// Unwrap exposes the underlying validation error.
func (rowError RowError) Unwrap() error {
	return rowError.Cause
}

// Row is one data row. Number is the 1-based sheet line it was read from, or zero for new rows.
type Row struct {
	Number int
	Values map[string]string
}

// Get returns the value of column, or an empty string.
func (row Row) Get(column string) string {
	return row.Values[column]
}

// Table is an ordered row collection with a fixed column list.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
	// Errors lists rows rejected while loading.
	Errors []RowError
}

// NewTable creates an empty table with the schema's columns.
func NewTable(schema Schema) *Table {
	return &Table{Name: schema.Name, Columns: schema.ColumnNames()}
}

// AppendRow adds a row built from values. Unknown columns are appended to the column list.
func (table *Table) AppendRow(values map[string]string) {
	rowValues := make(map[string]string, len(table.Columns))
	for _, column := range table.Columns {
		rowValues[column] = ""
	}
	for _, column := range slices.Sorted(maps.Keys(values)) {
		if !slices.Contains(table.Columns, column) {
			table.Columns = append(table.Columns, column)
			for rowIndex := range table.Rows {
				table.Rows[rowIndex].Values[column] = ""
			}
		}
		rowValues[column] = values[column]
	}
	table.Rows = append(table.Rows, Row{Values: rowValues})
}

// Set replaces one cell of an existing row, adding the column when the table lacks it.
func (table *Table) Set(rowIndex int, column string, value string) {
	if rowIndex < 0 || rowIndex >= len(table.Rows) {
		return
	}
	if !slices.Contains(table.Columns, column) {
		table.Columns = append(table.Columns, column)
		for existingIndex := range table.Rows {
			table.Rows[existingIndex].Values[column] = ""
		}
	}
	table.Rows[rowIndex].Values[column] = value
}

// Column returns the table column matching name loosely, the way sheet headers are matched.
func (table *Table) Column(name string) (string, bool) {
	normalizedName := normalizeColumnName(name)
	for _, column := range table.Columns {
		if normalizeColumnName(column) == normalizedName {
			return column, true
		}
	}
	return "", false
}

// Workbook is an ordered set of named tables.
type Workbook struct {
	tables map[string]*Table
	order  []string
}

// NewWorkbook creates an empty workbook.
func NewWorkbook() *Workbook {
	return &Workbook{tables: make(map[string]*Table)}
}

// PutTable adds or replaces a table, keeping the original position on replacement.
func (workbook *Workbook) PutTable(table *Table) {
	if table == nil {
		return
	}
	key := normalizeTableName(table.Name)
	if _, exists := workbook.tables[key]; !exists {
		workbook.order = append(workbook.order, key)
	}
	workbook.tables[key] = table
}

// Table returns the table named name, matched case-insensitively.
func (workbook *Workbook) Table(name string) (*Table, bool) {
	table, exists := workbook.tables[normalizeTableName(name)]
	return table, exists
}

// Tables returns the tables in insertion order.
func (workbook *Workbook) Tables() []*Table {
	tables := make([]*Table, 0, len(workbook.order))
	for _, key := range workbook.order {
		tables = append(tables, workbook.tables[key])
	}
	return tables
}

// RowErrors collects row errors from every table.
func (workbook *Workbook) RowErrors() []RowError {
	var rowErrors []RowError
	for _, table := range workbook.Tables() {
		rowErrors = append(rowErrors, table.Errors...)
	}
	return rowErrors
}

func normalizeTableName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeColumnName(name string) string {
	return strings.ToLower(columnNameReplacer.Replace(strings.TrimSpace(name)))
}
