package tabular

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	defaultSheetNameConstant     = "Sheet1"
	headerRowNumberConstant      = 1
	firstColumnNumberConstant    = 1
	workbookOpenErrorTemplate    = "unable to open workbook %s: %w"
	workbookReadErrorTemplate    = "unable to read workbook: %w"
	sheetReadErrorTemplate       = "unable to read sheet %s: %w"
	sheetWriteErrorTemplate      = "unable to write sheet %s: %w"
	workbookSaveErrorTemplate    = "unable to save workbook %s: %w"
	workbookWriteErrorTemplate   = "unable to write workbook: %w"
	workbookNotConfiguredMessage = "workbook not configured"
	continuationHeaderTemplate   = "%s#%d"
	firstContinuationConstant    = 2
)

// ErrWorkbookNotConfigured indicates Save received a nil workbook.
var ErrWorkbookNotConfigured = errors.New(workbookNotConfiguredMessage)

var illegalSpreadsheetCharacters = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)

// continuationHeaderPattern matches the extra headers that hold the tail of values longer
// than a spreadsheet cell allows, e.g. "issueBody#2".
var continuationHeaderPattern = regexp.MustCompile(`^(.*\S)#([2-9]|[1-9][0-9]+)$`)

type continuationCell struct {
	cellIndex int
	column    string
	part      int
}

// Load reads the workbook at path. Sheets matching a schema are validated against it;
// other sheets load with their own header. KnownSchemas are used when none are given.
func Load(path string, schemas ...Schema) (*Workbook, error) {
	file, openError := excelize.OpenFile(path)
	if openError != nil {
		return nil, fmt.Errorf(workbookOpenErrorTemplate, path, openError)
	}
	defer file.Close()
	return readWorkbook(file, schemas)
}

// Read loads a workbook from reader.
func Read(reader io.Reader, schemas ...Schema) (*Workbook, error) {
	file, openError := excelize.OpenReader(reader)
	if openError != nil {
		return nil, fmt.Errorf(workbookReadErrorTemplate, openError)
	}
	defer file.Close()
	return readWorkbook(file, schemas)
}

// Save writes every table of workbook to path, one sheet per table.
func Save(workbook *Workbook, path string) error {
	file, buildError := buildFile(workbook)
	if buildError != nil {
		return buildError
	}
	defer file.Close()

	if saveError := file.SaveAs(path); saveError != nil {
		return fmt.Errorf(workbookSaveErrorTemplate, path, saveError)
	}
	return nil
}

// Write streams workbook to writer.
func Write(workbook *Workbook, writer io.Writer) error {
	file, buildError := buildFile(workbook)
	if buildError != nil {
		return buildError
	}
	defer file.Close()

	if _, writeError := file.WriteTo(writer); writeError != nil {
		return fmt.Errorf(workbookWriteErrorTemplate, writeError)
	}
	return nil
}

// SanitizeCell removes control characters that spreadsheets cannot store.
func SanitizeCell(value string) string {
	return illegalSpreadsheetCharacters.ReplaceAllString(value, "")
}

func readWorkbook(file *excelize.File, schemas []Schema) (*Workbook, error) {
	if len(schemas) == 0 {
		schemas = KnownSchemas()
	}
	schemasByName := make(map[string]Schema, len(schemas))
	for _, schema := range schemas {
		schemasByName[normalizeTableName(schema.Name)] = schema
	}

	workbook := NewWorkbook()
	for _, sheetName := range file.GetSheetList() {
		rows, rowsError := file.GetRows(sheetName)
		if rowsError != nil {
			return nil, fmt.Errorf(sheetReadErrorTemplate, sheetName, rowsError)
		}
		if len(rows) == 0 || isBlankRow(rows[0]) {
			continue
		}

		schema, known := schemasByName[normalizeTableName(sheetName)]
		if known {
			workbook.PutTable(parseTable(schema.Name, schema, rows))
			continue
		}
		workbook.PutTable(parseTable(sheetName, Schema{Name: sheetName}, rows))
	}
	return workbook, nil
}

// parseTable maps header cells onto schema columns. Headers outside the schema are kept
// after the schema columns in sheet order.
func parseTable(tableName string, schema Schema, rows [][]string) *Table {
	table := &Table{Name: tableName, Columns: schema.ColumnNames()}

	canonicalNames := make(map[string]string, len(schema.Columns))
	for _, column := range schema.Columns {
		canonicalNames[normalizeColumnName(column.Name)] = column.Name
	}

	headerColumns := make([]string, len(rows[0]))
	assigned := make(map[string]struct{}, len(rows[0]))
	assignHeader := func(cellIndex int, trimmedHeader string) {
		columnName := trimmedHeader
		if canonicalName, exists := canonicalNames[normalizeColumnName(trimmedHeader)]; exists {
			columnName = canonicalName
		}
		if _, duplicate := assigned[columnName]; duplicate {
			return
		}
		assigned[columnName] = struct{}{}
		headerColumns[cellIndex] = columnName
		if _, inSchema := canonicalNames[normalizeColumnName(columnName)]; !inSchema {
			table.Columns = append(table.Columns, columnName)
		}
	}

	var continuationCandidates []int
	for cellIndex, headerCell := range rows[0] {
		trimmedHeader := strings.TrimSpace(headerCell)
		if len(trimmedHeader) == 0 {
			continue
		}
		if continuationHeaderPattern.MatchString(trimmedHeader) {
			continuationCandidates = append(continuationCandidates, cellIndex)
			continue
		}
		assignHeader(cellIndex, trimmedHeader)
	}

	var continuations []continuationCell
	for _, cellIndex := range continuationCandidates {
		trimmedHeader := strings.TrimSpace(rows[0][cellIndex])
		if continuation, matched := resolveContinuation(trimmedHeader, headerColumns, canonicalNames); matched {
			continuation.cellIndex = cellIndex
			continuations = append(continuations, continuation)
			continue
		}
		assignHeader(cellIndex, trimmedHeader)
	}
	slices.SortStableFunc(continuations, func(left continuationCell, right continuationCell) int {
		if left.column != right.column {
			return strings.Compare(left.column, right.column)
		}
		return left.part - right.part
	})

	for rowIndex, cells := range rows[1:] {
		if isBlankRow(cells) {
			continue
		}
		rowNumber := rowIndex + headerRowNumberConstant + 1

		values := make(map[string]string, len(table.Columns))
		for _, column := range table.Columns {
			values[column] = ""
		}
		for cellIndex, cell := range cells {
			if cellIndex >= len(headerColumns) || len(headerColumns[cellIndex]) == 0 {
				continue
			}
			values[headerColumns[cellIndex]] = cell
		}
		for _, continuation := range continuations {
			if continuation.cellIndex < len(cells) {
				values[continuation.column] += cells[continuation.cellIndex]
			}
		}

		if validationError := validateRow(schema, values); validationError != nil {
			table.Errors = append(table.Errors, RowError{Table: tableName, RowNumber: rowNumber, Cause: validationError})
			continue
		}
		table.Rows = append(table.Rows, Row{Number: rowNumber, Values: values})
	}
	return table
}

// resolveContinuation reports whether header continues a column already present in the sheet.
func resolveContinuation(header string, headerColumns []string, canonicalNames map[string]string) (continuationCell, bool) {
	matches := continuationHeaderPattern.FindStringSubmatch(header)
	if matches == nil {
		return continuationCell{}, false
	}
	part, parseError := strconv.Atoi(matches[2])
	if parseError != nil {
		return continuationCell{}, false
	}
	baseColumn := matches[1]
	if canonicalName, exists := canonicalNames[normalizeColumnName(baseColumn)]; exists {
		baseColumn = canonicalName
	}
	if !slices.Contains(headerColumns, baseColumn) {
		return continuationCell{}, false
	}
	return continuationCell{column: baseColumn, part: part}, true
}

func validateRow(schema Schema, values map[string]string) error {
	var validationErrors []error
	for _, column := range schema.Columns {
		if !column.Required {
			continue
		}
		if len(strings.TrimSpace(values[column.Name])) == 0 {
			validationErrors = append(validationErrors, ValidationError{Table: schema.Name, Column: column.Name, Message: requiredValueMissingMessage})
		}
	}
	return errors.Join(validationErrors...)
}

func buildFile(workbook *Workbook) (*excelize.File, error) {
	if workbook == nil {
		return nil, ErrWorkbookNotConfigured
	}

	file := excelize.NewFile()
	defaultSheetRenamed := false
	for _, table := range workbook.Tables() {
		if !defaultSheetRenamed {
			if renameError := file.SetSheetName(defaultSheetNameConstant, table.Name); renameError != nil {
				file.Close()
				return nil, fmt.Errorf(sheetWriteErrorTemplate, table.Name, renameError)
			}
			defaultSheetRenamed = true
		} else if _, createError := file.NewSheet(table.Name); createError != nil {
			file.Close()
			return nil, fmt.Errorf(sheetWriteErrorTemplate, table.Name, createError)
		}

		if writeError := writeTable(file, table); writeError != nil {
			file.Close()
			return nil, fmt.Errorf(sheetWriteErrorTemplate, table.Name, writeError)
		}
	}
	return file, nil
}

// writeTable writes the header and every non-blank row. Values longer than
// excelize.TotalCellChars are split across continuation columns named "<column>#<n>"
// appended after the regular columns; Load joins them back.
func writeTable(file *excelize.File, table *Table) error {
	if len(table.Columns) == 0 {
		return nil
	}

	rowsToWrite := make([][][]string, 0, len(table.Rows))
	extraParts := make([]int, len(table.Columns))
	for _, row := range table.Rows {
		cellParts := make([][]string, 0, len(table.Columns))
		blank := true
		for columnIndex, column := range table.Columns {
			value := SanitizeCell(row.Values[column])
			if len(strings.TrimSpace(value)) > 0 {
				blank = false
			}
			parts := splitCellValue(value)
			extraParts[columnIndex] = max(extraParts[columnIndex], len(parts)-1)
			cellParts = append(cellParts, parts)
		}
		if !blank {
			rowsToWrite = append(rowsToWrite, cellParts)
		}
	}

	header := make([]any, 0, len(table.Columns))
	for _, column := range table.Columns {
		header = append(header, SanitizeCell(column))
	}
	for columnIndex, column := range table.Columns {
		for part := 0; part < extraParts[columnIndex]; part++ {
			header = append(header, fmt.Sprintf(continuationHeaderTemplate, SanitizeCell(column), part+firstContinuationConstant))
		}
	}
	if rowError := writeSheetRow(file, table.Name, headerRowNumberConstant, header); rowError != nil {
		return rowError
	}

	for rowOffset, cellParts := range rowsToWrite {
		cells := make([]any, 0, len(header))
		for _, parts := range cellParts {
			cells = append(cells, parts[0])
		}
		for columnIndex, parts := range cellParts {
			for part := 1; part <= extraParts[columnIndex]; part++ {
				if part < len(parts) {
					cells = append(cells, parts[part])
					continue
				}
				cells = append(cells, "")
			}
		}
		if rowError := writeSheetRow(file, table.Name, headerRowNumberConstant+rowOffset+1, cells); rowError != nil {
			return rowError
		}
	}
	return nil
}

func writeSheetRow(file *excelize.File, sheetName string, rowNumber int, cells []any) error {
	cellName, coordinateError := excelize.CoordinatesToCellName(firstColumnNumberConstant, rowNumber)
	if coordinateError != nil {
		return coordinateError
	}
	return file.SetSheetRow(sheetName, cellName, &cells)
}

// splitCellValue cuts value into pieces that fit one cell. The limit counts runes.
func splitCellValue(value string) []string {
	runes := []rune(value)
	if len(runes) <= excelize.TotalCellChars {
		return []string{value}
	}
	parts := make([]string, 0, len(runes)/excelize.TotalCellChars+1)
	for start := 0; start < len(runes); start += excelize.TotalCellChars {
		parts = append(parts, string(runes[start:min(start+excelize.TotalCellChars, len(runes))]))
	}
	return parts
}

func isBlankRow(cells []string) bool {
	for _, cell := range cells {
		if len(strings.TrimSpace(cell)) > 0 {
			return false
		}
	}
	return true
}
