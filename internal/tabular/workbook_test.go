package tabular_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/temirov/ghmigrate/internal/tabular"
)

const (
	workbookFileNameConstant = "issues.xlsx"
	statusFieldColumnName    = "Status"
	firstIssueTitle          = "Broken login"
	secondIssueTitle         = "Slow search"
)

func TestWorkbookRoundTrip(testInstance *testing.T) {
	issuesTable := tabular.NewTable(tabular.IssuesSchema().WithColumns(tabular.ColumnSpec{Name: statusFieldColumnName}))
	issuesTable.AppendRow(map[string]string{
		tabular.ColumnSourceIssueID: "I_kwDOAlpha",
		tabular.ColumnIssueTitle:    firstIssueTitle,
		tabular.ColumnIssueBody:     "line one\nline two",
		tabular.ColumnAssignees:     "alice||bob",
		statusFieldColumnName:       "Todo",
	})
	issuesTable.AppendRow(map[string]string{
		tabular.ColumnIssueTitle: secondIssueTitle,
		tabular.ColumnLabels:     "performance",
	})

	labelsTable := tabular.NewTable(tabular.LabelsSchema())
	labelsTable.AppendRow(map[string]string{tabular.ColumnLabelName: "bug", tabular.ColumnLabelColor: "d73a4a"})

	workbook := tabular.NewWorkbook()
	workbook.PutTable(issuesTable)
	workbook.PutTable(labelsTable)

	workbookPath := filepath.Join(testInstance.TempDir(), workbookFileNameConstant)
	require.NoError(testInstance, tabular.Save(workbook, workbookPath))

	loadedWorkbook, loadError := tabular.Load(workbookPath)
	require.NoError(testInstance, loadError)
	require.Empty(testInstance, loadedWorkbook.RowErrors())

	for _, expectedTable := range workbook.Tables() {
		loadedTable, exists := loadedWorkbook.Table(expectedTable.Name)
		require.True(testInstance, exists, expectedTable.Name)
		require.Equal(testInstance, expectedTable.Columns, loadedTable.Columns)

		if difference := cmp.Diff(rowValues(expectedTable), rowValues(loadedTable)); difference != "" {
			testInstance.Fatalf("%s rows mismatch (-expected +loaded):\n%s", expectedTable.Name, difference)
		}
	}

	loadedIssues, _ := loadedWorkbook.Table(tabular.TableIssues)
	require.Equal(testInstance, 2, loadedIssues.Rows[0].Number)
	require.Equal(testInstance, 3, loadedIssues.Rows[1].Number)
}

func TestWorkbookRoundTripKeepsValuesLongerThanOneCell(testInstance *testing.T) {
	testCases := []struct {
		name     string
		body     string
		comments string
	}{
		{name: "ascii_body", body: strings.Repeat("a", 40000)},
		{name: "multibyte_body_and_comments", body: strings.Repeat("é", excelize.TotalCellChars*2+5), comments: strings.Repeat("x||", 12000)},
		{name: "exactly_one_cell", body: strings.Repeat("b", excelize.TotalCellChars)},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			issuesTable := tabular.NewTable(tabular.IssuesSchema())
			issuesTable.AppendRow(map[string]string{
				tabular.ColumnIssueTitle: firstIssueTitle,
				tabular.ColumnIssueBody:  testCase.body,
				tabular.ColumnComments:   testCase.comments,
			})
			issuesTable.AppendRow(map[string]string{tabular.ColumnIssueTitle: secondIssueTitle, tabular.ColumnIssueBody: "short"})
			workbook := tabular.NewWorkbook()
			workbook.PutTable(issuesTable)

			workbookPath := filepath.Join(subTest.TempDir(), workbookFileNameConstant)
			require.NoError(subTest, tabular.Save(workbook, workbookPath))

			loadedWorkbook, loadError := tabular.Load(workbookPath)
			require.NoError(subTest, loadError)
			require.Empty(subTest, loadedWorkbook.RowErrors())

			loadedIssues, exists := loadedWorkbook.Table(tabular.TableIssues)
			require.True(subTest, exists)
			require.Equal(subTest, issuesTable.Columns, loadedIssues.Columns)
			require.Len(subTest, loadedIssues.Rows, 2)
			require.Equal(subTest, testCase.body, loadedIssues.Rows[0].Get(tabular.ColumnIssueBody))
			require.Equal(subTest, testCase.comments, loadedIssues.Rows[0].Get(tabular.ColumnComments))
			require.Equal(subTest, "short", loadedIssues.Rows[1].Get(tabular.ColumnIssueBody))
		})
	}
}

func TestLoadKeepsUnrelatedHashHeaders(testInstance *testing.T) {
	workbookPath := writeSheet(testInstance, tabular.TableIssues, [][]any{
		{tabular.ColumnIssueTitle, "Estimate#2"},
		{firstIssueTitle, "5"},
	})

	workbook, loadError := tabular.Load(workbookPath)
	require.NoError(testInstance, loadError)

	issuesTable, _ := workbook.Table(tabular.TableIssues)
	require.Len(testInstance, issuesTable.Rows, 1)
	require.Equal(testInstance, "5", issuesTable.Rows[0].Get("Estimate#2"))
	require.Equal(testInstance, firstIssueTitle, issuesTable.Rows[0].Get(tabular.ColumnIssueTitle))
}

func TestLoadToleratesMissingOptionalColumnsAndLooseHeaders(testInstance *testing.T) {
	workbookPath := writeSheet(testInstance, "issues", [][]any{
		{"Issue Title", "source_issue_id", "Custom Column"},
		{firstIssueTitle, "I_kwDOAlpha", "extra"},
	})

	workbook, loadError := tabular.Load(workbookPath)
	require.NoError(testInstance, loadError)

	issuesTable, exists := workbook.Table(tabular.TableIssues)
	require.True(testInstance, exists)
	require.Equal(testInstance, tabular.TableIssues, issuesTable.Name)
	require.Len(testInstance, issuesTable.Rows, 1)

	row := issuesTable.Rows[0]
	require.Equal(testInstance, firstIssueTitle, row.Get(tabular.ColumnIssueTitle))
	require.Equal(testInstance, "I_kwDOAlpha", row.Get(tabular.ColumnSourceIssueID))
	require.Equal(testInstance, "", row.Get(tabular.ColumnMilestone))
	require.Equal(testInstance, "extra", row.Get("Custom Column"))
	require.Equal(testInstance, "Custom Column", issuesTable.Columns[len(issuesTable.Columns)-1])
}

func TestLoadRejectsRowsMissingRequiredValues(testInstance *testing.T) {
	workbookPath := writeSheet(testInstance, tabular.TableIssues, [][]any{
		{tabular.ColumnIssueTitle, tabular.ColumnIssueBody},
		{firstIssueTitle, "first"},
		{"", "orphan body"},
		{},
		{secondIssueTitle, "third"},
	})

	workbook, loadError := tabular.Load(workbookPath)
	require.NoError(testInstance, loadError)

	issuesTable, _ := workbook.Table(tabular.TableIssues)
	require.Len(testInstance, issuesTable.Rows, 2)
	require.Equal(testInstance, secondIssueTitle, issuesTable.Rows[1].Get(tabular.ColumnIssueTitle))

	require.Len(testInstance, issuesTable.Errors, 1)
	rowError := issuesTable.Errors[0]
	require.Equal(testInstance, 3, rowError.RowNumber)

	var validationError tabular.ValidationError
	require.True(testInstance, errors.As(rowError, &validationError))
	require.Equal(testInstance, tabular.ColumnIssueTitle, validationError.Column)
}

func TestLoadRejectsEveryRowWhenRequiredColumnAbsent(testInstance *testing.T) {
	workbookPath := writeSheet(testInstance, tabular.TableLabels, [][]any{
		{tabular.ColumnLabelColor},
		{"d73a4a"},
		{"a2eeef"},
	})

	workbook, loadError := tabular.Load(workbookPath)
	require.NoError(testInstance, loadError)

	labelsTable, _ := workbook.Table(tabular.TableLabels)
	require.Empty(testInstance, labelsTable.Rows)
	require.Len(testInstance, labelsTable.Errors, 2)
}

func TestWriteSanitizesControlCharacters(testInstance *testing.T) {
	table := tabular.NewTable(tabular.LabelsSchema())
	table.AppendRow(map[string]string{tabular.ColumnLabelName: "bug\x00\x07", tabular.ColumnLabelDescription: "tab\tkept"})

	workbook := tabular.NewWorkbook()
	workbook.PutTable(table)

	var buffer bytes.Buffer
	require.NoError(testInstance, tabular.Write(workbook, &buffer))

	loadedWorkbook, readError := tabular.Read(&buffer)
	require.NoError(testInstance, readError)

	loadedTable, _ := loadedWorkbook.Table(tabular.TableLabels)
	require.Len(testInstance, loadedTable.Rows, 1)
	require.Equal(testInstance, "bug", loadedTable.Rows[0].Get(tabular.ColumnLabelName))
	require.Equal(testInstance, "tab\tkept", loadedTable.Rows[0].Get(tabular.ColumnLabelDescription))
}

func TestSaveRejectsNilWorkbook(testInstance *testing.T) {
	saveError := tabular.Save(nil, filepath.Join(testInstance.TempDir(), workbookFileNameConstant))
	require.ErrorIs(testInstance, saveError, tabular.ErrWorkbookNotConfigured)
}

func TestPutTableReplacesCaseInsensitively(testInstance *testing.T) {
	workbook := tabular.NewWorkbook()
	workbook.PutTable(tabular.NewTable(tabular.IssuesSchema()))
	workbook.PutTable(tabular.NewTable(tabular.LabelsSchema()))

	replacement := &tabular.Table{Name: "ISSUES", Columns: []string{tabular.ColumnIssueTitle}}
	workbook.PutTable(replacement)

	tables := workbook.Tables()
	require.Len(testInstance, tables, 2)
	require.Same(testInstance, replacement, tables[0])
}

func TestSetAddsMissingColumns(testInstance *testing.T) {
	table := tabular.NewTable(tabular.LabelsSchema())
	table.AppendRow(map[string]string{tabular.ColumnLabelName: "bug"})
	table.AppendRow(map[string]string{tabular.ColumnLabelName: "docs"})

	table.Set(1, statusFieldColumnName, "Todo")
	table.Set(5, statusFieldColumnName, "ignored")

	require.Equal(testInstance, statusFieldColumnName, table.Columns[len(table.Columns)-1])
	require.Equal(testInstance, "", table.Rows[0].Get(statusFieldColumnName))
	require.Equal(testInstance, "Todo", table.Rows[1].Get(statusFieldColumnName))

	column, found := table.Column("target_label_id")
	require.True(testInstance, found)
	require.Equal(testInstance, tabular.ColumnTargetLabelID, column)

	_, found = table.Column("missing")
	require.False(testInstance, found)
}

func rowValues(table *tabular.Table) []map[string]string {
	values := make([]map[string]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		values = append(values, row.Values)
	}
	return values
}

func writeSheet(testInstance *testing.T, sheetName string, rows [][]any) string {
	testInstance.Helper()

	file := excelize.NewFile()
	defer file.Close()
	require.NoError(testInstance, file.SetSheetName("Sheet1", sheetName))
	for rowIndex, cells := range rows {
		if len(cells) == 0 {
			continue
		}
		cellName, coordinateError := excelize.CoordinatesToCellName(1, rowIndex+1)
		require.NoError(testInstance, coordinateError)
		rowCells := cells
		require.NoError(testInstance, file.SetSheetRow(sheetName, cellName, &rowCells))
	}

	workbookPath := filepath.Join(testInstance.TempDir(), workbookFileNameConstant)
	require.NoError(testInstance, file.SaveAs(workbookPath))
	return workbookPath
}
