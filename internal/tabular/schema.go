package tabular

// Table names used by the migration phases.
const (
	TableIssues              = "Issues"
	TableFields              = "Fields"
	TableRelationships       = "Relationships"
	TableLabels              = "Labels"
	TableResults             = "Results"
	TableRelationshipResults = "RelationshipResults"
	TableLabelResults        = "LabelResults"
	TableMappingErrors       = "MappingErrors"
	TableSummary             = "Summary"
)

// Issue table columns.
const (
	ColumnSourceIssueID     = "sourceIssueId"
	ColumnSourceIssueNumber = "sourceIssueNumber"
	ColumnSourceIssueURL    = "sourceIssueUrl"
	ColumnIssueTitle        = "issueTitle"
	ColumnIssueBody         = "issueBody"
	ColumnMilestone         = "milestone"
	ColumnIssueType         = "issueType"
	ColumnAssignees         = "assignees"
	ColumnLabels            = "labels"
	ColumnComments          = "comments"
	ColumnCommentAuthors    = "commentAuthors"
	ColumnRepositoryID      = "repositoryId"
	ColumnProjectID         = "projectId"
	ColumnTargetIssueID     = "targetIssueId"
	ColumnProjectItemID     = "projectItemId"
	ColumnFailedStages      = "failedStages"
)

// Field definition columns.
const (
	ColumnFieldName    = "fieldName"
	ColumnFieldID      = "fieldId"
	ColumnFieldType    = "fieldType"
	ColumnFieldOptions = "options"
)

// Relationship columns.
const (
	ColumnSourceIssue = "sourceIssue"
	ColumnParentIssue = "parentIssue"
	ColumnSubIssues   = "subIssues"
	ColumnBlockedBy   = "blockedBy"
	ColumnBlocking    = "blocking"
)

// Label columns.
const (
	ColumnLabelName        = "name"
	ColumnLabelColor       = "color"
	ColumnLabelDescription = "description"
	ColumnSourceLabelID    = "sourceLabelId"
	ColumnTargetLabelID    = "targetLabelId"
)

// Result columns shared by the result tables.
const (
	ColumnRowNumber   = "rowNumber"
	ColumnStatus      = "status"
	ColumnIssueNumber = "issueNumber"
	ColumnIssueURL    = "issueUrl"
	ColumnFailedStage = "failedStage"
	ColumnErrorKind   = "errorKind"
	ColumnErrors      = "errors"
	ColumnTargetIssue = "targetIssue"
	ColumnSourceNode  = "sourceNodeId"
	ColumnTargetNode  = "targetNodeId"
	ColumnKind        = "kind"
	ColumnColumnName  = "column"
	ColumnRawValue    = "value"
	ColumnPhase       = "phase"
	ColumnRunID       = "runId"
	ColumnAttempted   = "attempted"
	ColumnSucceeded   = "succeeded"
	ColumnPartial     = "succeededWithErrors"
	ColumnNoOp        = "noOp"
	ColumnFailed      = "failed"
	ColumnStartedAt   = "startedAt"
	ColumnFinishedAt  = "finishedAt"
)

// ColumnSpec describes one column of a schema.
type ColumnSpec struct {
	Name     string
	Required bool
}

// Schema names a table and its known columns in output order.
type Schema struct {
	Name    string
	Columns []ColumnSpec
}

// ColumnNames lists the schema columns in order.
func (schema Schema) ColumnNames() []string {
	names := make([]string, 0, len(schema.Columns))
	for _, column := range schema.Columns {
		names = append(names, column.Name)
	}
	return names
}

// WithColumns returns a copy of the schema extended with additional columns.
// Columns already present are not duplicated.
func (schema Schema) WithColumns(additionalColumns ...ColumnSpec) Schema {
	extended := Schema{Name: schema.Name, Columns: append([]ColumnSpec{}, schema.Columns...)}
	known := make(map[string]struct{}, len(extended.Columns))
	for _, column := range extended.Columns {
		known[normalizeColumnName(column.Name)] = struct{}{}
	}
	for _, column := range additionalColumns {
		normalizedName := normalizeColumnName(column.Name)
		if _, exists := known[normalizedName]; exists {
			continue
		}
		known[normalizedName] = struct{}{}
		extended.Columns = append(extended.Columns, column)
	}
	return extended
}

func optionalColumns(names ...string) []ColumnSpec {
	columns := make([]ColumnSpec, 0, len(names))
	for _, name := range names {
		columns = append(columns, ColumnSpec{Name: name})
	}
	return columns
}

func requiredColumn(name string) ColumnSpec {
	return ColumnSpec{Name: name, Required: true}
}

// IssuesSchema describes extracted and mapped issue rows. Project field columns are appended
// by the caller with WithColumns.
func IssuesSchema() Schema {
	columns := []ColumnSpec{optionalColumn(ColumnSourceIssueID), optionalColumn(ColumnSourceIssueNumber), optionalColumn(ColumnSourceIssueURL), requiredColumn(ColumnIssueTitle)}
	columns = append(columns, optionalColumns(
		ColumnIssueBody,
		ColumnMilestone,
		ColumnIssueType,
		ColumnAssignees,
		ColumnLabels,
		ColumnComments,
		ColumnCommentAuthors,
		ColumnRepositoryID,
		ColumnProjectID,
		ColumnTargetIssueID,
		ColumnProjectItemID,
		ColumnFailedStages,
	)...)
	return Schema{Name: TableIssues, Columns: columns}
}

// FieldsSchema describes project field definitions.
func FieldsSchema() Schema {
	return Schema{Name: TableFields, Columns: []ColumnSpec{
		requiredColumn(ColumnFieldName),
		requiredColumn(ColumnFieldID),
		requiredColumn(ColumnFieldType),
		optionalColumn(ColumnFieldOptions),
	}}
}

// RelationshipsSchema describes relationship rows keyed by the source issue.
func RelationshipsSchema() Schema {
	return Schema{Name: TableRelationships, Columns: append(
		[]ColumnSpec{requiredColumn(ColumnSourceIssue)},
		optionalColumns(ColumnParentIssue, ColumnSubIssues, ColumnBlockedBy, ColumnBlocking)...,
	)}
}

// LabelsSchema describes label definitions.
func LabelsSchema() Schema {
	return Schema{Name: TableLabels, Columns: append(
		[]ColumnSpec{requiredColumn(ColumnLabelName)},
		optionalColumns(ColumnLabelColor, ColumnLabelDescription, ColumnSourceLabelID, ColumnTargetLabelID)...,
	)}
}

// ResultsSchema describes per-issue migration results.
func ResultsSchema() Schema {
	return Schema{Name: TableResults, Columns: optionalColumns(
		ColumnRowNumber,
		ColumnSourceIssueID,
		ColumnIssueTitle,
		ColumnStatus,
		ColumnTargetIssueID,
		ColumnIssueNumber,
		ColumnIssueURL,
		ColumnProjectItemID,
		ColumnFailedStage,
		ColumnErrorKind,
		ColumnErrors,
	)}
}

// RelationshipResultsSchema describes per-edge results.
func RelationshipResultsSchema() Schema {
	return Schema{Name: TableRelationshipResults, Columns: optionalColumns(
		ColumnSourceIssue,
		ColumnTargetIssue,
		ColumnKind,
		ColumnSourceNode,
		ColumnTargetNode,
		ColumnStatus,
		ColumnErrorKind,
		ColumnErrors,
	)}
}

// LabelResultsSchema describes per-label results.
func LabelResultsSchema() Schema {
	return Schema{Name: TableLabelResults, Columns: optionalColumns(
		ColumnLabelName,
		ColumnStatus,
		ColumnTargetLabelID,
		ColumnErrorKind,
		ColumnErrors,
	)}
}

// MappingErrorsSchema describes values the map phase could not resolve.
func MappingErrorsSchema() Schema {
	return Schema{Name: TableMappingErrors, Columns: optionalColumns(
		ColumnRowNumber,
		ColumnSourceIssueID,
		ColumnColumnName,
		ColumnRawValue,
		ColumnErrors,
	)}
}

// SummarySchema describes the per-phase summary sheet.
func SummarySchema() Schema {
	return Schema{Name: TableSummary, Columns: optionalColumns(
		ColumnPhase,
		ColumnRunID,
		ColumnStatus,
		ColumnAttempted,
		ColumnSucceeded,
		ColumnPartial,
		ColumnNoOp,
		ColumnFailed,
		ColumnStartedAt,
		ColumnFinishedAt,
	)}
}

// KnownSchemas lists every table schema the loader understands.
func KnownSchemas() []Schema {
	return []Schema{
		IssuesSchema(),
		FieldsSchema(),
		RelationshipsSchema(),
		LabelsSchema(),
		ResultsSchema(),
		RelationshipResultsSchema(),
		LabelResultsSchema(),
		MappingErrorsSchema(),
		SummarySchema(),
	}
}

func optionalColumn(name string) ColumnSpec {
	return ColumnSpec{Name: name}
}
