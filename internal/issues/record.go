package issues

import (
	"fmt"
	"slices"
	"strings"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
)

const (
	rowKeyTemplateConstant             = "row %d"
	fieldTypeSingleSelectValueConstant = "single_select"
	fieldTypeIterationValueConstant    = "iteration"
	fieldTypeDateValueConstant         = "date"
	fieldTypeTextValueConstant         = "text"
	fieldTypeNumberValueConstant       = "number"
)

// FieldType selects the value shape of a project field update.
type FieldType string

// Project field types.
const (
	FieldTypeSingleSelect FieldType = fieldTypeSingleSelectValueConstant
	FieldTypeIteration    FieldType = fieldTypeIterationValueConstant
	FieldTypeDate         FieldType = fieldTypeDateValueConstant
	FieldTypeText         FieldType = fieldTypeTextValueConstant
	FieldTypeNumber       FieldType = fieldTypeNumberValueConstant
)

var fieldTypeAliases = map[string]FieldType{
	"singleselect":            FieldTypeSingleSelect,
	"projectv2singleselect":   FieldTypeSingleSelect,
	"iteration":               FieldTypeIteration,
	"projectv2iterationfield": FieldTypeIteration,
	"date":                    FieldTypeDate,
	"text":                    FieldTypeText,
	"number":                  FieldTypeNumber,
}

// ParseFieldType accepts the spellings used by the API and by hand-edited sheets
// ("SINGLE_SELECT", "singleSelect", "single select").
func ParseFieldType(raw string) (FieldType, bool) {
	compact := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.TrimSpace(raw)))
	fieldType, known := fieldTypeAliases[compact]
	return fieldType, known
}

// ProjectField describes a field of the target project.
type ProjectField struct {
	Name string
	ID   fieldmap.RemoteIdentifier
	Type FieldType
}

// Comment is one original comment to replay on the created issue.
type Comment struct {
	Author string
	Body   string
}

// IssueRecord is the intent to create one issue. All references are already
// resolved to remote identifiers.
type IssueRecord struct {
	RowNumber    int
	SourceKey    string
	Title        string
	Body         string
	RepositoryID fieldmap.RemoteIdentifier
	ProjectID    fieldmap.RemoteIdentifier
	MilestoneID  fieldmap.RemoteIdentifier
	IssueTypeID  fieldmap.RemoteIdentifier
	AssigneeIDs  []fieldmap.RemoteIdentifier
	LabelIDs     []fieldmap.RemoteIdentifier
	// Fields maps a project field name to its resolved value.
	Fields   map[string]fieldmap.FieldValue
	Comments []Comment

	// Set by a previous run or by CreateComplete.
	RemoteID      fieldmap.RemoteIdentifier
	ProjectItemID fieldmap.RemoteIdentifier
	Number        int
	URL           string
	// RetryStages limits the secondary stages of a created issue to the named ones.
	// Empty runs every stage.
	RetryStages []string
}

// Key identifies the record in results.
func (record *IssueRecord) Key() string {
	if len(strings.TrimSpace(record.SourceKey)) > 0 {
		return record.SourceKey
	}
	return fmt.Sprintf(rowKeyTemplateConstant, record.RowNumber)
}

func (record *IssueRecord) runsStage(stage string) bool {
	return len(record.RetryStages) == 0 || slices.Contains(record.RetryStages, stage)
}

// FailedStages names the stages of result that failed, in reporting order.
func FailedStages(result batch.OperationResult) []string {
	stages := make([]string, 0, len(result.SubErrors))
	for _, subError := range result.SubErrors {
		stages = append(stages, subError.Stage)
	}
	return stages
}
