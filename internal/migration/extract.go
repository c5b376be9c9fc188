package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/githubapi"
	"github.com/temirov/ghmigrate/internal/issues"
	"github.com/temirov/ghmigrate/internal/tabular"
)

const (
	projectItemsOperationName      = "sourceProjectItems"
	projectFieldsOperationName     = "projectFields"
	repositoryLabelsOperationName  = "sourceRepositoryLabels"
	projectItemsConnectionPath     = "node.items"
	projectFieldsConnectionPath    = "node.fields"
	repositoryLabelsConnectionPath = "repository.labels"
	projectIDVariableConstant      = "projectId"
	ownerVariableConstant          = "owner"
	nameVariableConstant           = "name"
	issueTypeNameConstant          = "Issue"
	titleFieldNameConstant         = "title"
	optionPairSeparatorConstant    = "="
	sourceProjectFieldNameConstant = "project.source_project_id"
	requiredValueMessageConstant   = "required value missing"
	itemSkippedLogMessageConstant  = "Skipping project item without issue content"
	extractLimitLogMessageConstant = "Extract limit reached"
	itemLogFieldConstant           = "item"
	limitLogFieldConstant          = "limit"
	subIssuesFeatureConstant       = "sub_issues"
	nodeIDVariableConstant         = "id"
	connectionStagePrefixConstant  = "extract:"
	connectionNodesPathConstant    = "nodes"
	connectionHasNextPathConstant  = "pageInfo.hasNextPage"
	connectionCursorPathConstant   = "pageInfo.endCursor"
	connectionLogMessageConstant   = "Nested connection incomplete"
	connectionLogFieldConstant     = "connection"
	projectItemsQuery              = `query($projectId: ID!, $first: Int!, $after: String) {
  node(id: $projectId) {
    ... on ProjectV2 {
      items(first: $first, after: $after) {
        nodes {
          id
          fieldValues(first: 50) {
            nodes {
              __typename
              ... on ProjectV2ItemFieldSingleSelectValue { name field { ... on ProjectV2FieldCommon { name } } }
              ... on ProjectV2ItemFieldIterationValue { title field { ... on ProjectV2FieldCommon { name } } }
              ... on ProjectV2ItemFieldDateValue { date field { ... on ProjectV2FieldCommon { name } } }
              ... on ProjectV2ItemFieldTextValue { text field { ... on ProjectV2FieldCommon { name } } }
              ... on ProjectV2ItemFieldNumberValue { number field { ... on ProjectV2FieldCommon { name } } }
            }
            pageInfo { hasNextPage endCursor }
          }
          content {
            __typename
            ... on Issue {
              id
              number
              title
              url
              body
              repository { id nameWithOwner }
              issueType { id name }
              milestone { id title }
              parent { id }
              blockedBy(first: 50) { nodes { id } pageInfo { hasNextPage endCursor } }
              assignees(first: 100) { nodes { id login name } pageInfo { hasNextPage endCursor } }
              labels(first: 100) { nodes { id name } pageInfo { hasNextPage endCursor } }
              comments(first: 100) { nodes { body author { login } } pageInfo { hasNextPage endCursor } }
            }
          }
        }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`
	projectFieldsQuery = `query($projectId: ID!, $first: Int!, $after: String) {
  node(id: $projectId) {
    ... on ProjectV2 {
      fields(first: $first, after: $after) {
        nodes {
          ... on ProjectV2FieldCommon { id name dataType }
          ... on ProjectV2SingleSelectField { options { id name } }
          ... on ProjectV2IterationField {
            configuration {
              iterations { id title }
              completedIterations { id title }
            }
          }
        }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`
	itemFieldValuesQuery = `query($id: ID!, $first: Int!, $after: String) {
  node(id: $id) {
    ... on ProjectV2Item {
      fieldValues(first: $first, after: $after) {
        nodes {
          __typename
          ... on ProjectV2ItemFieldSingleSelectValue { name field { ... on ProjectV2FieldCommon { name } } }
          ... on ProjectV2ItemFieldIterationValue { title field { ... on ProjectV2FieldCommon { name } } }
          ... on ProjectV2ItemFieldDateValue { date field { ... on ProjectV2FieldCommon { name } } }
          ... on ProjectV2ItemFieldTextValue { text field { ... on ProjectV2FieldCommon { name } } }
          ... on ProjectV2ItemFieldNumberValue { number field { ... on ProjectV2FieldCommon { name } } }
        }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`
	issueConnectionQueryTemplate = `query($id: ID!, $first: Int!, $after: String) {
  node(id: $id) {
    ... on Issue {
      %s(first: $first, after: $after) {
        nodes { %s }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`
	repositoryLabelsQuery = `query($owner: String!, $name: String!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    labels(first: $first, after: $after) {
      nodes { id name color description }
      pageInfo { hasNextPage endCursor }
    }
  }
}`
)

// fieldValuePaths lists where each project field value type keeps its value.
var fieldValuePaths = []string{"name", "title", "date", "text", "number"}

// nestedConnection is a connection inside a project item whose first page is fetched
// with the item. Later pages are fetched through query on the owning node.
type nestedConnection struct {
	path      string
	ownerPath string
	name      string
	query     string
	features  []string
}

var nestedConnections = []nestedConnection{
	{path: "fieldValues", ownerPath: "id", name: "itemFieldValues", query: itemFieldValuesQuery},
	{path: "content.blockedBy", ownerPath: "content.id", name: "issueBlockedBy", query: issueConnectionQuery("blockedBy", "id"), features: []string{subIssuesFeatureConstant}},
	{path: "content.assignees", ownerPath: "content.id", name: "issueAssignees", query: issueConnectionQuery("assignees", "id login name")},
	{path: "content.labels", ownerPath: "content.id", name: "issueLabels", query: issueConnectionQuery("labels", "id name")},
	{path: "content.comments", ownerPath: "content.id", name: "issueComments", query: issueConnectionQuery("comments", "body author { login }")},
}

func issueConnectionQuery(connection string, selection string) string {
	return fmt.Sprintf(issueConnectionQueryTemplate, connection, selection)
}

// connectionField names the connection inside its owning node.
func (connection nestedConnection) connectionField() string {
	return connection.path[strings.LastIndex(connection.path, ".")+1:]
}

// itemNodes holds every node of the nested connections of one project item, keyed by
// connection path.
type itemNodes map[string][]gjson.Result

func (nodes itemNodes) of(path string) []gjson.Result {
	return nodes[path]
}

// Extract reads the source project into a workbook with Issues, Relationships,
// Labels and Fields sheets.
func (orchestrator *Orchestrator) Extract(executionContext context.Context, options PhaseOptions) (PhaseReport, error) {
	_, outputPath := orchestrator.resolvePaths(PhaseExtract, options)
	orchestrator.logPhaseStart(PhaseExtract, orchestrator.configuration.Project.SourceProjectID)

	if executorError := orchestrator.requireExecutor(PhaseExtract, false); executorError != nil {
		return PhaseReport{}, executorError
	}
	if len(orchestrator.configuration.Project.SourceProjectID) == 0 {
		return PhaseReport{}, fatalPhaseError(PhaseExtract, githubapi.InvalidInputError{FieldName: sourceProjectFieldNameConstant, Message: requiredValueMessageConstant})
	}

	workbook := tabular.NewWorkbook()
	issuesTable := tabular.NewTable(tabular.IssuesSchema())
	relationshipsTable := tabular.NewTable(tabular.RelationshipsSchema())
	workbook.PutTable(issuesTable)
	workbook.PutTable(relationshipsTable)

	accumulator := batch.NewAccumulator(string(PhaseExtract))
	if extractError := orchestrator.extractItems(executionContext, issuesTable, relationshipsTable, accumulator); extractError != nil {
		return PhaseReport{}, fatalPhaseError(PhaseExtract, extractError)
	}

	if labelsTable, labelsError := orchestrator.extractLabels(executionContext); labelsError != nil {
		return PhaseReport{}, fatalPhaseError(PhaseExtract, labelsError)
	} else if labelsTable != nil {
		workbook.PutTable(labelsTable)
	}

	fieldsTable, fieldsError := orchestrator.extractFields(executionContext)
	if fieldsError != nil {
		return PhaseReport{}, fatalPhaseError(PhaseExtract, fieldsError)
	}
	workbook.PutTable(fieldsTable)

	summary := orchestrator.finalizeSummary(PhaseExtract, accumulator.Summary())
	if saveError := saveWorkbook(PhaseExtract, workbook, outputPath, summary); saveError != nil {
		return PhaseReport{}, saveError
	}
	return orchestrator.completePhase(PhaseExtract, summary, outputPath)
}

func (orchestrator *Orchestrator) extractItems(executionContext context.Context, issuesTable *tabular.Table, relationshipsTable *tabular.Table, accumulator *batch.Accumulator) error {
	paginator := githubapi.NewPaginator(orchestrator.executor, githubapi.PageQuery{
		Name:           projectItemsOperationName,
		Query:          projectItemsQuery,
		Variables:      map[string]any{projectIDVariableConstant: orchestrator.configuration.Project.SourceProjectID},
		ConnectionPath: projectItemsConnectionPath,
		Features:       []string{subIssuesFeatureConstant},
	})

	limit := orchestrator.configuration.Processing.ExtractLimit
	separator := orchestrator.configuration.Processing.Separator
	extracted := 0
	for page, pageError := range paginator.Pages(executionContext) {
		if pageError != nil {
			return pageError
		}
		for _, item := range page.Items {
			if limit > 0 && extracted >= limit {
				orchestrator.logger.Info(extractLimitLogMessageConstant, zap.Int(limitLogFieldConstant, limit))
				return nil
			}
			itemID := gjson.GetBytes(item, "id").String()
			content := gjson.GetBytes(item, "content")
			if content.Get("__typename").String() != issueTypeNameConstant {
				orchestrator.logger.Debug(itemSkippedLogMessageConstant, zap.String(itemLogFieldConstant, itemID))
				accumulator.Append(batch.NoOp(itemID, ""))
				continue
			}

			nodes, connectionErrors := orchestrator.collectItemNodes(executionContext, gjson.ParseBytes(item))
			issueRow := issueRowFromContent(content, nodes, separator)
			for fieldName, value := range projectFieldValues(nodes) {
				issueRow[fieldName] = value
			}
			issuesTable.AppendRow(issueRow)
			if relationshipRow, hasRelationships := relationshipRowFromContent(content, nodes, separator); hasRelationships {
				relationshipsTable.AppendRow(relationshipRow)
			}

			extracted++
			issueID := content.Get("id").String()
			accumulator.Append(batch.Completed(issueID, fieldmap.RemoteIdentifier(issueID), connectionErrors))
		}
	}
	return nil
}

// collectItemNodes gathers every node of the nested connections of item. A connection
// that cannot be completed keeps the nodes already fetched and is reported as a stage
// error so the row is flagged as incomplete.
func (orchestrator *Orchestrator) collectItemNodes(executionContext context.Context, item gjson.Result) (itemNodes, []batch.StageError) {
	nodes := make(itemNodes, len(nestedConnections))
	var connectionErrors []batch.StageError
	for _, connection := range nestedConnections {
		connectionResult := item.Get(connection.path)
		nodes[connection.path] = connectionResult.Get(connectionNodesPathConstant).Array()
		if !connectionResult.Get(connectionHasNextPathConstant).Bool() {
			continue
		}

		paginator := githubapi.NewPaginator(orchestrator.executor, githubapi.PageQuery{
			Name:           connection.name,
			Query:          connection.query,
			Variables:      map[string]any{nodeIDVariableConstant: item.Get(connection.ownerPath).String()},
			ConnectionPath: "node." + connection.connectionField(),
			Features:       connection.features,
		})
		paginator.ResumeFrom(connectionResult.Get(connectionCursorPathConstant).String())
		remaining, collectError := paginator.Collect(executionContext, 0)
		for _, rawNode := range remaining {
			nodes[connection.path] = append(nodes[connection.path], gjson.ParseBytes(rawNode))
		}
		if collectError != nil {
			orchestrator.logger.Warn(connectionLogMessageConstant, zap.String(connectionLogFieldConstant, connection.path), zap.Error(collectError))
			connectionErrors = append(connectionErrors, batch.NewStageError(connectionStagePrefixConstant+connection.connectionField(), collectError))
		}
	}
	return nodes, connectionErrors
}

func issueRowFromContent(content gjson.Result, nodes itemNodes, separator string) map[string]string {
	var assignees []string
	for _, assignee := range nodes.of("content.assignees") {
		assignees = append(assignees, assignee.Get("login").String())
	}
	var labelNames []string
	for _, label := range nodes.of("content.labels") {
		labelNames = append(labelNames, label.Get("name").String())
	}
	var comments []string
	var commentAuthors []string
	for _, comment := range nodes.of("content.comments") {
		comments = append(comments, comment.Get("body").String())
		commentAuthors = append(commentAuthors, comment.Get("author.login").String())
	}

	return map[string]string{
		tabular.ColumnSourceIssueID:     content.Get("id").String(),
		tabular.ColumnSourceIssueNumber: content.Get("number").String(),
		tabular.ColumnSourceIssueURL:    content.Get("url").String(),
		tabular.ColumnIssueTitle:        content.Get("title").String(),
		tabular.ColumnIssueBody:         content.Get("body").String(),
		tabular.ColumnMilestone:         content.Get("milestone.title").String(),
		tabular.ColumnIssueType:         content.Get("issueType.name").String(),
		tabular.ColumnAssignees:         strings.Join(assignees, separator),
		tabular.ColumnLabels:            strings.Join(labelNames, separator),
		tabular.ColumnComments:          fieldmap.JoinEscaped(comments, separator),
		tabular.ColumnCommentAuthors:    fieldmap.JoinEscaped(commentAuthors, separator),
		tabular.ColumnRepositoryID:      content.Get("repository.id").String(),
	}
}

func relationshipRowFromContent(content gjson.Result, nodes itemNodes, separator string) (map[string]string, bool) {
	parentID := content.Get("parent.id").String()
	var blockedBy []string
	for _, blocker := range nodes.of("content.blockedBy") {
		blockedBy = append(blockedBy, blocker.Get("id").String())
	}
	if len(parentID) == 0 && len(blockedBy) == 0 {
		return nil, false
	}
	return map[string]string{
		tabular.ColumnSourceIssue: content.Get("id").String(),
		tabular.ColumnParentIssue: parentID,
		tabular.ColumnBlockedBy:   strings.Join(blockedBy, separator),
	}, true
}

// projectFieldValues maps each project field name of an item to its display value.
// The title field duplicates the issue title and is left out.
func projectFieldValues(nodes itemNodes) map[string]string {
	values := make(map[string]string)
	for _, fieldValue := range nodes.of("fieldValues") {
		fieldName := strings.TrimSpace(fieldValue.Get("field.name").String())
		if len(fieldName) == 0 || fieldmap.NormalizeKey(fieldName) == titleFieldNameConstant {
			continue
		}
		for _, path := range fieldValuePaths {
			if value := fieldValue.Get(path); value.Exists() {
				values[fieldName] = value.String()
				break
			}
		}
	}
	return values
}

// extractLabels lists the source repository labels; nil when no source repository is configured.
func (orchestrator *Orchestrator) extractLabels(executionContext context.Context) (*tabular.Table, error) {
	project := orchestrator.configuration.Project
	if len(project.SourceOwner) == 0 || len(project.SourceRepository) == 0 {
		return nil, nil
	}

	paginator := githubapi.NewPaginator(orchestrator.executor, githubapi.PageQuery{
		Name:  repositoryLabelsOperationName,
		Query: repositoryLabelsQuery,
		Variables: map[string]any{
			ownerVariableConstant: project.SourceOwner,
			nameVariableConstant:  project.SourceRepository,
		},
		ConnectionPath: repositoryLabelsConnectionPath,
	})

	labelsTable := tabular.NewTable(tabular.LabelsSchema())
	for page, pageError := range paginator.Pages(executionContext) {
		if pageError != nil {
			return nil, pageError
		}
		for _, label := range page.Items {
			labelsTable.AppendRow(map[string]string{
				tabular.ColumnLabelName:        gjson.GetBytes(label, "name").String(),
				tabular.ColumnLabelColor:       gjson.GetBytes(label, "color").String(),
				tabular.ColumnLabelDescription: gjson.GetBytes(label, "description").String(),
				tabular.ColumnSourceLabelID:    gjson.GetBytes(label, "id").String(),
			})
		}
	}
	return labelsTable, nil
}

// extractFields lists the fields of the target project, or of the source project when no
// target is configured. Options are written as name=id pairs so the map phase can use them.
func (orchestrator *Orchestrator) extractFields(executionContext context.Context) (*tabular.Table, error) {
	projectID := orchestrator.configuration.Project.TargetProjectID
	if len(projectID) == 0 {
		projectID = orchestrator.configuration.Project.SourceProjectID
	}

	paginator := githubapi.NewPaginator(orchestrator.executor, githubapi.PageQuery{
		Name:           projectFieldsOperationName,
		Query:          projectFieldsQuery,
		Variables:      map[string]any{projectIDVariableConstant: projectID},
		ConnectionPath: projectFieldsConnectionPath,
	})

	separator := orchestrator.configuration.Processing.Separator
	fieldsTable := tabular.NewTable(tabular.FieldsSchema())
	for page, pageError := range paginator.Pages(executionContext) {
		if pageError != nil {
			return nil, pageError
		}
		for _, field := range page.Items {
			fieldType, known := issues.ParseFieldType(gjson.GetBytes(field, "dataType").String())
			if !known {
				continue
			}

			var options []string
			for _, option := range gjson.GetBytes(field, "options").Array() {
				options = append(options, option.Get("name").String()+optionPairSeparatorConstant+option.Get("id").String())
			}
			for _, iterationsPath := range []string{"configuration.iterations", "configuration.completedIterations"} {
				for _, iteration := range gjson.GetBytes(field, iterationsPath).Array() {
					options = append(options, iteration.Get("title").String()+optionPairSeparatorConstant+iteration.Get("id").String())
				}
			}

			fieldsTable.AppendRow(map[string]string{
				tabular.ColumnFieldName:    gjson.GetBytes(field, "name").String(),
				tabular.ColumnFieldID:      gjson.GetBytes(field, "id").String(),
				tabular.ColumnFieldType:    string(fieldType),
				tabular.ColumnFieldOptions: strings.Join(options, separator),
			})
		}
	}
	return fieldsTable, nil
}

// parseFieldOptions reads name=id pairs written by extractFields.
func parseFieldOptions(raw string, separator string) map[string]string {
	options := make(map[string]string)
	for _, pair := range fieldmap.SplitValues(raw, separator) {
		separatorIndex := strings.LastIndex(pair, optionPairSeparatorConstant)
		if separatorIndex <= 0 {
			continue
		}
		name := strings.TrimSpace(pair[:separatorIndex])
		identifier := strings.TrimSpace(pair[separatorIndex+1:])
		if len(name) == 0 || len(identifier) == 0 {
			continue
		}
		options[name] = identifier
	}
	return options
}
