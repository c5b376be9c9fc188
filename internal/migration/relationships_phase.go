package migration

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/relationships"
	"github.com/temirov/ghmigrate/internal/tabular"
)

const (
	relationshipsMissingLogMessageConstant = "Workbook has no Relationships sheet"
	seededEdgesLogMessageConstant          = "Seeded relationships from earlier results"
	edgesLogFieldConstant                  = "edges"
)

// Relationships links migrated issues according to the Relationships sheet. References
// resolve through the identifiers the migrate phase recorded on the Issues and Results
// sheets. Edges reported as linked on an earlier RelationshipResults sheet are not
// written again.
func (orchestrator *Orchestrator) Relationships(executionContext context.Context, options PhaseOptions) (PhaseReport, error) {
	inputPath, outputPath := orchestrator.resolvePaths(PhaseRelationships, options)
	orchestrator.logPhaseStart(PhaseRelationships, inputPath)

	resolver, resolverError := orchestrator.relationshipResolver()
	if resolverError != nil {
		return PhaseReport{}, resolverError
	}
	workbook, loadError := orchestrator.loadWorkbook(PhaseRelationships, inputPath)
	if loadError != nil {
		return PhaseReport{}, loadError
	}
	issuesTable, tableError := requireTable(PhaseRelationships, workbook, inputPath, tabular.TableIssues)
	if tableError != nil {
		return PhaseReport{}, tableError
	}

	index := relationships.NewReferenceIndex()
	indexIssues(index, issuesTable)
	if resultsTable, exists := workbook.Table(tabular.TableResults); exists {
		indexIssues(index, resultsTable)
	}
	if previousResults, exists := workbook.Table(tabular.TableRelationshipResults); exists {
		seeded := seedAppliedEdges(resolver, previousResults)
		orchestrator.logger.Debug(seededEdgesLogMessageConstant, zap.Int(edgesLogFieldConstant, seeded))
	}

	var edges []relationships.Edge
	relationshipsTable, exists := workbook.Table(tabular.TableRelationships)
	if exists {
		edges = orchestrator.relationshipEdges(relationshipsTable)
	} else {
		orchestrator.logger.Info(relationshipsMissingLogMessageConstant)
	}

	edgeResults, executeSummary := resolver.Execute(executionContext, edges, index)
	accumulator := batch.NewAccumulator(string(PhaseRelationships))
	resultsTable := tabular.NewTable(tabular.RelationshipResultsSchema())
	for edgeIndex, edgeResult := range edgeResults {
		accumulator.Record(edgeIndex, edgeResult.Result)
		resultsTable.AppendRow(relationshipResultRow(edgeResult))
	}
	if executeSummary.Status == batch.RunStatusAborted {
		accumulator.MarkAborted()
	}
	if relationshipsTable != nil {
		recordRowErrors(accumulator, relationshipsTable)
	}
	workbook.PutTable(resultsTable)

	summary := orchestrator.finalizeSummary(PhaseRelationships, accumulator.Summary())
	if saveError := saveWorkbook(PhaseRelationships, workbook, outputPath, summary); saveError != nil {
		return PhaseReport{}, saveError
	}
	return orchestrator.completePhase(PhaseRelationships, summary, outputPath)
}

// relationshipResolver returns the resolver shared by every relationships run of the
// orchestrator, so edges linked by an earlier run stay known.
func (orchestrator *Orchestrator) relationshipResolver() (*relationships.Resolver, error) {
	if orchestrator.edgeResolver != nil {
		return orchestrator.edgeResolver, nil
	}
	if executorError := orchestrator.requireExecutor(PhaseRelationships, true); executorError != nil {
		return nil, executorError
	}
	resolverDependencies := relationships.ResolverDependencies{Logger: orchestrator.logger}
	if orchestrator.executor != nil {
		resolverDependencies.Executor = orchestrator.executor
	}
	resolver, resolverError := relationships.NewResolver(relationships.ResolverConfiguration{
		Parallelism: orchestrator.configuration.Processing.Parallelism,
		DryRun:      orchestrator.configuration.Processing.DryRun,
		StopOn:      orchestrator.stopOn,
	}, resolverDependencies)
	if resolverError != nil {
		return nil, fatalPhaseError(PhaseRelationships, resolverError)
	}
	orchestrator.edgeResolver = resolver
	return resolver, nil
}

// indexIssues registers every row of table that carries a target issue identifier.
func indexIssues(index *relationships.ReferenceIndex, table *tabular.Table) {
	for _, row := range table.Rows {
		targetID := fieldmap.RemoteIdentifier(strings.TrimSpace(row.Get(tabular.ColumnTargetIssueID)))
		if targetID.IsZero() {
			continue
		}
		keys := []string{
			row.Get(tabular.ColumnSourceIssueID),
			row.Get(tabular.ColumnSourceIssueURL),
			targetID.String(),
		}
		if number, numberError := strconv.Atoi(strings.TrimSpace(row.Get(tabular.ColumnSourceIssueNumber))); numberError == nil {
			keys = append(keys, relationships.NumberKey(number))
		}
		index.AddKeys(targetID, keys...)
		index.AddTitle(targetID, row.Get(tabular.ColumnIssueTitle))
	}
}

func seedAppliedEdges(resolver *relationships.Resolver, previousResults *tabular.Table) int {
	seeded := 0
	for _, row := range previousResults.Rows {
		status := batch.Status(strings.TrimSpace(row.Get(tabular.ColumnStatus)))
		if status != batch.StatusSucceeded && status != batch.StatusNoOp {
			continue
		}
		kind, kindError := relationships.ParseKind(row.Get(tabular.ColumnKind))
		if kindError != nil {
			continue
		}
		edge := relationships.ResolvedEdge{
			Source: fieldmap.RemoteIdentifier(strings.TrimSpace(row.Get(tabular.ColumnSourceNode))),
			Target: fieldmap.RemoteIdentifier(strings.TrimSpace(row.Get(tabular.ColumnTargetNode))),
			Kind:   kind,
		}
		if edge.Source.IsZero() || edge.Target.IsZero() {
			continue
		}
		resolver.Seed(edge)
		seeded++
	}
	return seeded
}

func (orchestrator *Orchestrator) relationshipEdges(table *tabular.Table) []relationships.Edge {
	separator := orchestrator.configuration.Processing.Separator
	var edges []relationships.Edge
	for _, row := range table.Rows {
		references := relationships.RowReferences{
			Source:    strings.TrimSpace(row.Get(tabular.ColumnSourceIssue)),
			Parent:    row.Get(tabular.ColumnParentIssue),
			SubIssues: fieldmap.SplitValues(row.Get(tabular.ColumnSubIssues), separator),
			BlockedBy: fieldmap.SplitValues(row.Get(tabular.ColumnBlockedBy), separator),
			Blocking:  fieldmap.SplitValues(row.Get(tabular.ColumnBlocking), separator),
		}
		edges = append(edges, references.Edges()...)
	}
	return edges
}

func relationshipResultRow(edgeResult relationships.EdgeResult) map[string]string {
	return map[string]string{
		tabular.ColumnSourceIssue: edgeResult.Edge.Source,
		tabular.ColumnTargetIssue: edgeResult.Edge.Target,
		tabular.ColumnKind:        string(edgeResult.Edge.Kind),
		tabular.ColumnSourceNode:  edgeResult.Resolved.Source.String(),
		tabular.ColumnTargetNode:  edgeResult.Resolved.Target.String(),
		tabular.ColumnStatus:      string(edgeResult.Result.Status),
		tabular.ColumnErrorKind:   string(edgeResult.Result.ErrorKind),
		tabular.ColumnErrors:      edgeResult.Result.Message,
	}
}
