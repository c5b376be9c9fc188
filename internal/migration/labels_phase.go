package migration

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
	"github.com/temirov/ghmigrate/internal/labels"
	"github.com/temirov/ghmigrate/internal/tabular"
)

const (
	labelDefinitionsLogMessageConstant = "Label definitions loaded"
	labelsSourceLogFieldConstant       = "source"
	labelsCountLogFieldConstant        = "labels"
	labelsSourceSheetConstant          = "sheet"
)

// Labels creates the labels absent from the target repository. Definitions come from
// the configured labels file, or from the Labels sheet of the input workbook. Target
// label identifiers are written back to the Labels sheet.
func (orchestrator *Orchestrator) Labels(executionContext context.Context, options PhaseOptions) (PhaseReport, error) {
	inputPath, outputPath := orchestrator.resolvePaths(PhaseLabels, options)
	orchestrator.logPhaseStart(PhaseLabels, inputPath)

	if executorError := orchestrator.requireExecutor(PhaseLabels, false); executorError != nil {
		return PhaseReport{}, executorError
	}
	synchronizer, synchronizerError := labels.NewSynchronizer(labels.SynchronizerConfiguration{
		Owner:       orchestrator.configuration.Project.TargetOwner,
		Repository:  orchestrator.configuration.Project.TargetRepository,
		Parallelism: orchestrator.configuration.Processing.Parallelism,
		DryRun:      orchestrator.configuration.Processing.DryRun,
		StopOn:      orchestrator.stopOn,
	}, labels.SynchronizerDependencies{Executor: orchestrator.executor, Logger: orchestrator.logger})
	if synchronizerError != nil {
		return PhaseReport{}, fatalPhaseError(PhaseLabels, synchronizerError)
	}

	workbook, loadError := orchestrator.loadWorkbook(PhaseLabels, inputPath)
	if loadError != nil {
		return PhaseReport{}, loadError
	}

	labelsTable, sheetExists := workbook.Table(tabular.TableLabels)
	var definitions []labels.Definition
	source := labelsSourceSheetConstant
	if labelsFile := orchestrator.configuration.LabelsFile; len(labelsFile) > 0 {
		fileDefinitions, definitionsError := labels.LoadDefinitions(labelsFile)
		if definitionsError != nil {
			return PhaseReport{}, fatalPhaseError(PhaseLabels, definitionsError)
		}
		definitions = fileDefinitions
		source = labelsFile
		labelsTable = tabular.NewTable(tabular.LabelsSchema())
		for _, definition := range definitions {
			labelsTable.AppendRow(labelRow(definition))
		}
		workbook.PutTable(labelsTable)
	} else if sheetExists {
		definitions = definitionsFromTable(labelsTable)
	}
	orchestrator.logger.Info(labelDefinitionsLogMessageConstant,
		zap.String(labelsSourceLogFieldConstant, source),
		zap.Int(labelsCountLogFieldConstant, len(definitions)),
	)

	accumulator := batch.NewAccumulator(string(PhaseLabels))
	resultsTable := tabular.NewTable(tabular.LabelResultsSchema())
	if len(definitions) > 0 {
		synchronized, results, executeSummary := synchronizer.Execute(executionContext, definitions)
		for definitionIndex, result := range results {
			accumulator.Record(definitionIndex, result)
			targetID := synchronized[definitionIndex].TargetID
			if !targetID.IsZero() && !orchestrator.configuration.Processing.DryRun {
				labelsTable.Set(definitionIndex, tabular.ColumnTargetLabelID, targetID.String())
			}
			resultsTable.AppendRow(map[string]string{
				tabular.ColumnLabelName:     synchronized[definitionIndex].Name,
				tabular.ColumnStatus:        string(result.Status),
				tabular.ColumnTargetLabelID: targetID.String(),
				tabular.ColumnErrorKind:     string(result.ErrorKind),
				tabular.ColumnErrors:        result.Message,
			})
		}
		if executeSummary.Status == batch.RunStatusAborted {
			accumulator.MarkAborted()
		}
	}
	if labelsTable != nil {
		recordRowErrors(accumulator, labelsTable)
	}
	workbook.PutTable(resultsTable)

	summary := orchestrator.finalizeSummary(PhaseLabels, accumulator.Summary())
	if saveError := saveWorkbook(PhaseLabels, workbook, outputPath, summary); saveError != nil {
		return PhaseReport{}, saveError
	}
	return orchestrator.completePhase(PhaseLabels, summary, outputPath)
}

func definitionsFromTable(table *tabular.Table) []labels.Definition {
	definitions := make([]labels.Definition, 0, len(table.Rows))
	for _, row := range table.Rows {
		definitions = append(definitions, labels.Definition{
			Name:        strings.TrimSpace(row.Get(tabular.ColumnLabelName)),
			Color:       row.Get(tabular.ColumnLabelColor),
			Description: row.Get(tabular.ColumnLabelDescription),
			SourceID:    fieldmap.RemoteIdentifier(strings.TrimSpace(row.Get(tabular.ColumnSourceLabelID))),
			TargetID:    fieldmap.RemoteIdentifier(strings.TrimSpace(row.Get(tabular.ColumnTargetLabelID))),
		})
	}
	return definitions
}

func labelRow(definition labels.Definition) map[string]string {
	return map[string]string{
		tabular.ColumnLabelName:        definition.Name,
		tabular.ColumnLabelColor:       definition.Color,
		tabular.ColumnLabelDescription: definition.Description,
		tabular.ColumnSourceLabelID:    definition.SourceID.String(),
		tabular.ColumnTargetLabelID:    definition.TargetID.String(),
	}
}
