package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/pkg/logger"
)

var (
	historyFile    string
	trainOutput    string
	testSetFile    string
	evaluateOutput string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the match model from labeled reconciliation history",
	Long: `Train fits the match model on labeled payment/transaction pairs and
records every confirmed match in the counterparty history. The model and
history are saved to the configured storage.

Training is skipped when fewer pairs than training.min_examples are given.

The history file has payment_* and bank_* columns and an is_match label:
  payment_id,payment_amount,payment_date,bank_id,bank_amount,bank_date,is_match

Examples:
  reconciler train --history-file history.csv
  reconciler train --history-file history.csv --storage-driver sqlite --storage-path state.db`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFileExists(historyFile, "history file"); err != nil {
			return err
		}
		return validateOutputFile(trainOutput)
	},
	RunE: runTrain,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Measure the installed model against labeled pairs",
	Long: `Evaluate scores every labeled pair with the installed model and reports
the confusion matrix, accuracy, precision, recall and F1 at the configured
evaluation threshold.

Examples:
  reconciler evaluate --test-file holdout.csv
  reconciler evaluate --test-file holdout.csv -f json`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFileExists(testSetFile, "test file"); err != nil {
			return err
		}
		return validateOutputFile(evaluateOutput)
	},
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evaluateCmd)

	trainCmd.Flags().StringVar(&historyFile, "history-file", "", "path to the labeled history CSV file (required)")
	trainCmd.Flags().Int("min-examples", 100, "minimum labeled pairs required to train")
	trainCmd.Flags().StringP("output-format", "f", "console", "output format: console, json, yaml, csv")
	trainCmd.Flags().StringVarP(&trainOutput, "output-file", "o", "", "output file path (default: stdout)")
	trainCmd.MarkFlagRequired("history-file")

	evaluateCmd.Flags().StringVar(&testSetFile, "test-file", "", "path to the labeled test CSV file (required)")
	evaluateCmd.Flags().StringP("output-format", "f", "console", "output format: console, json, yaml, csv")
	evaluateCmd.Flags().StringVarP(&evaluateOutput, "output-file", "o", "", "output file path (default: stdout)")
	evaluateCmd.MarkFlagRequired("test-file")
}

func loadLabeled(ctx context.Context, path string) ([]models.ReconciliationHistory, error) {
	history, stats, err := reconciler.LoadHistory(ctx, path)
	if err != nil {
		return nil, err
	}
	reportParseErrors(path, stats.Errors)
	return history, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	eng, err := openEngine(ctx, appConfig)
	if err != nil {
		return err
	}
	defer eng.Close()

	history, err := loadLabeled(ctx, historyFile)
	if err != nil {
		return err
	}

	report, err := eng.service.TrainModel(ctx, history)
	if err != nil {
		return err
	}

	log := logger.WithComponent("cli").WithFields(logger.Fields{
		"samples":       report.Samples,
		"model_version": report.ModelVersion,
	})
	if report.Skipped {
		log.WithField("min_examples", appConfig.Training.MinExamples).Warn("Not enough labeled pairs, training skipped")
	} else {
		log.WithField("accuracy", report.FinalAccuracy).Info("Training completed")
	}

	return writeResult(cmd.OutOrStdout(), trainOutput, report)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	eng, err := openEngine(ctx, appConfig)
	if err != nil {
		return err
	}
	defer eng.Close()

	testSet, err := loadLabeled(ctx, testSetFile)
	if err != nil {
		return err
	}

	metrics, err := eng.service.EvaluateModel(ctx, testSet)
	if err != nil {
		return err
	}

	logger.WithComponent("cli").WithFields(logger.Fields{
		"total":     metrics.Total,
		"accuracy":  metrics.Accuracy,
		"precision": metrics.Precision,
		"recall":    metrics.Recall,
		"f1":        metrics.F1,
	}).Info("Evaluation completed")

	return writeResult(cmd.OutOrStdout(), evaluateOutput, metrics)
}
