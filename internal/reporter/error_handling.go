package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/internal/trainer"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with input validation, logging
// and fallbacks for failed formats and unwritable output files.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Use one of the output formats: console, json, yaml, csv")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely renders any supported result: a
// *reconciler.ReconciliationReport, a []*models.ReconciliationMatch, a
// *trainer.TrainingReport or a *trainer.EvaluationMetrics. A failing
// structured format falls back to console output.
func (srg *SafeReportGenerator) GenerateReportSafely(result interface{}, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format":      srg.config.Format,
		"output":      getWriterDescription(writer),
		"result_type": fmt.Sprintf("%T", result),
	}).Debug("Starting report generation")

	if err := srg.validateInputs(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	err := srg.generate(srg.ReportGenerator, result, writer)
	if err == nil {
		return nil
	}
	if errors.HasCode(err, errors.CodeInvalidData) {
		return err
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")
	if srg.config.Format == FormatConsole {
		return srg.wrapGenerationError(err)
	}
	return srg.generateWithFormatFallback(result, writer, err)
}

// WriteToFile renders result into path. When path cannot be created the
// report goes to a backup file in the system temp directory, whose path is
// returned.
func (srg *SafeReportGenerator) WriteToFile(path string, result interface{}) (string, error) {
	file, err := os.Create(path)
	if err != nil {
		if !isFileError(err) {
			return "", errors.FileError(errors.CodeFilePermission, path, err)
		}
		return srg.writeBackup(path, result, err)
	}
	defer file.Close()

	if err := srg.GenerateReportSafely(result, file); err != nil {
		if isFileError(err) {
			return srg.writeBackup(path, result, err)
		}
		return "", err
	}
	return path, nil
}

func (srg *SafeReportGenerator) generate(rg *ReportGenerator, result interface{}, writer io.Writer) error {
	switch r := result.(type) {
	case *reconciler.ReconciliationReport:
		return rg.GenerateReport(r, writer)
	case []*models.ReconciliationMatch:
		return rg.GenerateMatches("matches", r, writer)
	case *trainer.TrainingReport:
		return rg.GenerateTrainingReport(r, writer)
	case *trainer.EvaluationMetrics:
		return rg.GenerateEvaluationReport(r, writer)
	default:
		return errors.ValidationError(
			errors.CodeInvalidData,
			"result_type",
			fmt.Sprintf("%T", result),
			nil,
		).WithSuggestion("Provide a reconciliation report, match list, training report or evaluation metrics")
	}
}

// validateInputs validates the inputs for report generation
func (srg *SafeReportGenerator) validateInputs(result interface{}, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("Provide a result to report on")
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}
	if report, ok := result.(*reconciler.ReconciliationReport); ok && (report == nil || report.Result == nil || report.Summary == nil) {
		return errors.ValidationError(errors.CodeMissingField, "summary", nil, nil).
			WithSuggestion("Ensure the reconciliation report includes a result and a summary")
	}
	return nil
}

func (srg *SafeReportGenerator) generateWithFormatFallback(result interface{}, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallback, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := srg.generate(fallback, result, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated using format fallback")
	return nil
}

func (srg *SafeReportGenerator) writeBackup(originalPath string, result interface{}, originalErr error) (string, error) {
	backupPath := generateBackupPath(originalPath, os.TempDir())

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).WithError(originalErr).Warn("Attempting output fallback")

	backup, err := os.Create(backupPath)
	if err != nil {
		return "", errors.FileError(errors.CodeFilePermission, originalPath, originalErr).
			WithContext("backup_file", backupPath)
	}
	defer backup.Close()

	if err := srg.generate(srg.ReportGenerator, result, backup); err != nil {
		return "", errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	srg.logger.WithField("backup_file", backupPath).Info("Report written to backup location")
	return backupPath, nil
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}

// generateBackupPath maps report.json to <dir>/report_backup.json.
func generateBackupPath(originalPath, dir string) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
