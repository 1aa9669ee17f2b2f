package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"payment-reconciliation-engine/cmd/reconciler/config"
	"payment-reconciliation-engine/internal/api"
	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/internal/reporter"
	"payment-reconciliation-engine/internal/storage"
	"payment-reconciliation-engine/pkg/logger"
)

// engine is a service wired to the configured storage.
type engine struct {
	service *reconciler.Service
	events  api.EventLister
	closers []io.Closer
}

func (e *engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// openEngine builds the service over the configured store and restores
// its persisted state. A state that cannot be restored is logged and the
// service starts with a fresh model.
func openEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	log := logger.WithComponent("cli")
	e := &engine{}
	deps := reconciler.Dependencies{}
	sinks := events.MultiSink{events.NewLogSink(logger.WithComponent("events"))}

	switch cfg.Storage.Driver {
	case config.StorageFile:
		store, err := storage.NewFileStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		deps.ModelStore = store
		deps.HistoryStore = store
	case config.StorageSQLite:
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		store, err := storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		deps.ModelStore = store
		deps.HistoryStore = store
		sinks = append(sinks, store)
		e.events = store
		e.closers = append(e.closers, store)
	}
	deps.Sink = sinks

	service, err := reconciler.NewService(&cfg.Config, deps)
	if err != nil {
		e.Close()
		return nil, err
	}
	if err := service.LoadState(ctx); err != nil {
		log.WithFields(logger.Fields{
			"storage_driver": cfg.Storage.Driver,
			"storage_path":   cfg.Storage.Path,
		}).Warn("Starting without persisted state")
	}
	e.service = service

	log.WithFields(logger.Fields{
		"storage_driver": cfg.Storage.Driver,
		"storage_path":   cfg.Storage.Path,
		"model":          service.ModelInfo().Version,
	}).Debug("Reconciliation engine ready")
	return e, nil
}

// writeResult renders result to outputFile, or to the command output when
// outputFile is empty.
func writeResult(out io.Writer, outputFile string, result interface{}) error {
	reportConfig, err := appConfig.ReportConfig("")
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	if outputFile == "" {
		return generator.GenerateReportSafely(result, out)
	}

	written, err := generator.WriteToFile(outputFile, result)
	if err != nil {
		return err
	}
	if written != outputFile {
		fmt.Fprintf(os.Stderr, "Could not write %s, report saved to %s\n", outputFile, written)
	}
	return nil
}

// loadRecords parses the payments file and the bank statement files.
func loadRecords(ctx context.Context, paymentsFile string, bankFiles []string, bankFormat string, maxConcurrency int) ([]*models.PaymentRecord, []*models.BankTransaction, error) {
	payments, stats, err := reconciler.LoadPayments(ctx, paymentsFile, nil)
	if err != nil {
		return nil, nil, err
	}
	reportParseErrors(paymentsFile, stats.Errors)

	bank, bankStats, err := reconciler.LoadBankFiles(ctx, bankFiles, bankFormat, maxConcurrency)
	if err != nil {
		return nil, nil, err
	}
	for path, s := range bankStats {
		reportParseErrors(path, s.Errors)
	}
	return payments, bank, nil
}
