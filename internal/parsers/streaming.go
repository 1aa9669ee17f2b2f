package parsers

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"payment-reconciliation-engine/internal/models"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// FileResult is the outcome of parsing one bank statement file.
type FileResult struct {
	Path         string
	Format       string
	Transactions []*models.BankTransaction
	Stats        *ParseStats
	Err          error
}

// ConcurrentParser parses several bank statement files at once, bounded by
// a semaphore.
type ConcurrentParser struct {
	maxConcurrency int
	logger         logger.Logger
}

// NewConcurrentParser creates a concurrent parser; non-positive limits
// default to 4.
func NewConcurrentParser(maxConcurrency int) *ConcurrentParser {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &ConcurrentParser{
		maxConcurrency: maxConcurrency,
		logger:         logger.WithComponent("concurrent_parser"),
	}
}

// ParseBankFiles parses every file with its format. A nil format means
// auto-detect. Results come back in path order.
func (cp *ConcurrentParser) ParseBankFiles(ctx context.Context, files map[string]*Format) []*FileResult {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	results := make([]*FileResult, len(paths))
	semaphore := make(chan struct{}, cp.maxConcurrency)
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string, format *Format) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			results[i] = cp.parseOne(ctx, path, format)
		}(i, path, files[path])
	}
	wg.Wait()

	cp.logger.WithFields(logger.Fields{
		"files":           len(paths),
		"max_concurrency": cp.maxConcurrency,
	}).Debug("Bank statement files parsed")
	return results
}

func (cp *ConcurrentParser) parseOne(ctx context.Context, path string, format *Format) *FileResult {
	result := &FileResult{Path: path}
	if err := ctx.Err(); err != nil {
		result.Err = rerrors.ReconciliationError(rerrors.CodeCancelled, "parse "+path, err)
		return result
	}

	var (
		parser *BankParser
		err    error
	)
	if format == nil {
		parser, err = NewBankParserWithAutoDetect(path)
	} else {
		parser, err = NewBankParser(format)
	}
	if err != nil {
		result.Err = err
		return result
	}

	result.Format = parser.Format().Name
	result.Transactions, result.Stats, result.Err = parser.ParseFile(ctx, path)
	return result
}

// MergeBankResults concatenates the transactions of successful results in
// order. Ids repeated across files are prefixed with the file's base
// name so the merged set stays unique; any file error is returned in an
// ErrorSummary alongside whatever was parsed.
func MergeBankResults(results []*FileResult) ([]*models.BankTransaction, error) {
	var (
		merged []*models.BankTransaction
		errs   []*rerrors.ReconcilerError
	)
	seen := make(map[string]struct{})

	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, rerrors.WrapIfNeeded(r.Err, rerrors.CategoryFile, rerrors.CodeFileCorrupted,
				fmt.Sprintf("failed to parse %s", r.Path)))
			continue
		}
		for _, t := range r.Transactions {
			if _, dup := seen[t.ID]; dup {
				renamed := *t
				renamed.ID = fmt.Sprintf("%s:%s", filepath.Base(r.Path), t.ID)
				t = &renamed
			}
			seen[t.ID] = struct{}{}
			merged = append(merged, t)
		}
	}

	if len(errs) > 0 {
		return merged, rerrors.NewErrorSummary(errs)
	}
	return merged, nil
}
