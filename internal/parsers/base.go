// Package parsers reads payment records, bank transactions and labeled
// reconciliation history from CSV files.
//
// Every parser shares the same row loop: a header row is matched against
// the configured Format, each following row becomes one record, and rows
// that cannot be parsed are collected in ParseStats instead of failing the
// whole file.
//
// Example usage:
//
//	parser, err := parsers.NewPaymentParser(parsers.DefaultPaymentFormat())
//	payments, stats, err := parser.ParseFile(ctx, "payments.csv")
//	if stats.HasErrors() {
//		log.Warn(stats.ErrorSummary())
//	}
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// ParseError describes one rejected row.
type ParseError struct {
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d (%s='%s'): %s: %v", e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("line %d (%s='%s'): %s", e.Line, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errFieldTooLarge = errors.New("field exceeds maximum size")

// ParseConfig holds the CSV dialect.
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a comma separated dialect with a header row.
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000,
		ValidateEncoding: true,
	}
}

// BaseParser provides the CSV plumbing shared by the record parsers.
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a BaseParser; a nil config gets the defaults.
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.WithComponent("csv_parser"),
	}
}

// ParseContext holds the state of one parse.
type ParseContext struct {
	Source     string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a parse context for source.
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:    source,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// Err returns the context error once the parse has been cancelled.
func (pc *ParseContext) Err() error {
	return pc.ctx.Err()
}

// ColumnIndex returns the index of a column by name, or -1. The lookup
// falls back to a case-insensitive match.
func (pc *ParseContext) ColumnIndex(name string) int {
	if index, ok := pc.HeaderMap[name]; ok {
		return index
	}
	for header, index := range pc.HeaderMap {
		if strings.EqualFold(header, name) {
			return index
		}
	}
	return -1
}

// HasColumn reports whether the header row contains name.
func (pc *ParseContext) HasColumn(name string) bool {
	return name != "" && pc.ColumnIndex(name) >= 0
}

// OpenFile opens path for reading, checking its encoding first when the
// dialect asks for it.
func (bp *BaseParser) OpenFile(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", path).Error("Failed to open CSV file")
		switch {
		case os.IsNotExist(err):
			return nil, rerrors.FileError(rerrors.CodeFileNotFound, path, err)
		case os.IsPermission(err):
			return nil, rerrors.FileError(rerrors.CodeFilePermission, path, err)
		default:
			return nil, rerrors.FileError(rerrors.CodeFileCorrupted, path, err)
		}
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, path); err != nil {
			file.Close()
			return nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, rerrors.FileError(rerrors.CodeFileCorrupted, path, err)
		}
	}
	return file, nil
}

// NewReader wraps r in a csv.Reader configured with the dialect.
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	return reader
}

// validateEncoding checks the first 100 lines for valid UTF-8.
func (bp *BaseParser) validateEncoding(file *os.File, path string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), bp.maxLine())
	line := 0
	for scanner.Scan() && line < 100 {
		line++
		if !utf8.Valid(scanner.Bytes()) {
			return rerrors.ParseError(rerrors.CodeEncodingError, path, line, "encoding", "",
				fmt.Errorf("invalid UTF-8 encoding detected"))
		}
	}
	if err := scanner.Err(); err != nil {
		return rerrors.FileError(rerrors.CodeFileCorrupted, path, err)
	}
	return nil
}

func (bp *BaseParser) maxLine() int {
	if bp.config.MaxFieldSize > 0 {
		return bp.config.MaxFieldSize * 4
	}
	return bufio.MaxScanTokenSize
}

// ReadHeaders reads the header row and checks that every required column
// is present. Without a header row the required columns are assumed to
// appear in order.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, pc *ParseContext, required []string) error {
	if !bp.config.HasHeader {
		pc.Headers = append([]string(nil), required...)
		bp.buildHeaderMap(pc)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return rerrors.ValidationError(rerrors.CodeMissingField, "file_content", "empty", nil).
				WithSuggestion("Ensure the file contains a header row and data rows")
		}
		return rerrors.ParseError(rerrors.CodeInvalidFormat, pc.Source, 1, "headers", "", err)
	}

	pc.LineNumber++
	pc.Headers = make([]string, len(headers))
	for i, h := range headers {
		pc.Headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	bp.buildHeaderMap(pc)

	var missing []string
	for _, name := range required {
		if !pc.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"missing_headers":   missing,
			"available_headers": pc.Headers,
			"source":            pc.Source,
		}).Error("Required headers are missing")
		return rerrors.ParseError(rerrors.CodeMissingColumn, pc.Source, pc.LineNumber,
			strings.Join(missing, ", "), "", nil).
			WithSuggestion("Ensure the CSV file contains these headers: " + strings.Join(missing, ", "))
	}
	return nil
}

func (bp *BaseParser) buildHeaderMap(pc *ParseContext) {
	pc.HeaderMap = make(map[string]int, len(pc.Headers))
	for i, h := range pc.Headers {
		pc.HeaderMap[h] = i
	}
}

// ReadRecord returns the next non-empty row. io.EOF ends the file; any
// other error describes a single malformed row.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, pc *ParseContext) ([]string, error) {
	for {
		record, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				pc.LineNumber++
			}
			return nil, err
		}
		pc.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, fmt.Errorf("field %d: %w of %d bytes", i, errFieldTooLarge, bp.config.MaxFieldSize)
				}
			}
		}
		return record, nil
	}
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// Field returns the trimmed value of a column. A column absent from the
// header or from a short row reads as the empty string.
func (bp *BaseParser) Field(record []string, pc *ParseContext, name string) string {
	if name == "" {
		return ""
	}
	index := pc.ColumnIndex(name)
	if index < 0 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// rowBuilder turns one CSV row into a record.
type rowBuilder[T any] func(record []string, pc *ParseContext) (T, *ParseError)

// parseRows drives the header/row loop shared by all record parsers.
// Rows rejected by build are counted in the returned stats; the error
// return is reserved for unreadable input and cancellation, in which case
// the records parsed so far are still returned.
func parseRows[T any](ctx context.Context, bp *BaseParser, r io.Reader, source string, required []string, build rowBuilder[T]) ([]T, *ParseStats, error) {
	pc := NewParseContext(ctx, source)
	stats := NewParseStats()
	reader := bp.NewReader(r)

	if err := bp.ReadHeaders(reader, pc, required); err != nil {
		return nil, stats, err
	}

	var out []T
	for {
		if err := pc.Err(); err != nil {
			stats.TotalLines = pc.LineNumber
			return out, stats, rerrors.ReconciliationError(rerrors.CodeCancelled, "parse "+source, err)
		}

		record, err := bp.ReadRecord(reader, pc)
		if err == io.EOF {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if !errors.As(err, &csvErr) && !errors.Is(err, errFieldTooLarge) {
				stats.TotalLines = pc.LineNumber
				return out, stats, rerrors.FileError(rerrors.CodeFileCorrupted, source, err)
			}
			stats.AddError(&ParseError{Line: pc.LineNumber, Field: "record", Message: "malformed row", Err: err})
			continue
		}

		stats.RecordsParsed++
		item, perr := build(record, pc)
		if perr != nil {
			if perr.Line == 0 {
				perr.Line = pc.LineNumber
			}
			stats.AddError(perr)
			continue
		}
		out = append(out, item)
		stats.RecordsValid++
	}
	stats.TotalLines = pc.LineNumber

	log := bp.logger.WithFields(logger.Fields{
		"source":         source,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    stats.ErrorCount,
	})
	log.Info("CSV parsing completed")
	if stats.HasErrors() {
		log.WithField("sample_errors", stats.SampleErrors(3)).Warn("Rows rejected during parsing")
	}
	return out, stats, nil
}

// ParseStats holds statistics about one parse.
type ParseStats struct {
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*ParseError
}

// NewParseStats creates empty statistics.
func NewParseStats() *ParseStats {
	return &ParseStats{}
}

// AddError records a rejected row.
func (ps *ParseStats) AddError(err *ParseError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors reports whether any row was rejected.
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// SampleErrors returns up to n rejected rows as strings.
func (ps *ParseStats) SampleErrors(n int) []string {
	limit := len(ps.Errors)
	if n > 0 && n < limit {
		limit = n
	}
	samples := make([]string, 0, limit)
	for _, err := range ps.Errors[:limit] {
		samples = append(samples, err.Error())
	}
	return samples
}

// ErrorSummary groups the rejected rows by category and code. Rows whose
// cause carries no code are reported as invalid data.
func (ps *ParseStats) ErrorSummary() *rerrors.ErrorSummary {
	errs := make([]*rerrors.ReconcilerError, 0, len(ps.Errors))
	for _, pe := range ps.Errors {
		if re, ok := rerrors.AsReconcilerError(pe); ok {
			errs = append(errs, re)
			continue
		}
		errs = append(errs, rerrors.ParseError(rerrors.CodeInvalidData, "", pe.Line, pe.Field, pe.Value, pe))
	}
	return rerrors.NewErrorSummary(errs)
}
