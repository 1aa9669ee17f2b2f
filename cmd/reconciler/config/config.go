// Package config assembles the CLI configuration from defaults, an optional
// config file, RECONCILER_* environment variables and bound flags.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/viper"

	"payment-reconciliation-engine/internal/api"
	"payment-reconciliation-engine/internal/parsers"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/internal/reporter"
	"payment-reconciliation-engine/pkg/logger"
)

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "RECONCILER"

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Config is the full CLI configuration. The reconciler sections sit at
// the top level: tolerance, features, model, training, preprocessing.
type Config struct {
	reconciler.Config `yaml:",inline" mapstructure:",squash"`

	Report  ReportSettings  `json:"report" yaml:"report" mapstructure:"report"`
	Server  api.Config      `json:"server" yaml:"server" mapstructure:"server"`
	Storage StorageSettings `json:"storage" yaml:"storage" mapstructure:"storage"`
	Log     logger.Config   `json:"log" yaml:"log" mapstructure:"log"`
}

// ReportSettings are the report options that can be set from a file or
// the environment. The delimiter is a one-character string.
type ReportSettings struct {
	Format                 string `json:"format" yaml:"format" mapstructure:"format"`
	IncludeMatches         bool   `json:"include_matches" yaml:"include_matches" mapstructure:"include_matches"`
	IncludeSuggestions     bool   `json:"include_suggestions" yaml:"include_suggestions" mapstructure:"include_suggestions"`
	IncludeUnmatched       bool   `json:"include_unmatched" yaml:"include_unmatched" mapstructure:"include_unmatched"`
	IncludeDiscrepancies   bool   `json:"include_discrepancies" yaml:"include_discrepancies" mapstructure:"include_discrepancies"`
	IncludeProcessingStats bool   `json:"include_processing_stats" yaml:"include_processing_stats" mapstructure:"include_processing_stats"`
	IncludeFeatures        bool   `json:"include_features" yaml:"include_features" mapstructure:"include_features"`
	MaxListItems           int    `json:"max_list_items" yaml:"max_list_items" mapstructure:"max_list_items"`
	SortByAmount           bool   `json:"sort_by_amount" yaml:"sort_by_amount" mapstructure:"sort_by_amount"`
	CSVDelimiter           string `json:"csv_delimiter" yaml:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders             bool   `json:"csv_headers" yaml:"csv_headers" mapstructure:"csv_headers"`
}

// StorageSettings select where the model and the counterparty history
// are persisted between runs.
type StorageSettings struct {
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`
	Path   string `json:"path" yaml:"path" mapstructure:"path"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	report := reporter.DefaultReportConfig()
	return &Config{
		Config: *reconciler.DefaultConfig(),
		Report: ReportSettings{
			Format:                 string(report.Format),
			IncludeMatches:         report.IncludeMatches,
			IncludeSuggestions:     report.IncludeSuggestions,
			IncludeUnmatched:       report.IncludeUnmatched,
			IncludeDiscrepancies:   report.IncludeDiscrepancies,
			IncludeProcessingStats: report.IncludeProcessingStats,
			IncludeFeatures:        report.IncludeFeatures,
			MaxListItems:           report.MaxListItems,
			SortByAmount:           report.SortByAmount,
			CSVDelimiter:           string(report.CSVDelimiter),
			CSVHeaders:             report.CSVHeaders,
		},
		Server: api.DefaultConfig(),
		Storage: StorageSettings{
			Driver: StorageFile,
			Path:   ".reconciler",
		},
		Log: *logger.DefaultConfig(),
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if _, err := c.ReportConfig(""); err != nil {
		return fmt.Errorf("invalid report config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}
	return nil
}

// Validate checks the storage driver and path.
func (s StorageSettings) Validate() error {
	switch s.Driver {
	case StorageMemory:
		return nil
	case StorageFile, StorageSQLite:
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage path is required for driver %s", s.Driver)
		}
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q (use memory, file or sqlite)", s.Driver)
	}
}

// ReportConfig builds the report configuration. A non-empty format
// overrides the configured one.
func (c *Config) ReportConfig(format string) (*reporter.ReportConfig, error) {
	s := c.Report
	if format == "" {
		format = s.Format
	}

	delimiter := ','
	if s.CSVDelimiter != "" {
		if utf8.RuneCountInString(s.CSVDelimiter) != 1 {
			return nil, fmt.Errorf("csv delimiter must be a single character, got %q", s.CSVDelimiter)
		}
		delimiter, _ = utf8.DecodeRuneInString(s.CSVDelimiter)
	}

	config := &reporter.ReportConfig{
		Format:                 reporter.OutputFormat(strings.ToLower(format)),
		IncludeMatches:         s.IncludeMatches,
		IncludeSuggestions:     s.IncludeSuggestions,
		IncludeUnmatched:       s.IncludeUnmatched,
		IncludeDiscrepancies:   s.IncludeDiscrepancies,
		IncludeProcessingStats: s.IncludeProcessingStats,
		IncludeFeatures:        s.IncludeFeatures,
		MaxListItems:           s.MaxListItems,
		SortByAmount:           s.SortByAmount,
		CSVDelimiter:           delimiter,
		CSVHeaders:             s.CSVHeaders,
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SetDefaults registers every configuration key with its default value so
// that environment variables and config files can override any of them.
func SetDefaults(v *viper.Viper) error {
	data, err := json.Marshal(Default())
	if err != nil {
		return err
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return err
	}
	setDefaults(v, "", tree)

	// omitted from the JSON form when empty
	v.SetDefault("log.file", "")
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if sub, ok := value.(map[string]interface{}); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, value)
	}
}

// NewViper returns a viper instance reading RECONCILER_* variables, where
// nested keys use underscores: RECONCILER_TOLERANCE_WORKERS.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := SetDefaults(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Load reads the optional config file and decodes the merged settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BankProfile describes a predefined bank statement layout.
type BankProfile struct {
	Name        string
	Description string
	Columns     []string
	DateFormat  string
	Delimiter   string
}

// GetBankProfiles lists the predefined bank statement layouts.
func GetBankProfiles() []BankProfile {
	formats := parsers.BankFormats()
	profiles := make([]BankProfile, 0, len(formats))
	for _, f := range formats {
		fields := []string{parsers.FieldID, parsers.FieldAmount, parsers.FieldDate, parsers.FieldCurrency,
			parsers.FieldReference, parsers.FieldDescription, parsers.FieldCounterpartyName}
		columns := make([]string, 0, len(fields))
		for _, field := range fields {
			columns = append(columns, fmt.Sprintf("%s=%s", field, f.Column(field)))
		}
		profiles = append(profiles, BankProfile{
			Name:        f.Name,
			Description: f.Description,
			Columns:     columns,
			DateFormat:  f.DateFormat,
			Delimiter:   string(f.Delimiter),
		})
	}
	return profiles
}

// GetBankProfile returns a predefined layout by name, case-insensitively.
func GetBankProfile(name string) (*parsers.Format, error) {
	if f := parsers.BankFormat(name); f != nil {
		return f, nil
	}
	return nil, fmt.Errorf("unknown bank profile: %s", name)
}
