package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"payment-reconciliation-engine/cmd/reconciler/config"
	"payment-reconciliation-engine/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// appConfig is loaded before every command runs.
	appConfig *config.Config
)

// configKeys maps command-line flags onto configuration keys. A flag only
// overrides its key when it is set explicitly.
var configKeys = map[string]string{
	"amount-tolerance":     "tolerance.tolerance_amount",
	"percentage-tolerance": "tolerance.tolerance_percentage",
	"date-tolerance":       "tolerance.date_range_days",
	"workers":              "tolerance.workers",
	"min-examples":         "training.min_examples",
	"output-format":        "report.format",
	"max-items":            "report.max_list_items",
	"show-features":        "report.include_features",
	"port":                 "server.port",
	"storage-driver":       "storage.driver",
	"storage-path":         "storage.path",
	"log-level":            "log.level",
	"log-format":           "log.format",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Payment reconciliation engine",
	Long: `Reconciler matches internal payment records against bank transactions.
It runs exact, partial and model-scored fuzzy matching phases, suggests
candidate pairs for review, and learns from labeled reconciliation history.

Examples:
  reconciler reconcile --payments-file payments.csv --bank-files statement.csv
  reconciler reconcile -p payments.csv -b bank1.csv,bank2.csv --output-format json
  reconciler train --history-file history.csv
  reconciler serve --port 8080
  reconciler version`,
	Version:           getVersionString(),
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, yaml/json/toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("storage-driver", config.StorageFile, "model and history storage: memory, file, sqlite")
	rootCmd.PersistentFlags().String("storage-path", ".reconciler", "storage directory (file) or database path (sqlite)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")
}

// loadConfig merges defaults, the config file, RECONCILER_* variables and
// the flags of the command being run, then installs the global logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	v, err := config.NewViper()
	if err != nil {
		return err
	}
	if err := bindFlags(v, cmd); err != nil {
		return err
	}

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = logger.DebugLevel
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)

	if verbose && cfgFile != "" {
		log.WithField("config_file", v.ConfigFileUsed()).Debug("Using config file")
	}

	appConfig = cfg
	return nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range configKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
