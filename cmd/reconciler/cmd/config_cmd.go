package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"payment-reconciliation-engine/cmd/reconciler/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML",
	Long: `Show prints the configuration after defaults, the config file and
RECONCILER_* environment variables are merged. The output is a valid
config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		encoder := yaml.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent(2)
		if err := encoder.Encode(appConfig); err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		return encoder.Close()
	},
}

var configFormatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the predefined bank statement layouts",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, p := range config.GetBankProfiles() {
			fmt.Fprintf(out, "%s: %s\n", p.Name, p.Description)
			fmt.Fprintf(out, "  delimiter:   %q\n", p.Delimiter)
			fmt.Fprintf(out, "  date format: %s\n", p.DateFormat)
			fmt.Fprintf(out, "  columns:     %s\n", strings.Join(p.Columns, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configFormatsCmd)
}
