package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/pact/cmd/pact/commands"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

var rootCmd = &cobra.Command{
	Use:   "pact",
	Short: "pact - Agent contract verification",
	Long: `pact - Verify agent traces against behavioral contracts.

pact rebuilds the execution path of every traced agent run, checks it
against the contracts of your specifications, and stores a certificate
per trace.

Available commands:
  ` + sym.AM + ` am       - ` + sym.CommandDescriptions["am"] + `
  ` + sym.Ingest + ` certify  - ` + sym.CommandDescriptions["certify"] + `
  ` + sym.Judge + ` verify   - ` + sym.CommandDescriptions["verify"] + `
  ` + sym.Path + ` path     - ` + sym.CommandDescriptions["path"] + `
  ` + sym.Store + ` serve    - ` + sym.CommandDescriptions["serve"] + `

Examples:
  pact am show                                   # Show current configuration
  pact certify --source kafka                    # Certify spans from Kafka
  pact verify --spec spec.yaml --trace run.json  # Check one recorded trace
  pact path --jaeger 0af7651916cd43dd            # Show an execution path
  pact serve                                     # Serve stored certificates`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 'am show' and 'version' write machine-readable output
		if cmd.Name() == "show" || cmd.Name() == "version" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v for debug)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Read configuration from this am.toml only")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.CertifyCmd)
	rootCmd.AddCommand(commands.VerifyCmd)
	rootCmd.AddCommand(commands.PathCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
