package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"opsbridge.org/internal/config"
	"opsbridge.org/internal/obs"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "opsbridge",
	Short: "opsbridge - credential-holding proxy for the operations app",
	Long: `opsbridge keeps the operations app's third-party credentials server side.

It forwards catalogued actions to the document/collaboration API, SMS/voice,
the task tracker and the assistant, serves the operational datasets, and
emails move managers about jobs that still miss documents.

Examples:
  opsbridge serve                       # HTTP proxy plus the daily reminder schedule
  opsbridge remind --dry-run            # show the reminders due now
  opsbridge migrate up                  # create the dataset tables
  opsbridge token --user app --roles operator`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if err := obs.Init(cfg.Log.JSON, cfg.Log.Level); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (environment variables override it)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(remindCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "opsbridge %s (%s)\n", version, commit)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
