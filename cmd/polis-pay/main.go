// Package main is the entry point for the polis-pay binary.
// It serves the payment pipeline over HTTP or as an AWS Lambda function and
// bundles the store and credential tooling around it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-pay/pkg/config"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-pay
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-pay",
		Short: "Serverless payment pipeline",
		Long: `polis-pay authenticates a caller, validates a {userId, amount} payload and
debits the account if its balance covers the amount.

Examples:
  polis-pay serve --config polis-pay.yaml
  polis-pay migrate
  polis-pay seed user-1 100
  polis-pay token user-1 --scope payments:write`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, err := cmd.Flags().GetString("env-file")
			if err != nil {
				return fmt.Errorf("failed to get env-file flag: %w", err)
			}
			return config.LoadDotEnv(envFile)
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to a .env file loaded before configuration")

	rootCmd.AddCommand(
		newServeCmd(),
		newLambdaCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newHistoryCmd(),
		newKeygenCmd(),
		newTokenCmd(),
	)

	return rootCmd
}

// loadConfig loads and fully validates the configuration named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	return config.Load(path)
}

// readConfig loads configuration without validating it.
func readConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	return config.Read(path)
}
