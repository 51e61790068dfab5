package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/polisai/polis-pay/internal/app"
	"github.com/polisai/polis-pay/pkg/storage"
)

func openStore(cmd *cobra.Command) (storage.Store, string, error) {
	cfg, err := readConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, "", fmt.Errorf("storage configuration: %w", err)
	}
	store, err := app.OpenStore(cmd.Context(), cfg.Storage)
	if err != nil {
		return nil, "", err
	}
	return store, cfg.Storage.Driver, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the account and ledger schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, driver, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			migrator, ok := store.(storage.Migrator)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s store has no schema\n", driver)
				return nil
			}
			if err := migrator.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema up to date\n", driver)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <userId> <amount>",
		Short: "Credit an account, creating it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}

			store, driver, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			if driver == storage.DriverMemory {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: memory store is discarded when this command exits")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			balance, err := store.Credit(ctx, args[0], amount)
			if err != nil {
				return fmt.Errorf("credit %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s balance %s\n", args[0], balance.String())
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <userId>",
		Short: "Print the ledger of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.History(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("history %s: %w", args[0], err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTRANSACTION\tAMOUNT\tBALANCE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.CreatedAt.UTC().Format(time.RFC3339), e.TransactionID, e.Amount.String(), e.BalanceAfter.String())
			}
			return w.Flush()
		},
	}
}
