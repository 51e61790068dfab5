package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-pay/pkg/auth"
)

func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key and the hash to configure",
		Long: `Generate a new API key. Only the hash is stored in configuration; hand the
key itself to the caller, it cannot be recovered later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			subject, err := cmd.Flags().GetString("subject")
			if err != nil {
				return fmt.Errorf("failed to get subject flag: %w", err)
			}

			key, hash, err := auth.GenerateAPIKey()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:  %s\nhash: %s\n", key, hash)
			if subject != "" {
				fmt.Fprintf(out, "\nauth:\n  api_keys:\n    - subject: %s\n      hash: %s\n", subject, hash)
			}
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Print a config snippet for this subject")
	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token signed with the configured JWT secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Auth.JWT.Secret == "" {
				return errors.New("auth.jwt.secret (PAY_JWT_SECRET) is not configured")
			}

			scopes, err := cmd.Flags().GetStringSlice("scope")
			if err != nil {
				return fmt.Errorf("failed to get scope flag: %w", err)
			}
			ttl, err := cmd.Flags().GetDuration("ttl")
			if err != nil {
				return fmt.Errorf("failed to get ttl flag: %w", err)
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive, got %s", ttl)
			}

			token, err := auth.SignToken([]byte(cfg.Auth.JWT.Secret), auth.TokenRequest{
				Subject:  args[0],
				Scopes:   scopes,
				Issuer:   cfg.Auth.JWT.Issuer,
				Audience: cfg.Auth.JWT.Audience,
				TTL:      ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSlice("scope", []string{"payments:write"}, "Scopes granted to the token")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}
