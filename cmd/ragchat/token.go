package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	srv "github.com/mohammad-safakhou/ragchat/internal/server"
)

// tokenCMD mints a bearer token for an account, for local testing.
func tokenCMD(load configLoader) *cobra.Command {
	var (
		accountID int64
		ttl       time.Duration
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Server.Validate(); err != nil {
				return err
			}
			tok, err := srv.SignToken(accountID, []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().Int64Var(&accountID, "account", 1, "account id placed in the token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return token
}
