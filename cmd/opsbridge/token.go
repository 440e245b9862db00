package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"opsbridge.org/internal/auth"
)

var (
	tokenUser  string
	tokenRoles []string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for an inbound caller",
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := auth.NewSigner(cfg.Server.AuthSecret)
		if err != nil {
			return err
		}
		tok, err := signer.GenerateToken(tokenUser, tokenRoles, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "subject of the token")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "roles", []string{"operator"}, "roles: admin, operator, viewer")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
