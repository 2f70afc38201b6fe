package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/beewatch/beewatch/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin token for the feature flag endpoints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Admin.SigningKey == "" {
			return eris.New("token: admin.signing_key is not configured")
		}

		subject, _ := cmd.Flags().GetString("subject")
		if subject == "" {
			return eris.New("--subject is required")
		}

		token, expiresAt, err := auth.NewJWTService(auth.JWTConfig{
			SigningKey: cfg.Admin.SigningKey,
			Issuer:     cfg.Admin.Issuer,
			Audience:   cfg.Admin.Audience,
			Expiry:     cfg.Admin.TokenExpiry,
		}).IssueAdminToken(subject)
		if err != nil {
			return eris.Wrap(err, "token: issue")
		}

		log.Info().
			Str("subject", subject).
			Time("expires_at", expiresAt).
			Msg("admin token issued")

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", token, expiresAt.UTC().Format(time.RFC3339))
		return err
	},
}

func init() {
	tokenCmd.Flags().String("subject", "", "operator identity recorded in the token")
	rootCmd.AddCommand(tokenCmd)
}
