package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"intellixdoc/internal/pkg/jwtutil"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Mint a bearer token for the /api/v1 routes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is empty; the API is not protected")
		}

		ttl := tokenTTL
		if !cmd.Flags().Changed("ttl") {
			ttl = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
		}
		token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, tokenSubject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	issueTokenCmd.Flags().StringVar(&tokenSubject, "subject", "intellixdoc-client", "token subject")
	issueTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default auth.jwt_expire_minute; 0 never expires)")
}
