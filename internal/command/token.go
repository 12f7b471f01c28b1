package command

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"motochefe-engagement/internal/middleware"
)

// NewTokenCmd creates the token command.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the collector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return errors.New("a signing secret is required (--secret or JWT_SECRET)")
			}

			userFlag, _ := cmd.Flags().GetString("user")
			userID := uuid.New()
			if userFlag != "" {
				parsed, err := uuid.Parse(userFlag)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				userID = parsed
			}

			role, _ := cmd.Flags().GetString("role")
			if role != middleware.RoleLearner && role != middleware.RoleAdmin {
				return fmt.Errorf("unknown role %q", role)
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := middleware.NewJWTAuth(secret).GenerateAccessToken(userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("secret", "", "HS256 signing secret (defaults to $JWT_SECRET)")
	cmd.Flags().String("user", "", "user id to embed (random when empty)")
	cmd.Flags().String("role", middleware.RoleLearner, "learner or admin")
	cmd.Flags().Duration("ttl", 4*time.Hour, "token lifetime")

	return cmd
}
