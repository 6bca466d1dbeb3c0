package main

import (
	"fmt"
	"time"

	"github.com/cropsight/platform/pkg/common/config"
	"github.com/cropsight/platform/pkg/common/models"
	"github.com/cropsight/platform/pkg/gateway/auth"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var user models.UserContext
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a console session token signed with SESSION_SECRET.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if ttl <= 0 {
				ttl = cfg.SessionTTL
			}
			if !knownRole(user.Role) {
				return fmt.Errorf("unknown role %q (want one of %v)", user.Role, auth.AvailableRoles())
			}
			sessions, err := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionIssuer, cfg.SessionAudience, ttl, clockwork.NewRealClock())
			if err != nil {
				return err
			}
			token, err := sessions.IssueToken(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user.ID, "user-id", "", "user id carried by the token")
	cmd.Flags().StringVar(&user.Email, "email", "", "user email")
	cmd.Flags().StringVar(&user.Name, "name", "", "display name")
	cmd.Flags().StringVar(&user.Role, "role", auth.RoleAdmin, "role checked by the permission gate")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to SESSION_TTL)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func knownRole(role string) bool {
	for _, r := range auth.AvailableRoles() {
		if r == role {
			return true
		}
	}
	return false
}
