package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackportal/backend/internal/auth"
	"github.com/hackportal/backend/internal/models"
)

func tokenCmd() *cobra.Command {
	var (
		secret   string
		audience string
		email    string
		role     string
		hours    int
	)
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint an access token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set JWT_SECRET")
			}
			switch models.Role(role) {
			case models.RoleAdmin, models.RoleOrganizer, models.RoleParticipant:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.NewJWTService(secret, hours, audience).Generate(userID, email, role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default $JWT_SECRET)")
	cmd.Flags().StringVar(&audience, "audience", "authenticated", "aud claim")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&role, "role", string(models.RoleParticipant), "application role")
	cmd.Flags().IntVar(&hours, "hours", 1, "lifetime in hours")
	return cmd
}
