package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hackportal/backend/internal/signature"
)

func signCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Print the webhook signature header value for a body (file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("RAZORPAY_WEBHOOK_SECRET")
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set RAZORPAY_WEBHOOK_SECRET")
			}
			var body []byte
			var err error
			if len(args) == 1 {
				body, err = os.ReadFile(args[0])
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(body, secret))
			return err
		},
	}
	cmd.Flags().StringVarP(&secret, "secret", "s", "", "webhook secret (default $RAZORPAY_WEBHOOK_SECRET)")
	return cmd
}
