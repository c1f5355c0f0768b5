package main

import (
	"fmt"

	auth "github.com/goliatone/go-console-auth"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Recover account access",
}

var forgotCmd = &cobra.Command{
	Use:   "forgot <email>",
	Short: "Request a password reset link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		return auth.NewInitializePasswordResetHandler(c.gateway).
			Execute(ctx, auth.InitializePasswordResetMessage{
				Email: args[0],
				OnResponse: func(res *auth.InitializePasswordResetResponse) {
					pterm.Success.Println(res.Message)
				},
			})
	},
}

var (
	resetToken    string
	resetEmail    string
	resetPassword string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Set a new password with a reset token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		password := resetPassword
		if password == "" {
			if password, err = pterm.DefaultInteractiveTextInput.WithMask("*").Show("New password"); err != nil {
				return err
			}
		}

		err = auth.NewFinalizePasswordResetHandler(c.gateway).
			Execute(ctx, auth.FinalizePasswordResetMessage{
				Token:                resetToken,
				Email:                resetEmail,
				Password:             password,
				PasswordConfirmation: password,
				OnResponse: func(message string) {
					pterm.Success.Println(message)
				},
			})
		if err != nil {
			return fmt.Errorf("%s", auth.UserMessage(err))
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().StringVar(&resetToken, "token", "", "reset token from the email link")
	resetCmd.Flags().StringVar(&resetEmail, "email", "", "account email")
	resetCmd.Flags().StringVar(&resetPassword, "password", "", "new password, prompted when empty")
	_ = resetCmd.MarkFlagRequired("token")
	_ = resetCmd.MarkFlagRequired("email")

	passwordCmd.AddCommand(forgotCmd, resetCmd)
	rootCmd.AddCommand(passwordCmd)
}
