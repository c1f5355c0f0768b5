package main

import (
	"fmt"
	"strings"
	"time"

	auth "github.com/goliatone/go-console-auth"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the bearer credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		email := strings.TrimSpace(loginEmail)
		if email == "" {
			if email, err = pterm.DefaultInteractiveTextInput.Show("Email"); err != nil {
				return err
			}
		}

		password := loginPassword
		if password == "" {
			if password, err = pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password"); err != nil {
				return err
			}
		}

		spinner, _ := pterm.DefaultSpinner.Start("Signing in")
		user, err := c.sessions.Login(ctx, email, password)
		if err != nil {
			spinner.Fail(auth.UserMessage(err))
			return fmt.Errorf("login failed")
		}
		spinner.Success(fmt.Sprintf("Signed in as %s", user.Email))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credential and revoke it remotely",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		c.sessions.Logout(ctx)
		pterm.Success.Println("Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed in identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		token, err := c.store.Get(ctx)
		if err != nil {
			return err
		}

		user, err := c.currentUser(ctx)
		if err != nil {
			return err
		}

		pterm.DefaultSection.Println("Identity")
		rows := pterm.TableData{
			{"ID", user.ID.String()},
			{"Email", user.Email},
			{"Name", user.Name},
			{"Roles", joinOrDash(user.RoleNames())},
			{"Permissions", joinOrDash(user.Permissions)},
			{"Manager", fmt.Sprintf("%t", auth.IsManagerClass(user))},
		}

		info := auth.InspectToken(token)
		rows = append(rows, []string{"Token", string(info.Kind)})
		if info.ExpiresAt != nil {
			rows = append(rows, []string{"Expires", info.ExpiresAt.Local().Format(time.RFC1123)})
		}

		if err := pterm.DefaultTable.WithData(rows).Render(); err != nil {
			return err
		}

		if info.Expired(time.Now()) {
			pterm.Warning.Println("The stored token has expired, sign in again")
		}
		return nil
	},
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password, prompted when empty")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}
