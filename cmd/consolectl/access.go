package main

import (
	"fmt"
	"strings"

	auth "github.com/goliatone/go-console-auth"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	canRoles      []string
	canPermission string
)

var canCmd = &cobra.Command{
	Use:   "can [capability]",
	Short: "Check if the signed in identity may use a capability",
	Long: `Evaluates a configured capability by name or path. Without an argument the
requirement is built from --role and --permission.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		req := auth.Requirement{
			RequiredRoles:  canRoles,
			PermissionPath: canPermission,
		}
		label := describeRequirement(req)

		if len(args) == 1 {
			capability, ok := c.opts.FindCapability(args[0])
			if !ok {
				return fmt.Errorf("unknown capability %q", args[0])
			}
			req = capability.Requirement
			label = capability.Name
		}

		user, err := c.currentUser(ctx)
		if err != nil {
			return err
		}

		if c.policy.IsAuthorized(user, req) {
			pterm.Success.Printfln("%s may use %s", user.Email, label)
			return nil
		}
		pterm.Error.Printfln("%s may not use %s", user.Email, label)
		return fmt.Errorf("not authorized")
	},
}

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "List the capabilities visible to the signed in identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		user, err := c.currentUser(ctx)
		if err != nil {
			return err
		}

		items := c.policy.VisibleItems(user, c.opts.GetCapabilities())
		if len(items) == 0 {
			pterm.Info.Println("No capabilities are visible")
			return nil
		}

		rows := pterm.TableData{{"NAME", "TITLE", "PATH", "REQUIRES"}}
		for _, item := range items {
			rows = append(rows, []string{item.Name, item.Title, item.Path, describeRequirement(item.Requirement)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func describeRequirement(req auth.Requirement) string {
	if req.IsOpen() {
		return "any signed in user"
	}
	parts := []string{}
	if len(req.RequiredRoles) > 0 {
		parts = append(parts, "roles "+strings.Join(req.RequiredRoles, "|"))
	}
	if req.PermissionPath != "" {
		parts = append(parts, "permission "+req.PermissionPath)
	}
	return strings.Join(parts, " or ")
}

func init() {
	canCmd.Flags().StringSliceVar(&canRoles, "role", nil, "accepted role, repeatable")
	canCmd.Flags().StringVar(&canPermission, "permission", "", "permission path")

	rootCmd.AddCommand(canCmd, menuCmd)
}
