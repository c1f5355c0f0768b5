package main

import (
	"fmt"

	auth "github.com/goliatone/go-console-auth"
	"github.com/spf13/cobra"
)

var (
	configPath string
	opts       auth.Options
)

var rootCmd = &cobra.Command{
	Use:   "console",
	Short: "Staff console web front end",
	Long:  `Serves the staff console and guards every capability page with the session and authorization core.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := auth.LoadOptions(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		if cmd.Flags().Changed("api") {
			loaded.APIBaseURL, _ = cmd.Flags().GetString("api")
			loaded = loaded.WithDefaults()
		}
		if cmd.Flags().Changed("debug") {
			loaded.Debug, _ = cmd.Flags().GetBool("debug")
		}

		opts = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().String("api", "", "identity API base URL (overrides "+auth.EnvAPIBaseURL+")")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
}
