package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"courier/cmd/courier/cmd/users"
	"courier/cmd/internal/app"
)

var (
	cfg      app.Config
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Token issuer and realtime broadcast hub",
	Long: `courier issues signed session tokens over HTTP and relays JSON messages
between authenticated websocket clients.

Configuration comes from COURIER_* environment variables, optionally loaded
from .env files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = app.LoadConfig(envFiles...)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		applyFlags(cmd)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load; process environment wins")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (env: COURIER_LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: json, text, pretty (env: COURIER_LOG_FORMAT)")
	rootCmd.PersistentFlags().String("snapshot", "", "Identity snapshot path (env: COURIER_SNAPSHOT_PATH)")

	rootCmd.AddCommand(issuerCmd, hubCmd, allCmd)
	rootCmd.AddCommand(users.NewCommand(func() app.Config { return cfg }))
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("snapshot") {
		cfg.SnapshotPath, _ = flags.GetString("snapshot")
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
