package cmd

import (
	"github.com/spf13/cobra"

	"courier/cmd/internal/app"
)

var issuerCmd = &cobra.Command{
	Use:   "issuer",
	Short: "Serve registration, login and token introspection",
	Long: `Serves POST /register, POST /login and GET /info on COURIER_ISSUER_ADDR.
Identities are restored from and persisted to COURIER_SNAPSHOT_PATH.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cfg, app.ModeIssuer)
	},
}

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Serve the websocket broadcast hub",
	Long: `Serves GET /chat on COURIER_HUB_ADDR. Tokens are verified against the
issuer at COURIER_ISSUER_URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cfg, app.ModeHub)
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Serve issuer and hub in one process",
	Long:  `Runs both services; the hub verifies tokens locally with the shared signing key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cfg, app.ModeAll)
	},
}
