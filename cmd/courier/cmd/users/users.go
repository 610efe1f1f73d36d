package users

import (
	"github.com/spf13/cobra"

	"courier/cmd/internal/app"
)

// NewCommand returns the parent command for offline identity management.
// config is called after the root command loaded its configuration.
func NewCommand(config func() app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect and manage the identity snapshot",
		Long: `Commands that read or modify the identity snapshot directly.
Stop the issuer first: it rewrites the snapshot on shutdown.`,
	}
	cmd.AddCommand(newListCmd(config), newAddCmd(config))
	return cmd
}
