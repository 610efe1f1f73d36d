package users

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"courier/cmd/identity"
	"courier/cmd/internal/app"
)

func newListCmd(config func() app.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config().SnapshotPath
			identities, err := identity.ReadSnapshotFile(path)
			if err != nil {
				return err
			}
			if len(identities) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no identities in %s\n", path)
				return nil
			}
			renderIdentities(cmd.OutOrStdout(), identities)
			return nil
		},
	}
}

// renderIdentities prints one row per identity. Secrets are never shown.
func renderIdentities(w io.Writer, identities []identity.Identity) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Username", "Created"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")

	for _, ident := range identities {
		table.Append([]string{ident.ID, ident.Name, ident.CreatedAt.UTC().Format(time.RFC3339)})
	}
	table.Render()
}
