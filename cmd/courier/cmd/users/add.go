package users

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"courier/cmd/identity"
	"courier/cmd/internal/app"
	"courier/cmd/security/password"
)

func newAddCmd(config func() app.Config) *cobra.Command {
	var (
		username  string
		secret    string
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an identity directly in the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			if fromStdin {
				var err error
				if secret, err = readSecret(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if secret == "" {
				return errors.New("password is required (use --password or --stdin)")
			}

			pwCfg, err := password.FromEnv()
			if err != nil {
				return err
			}
			ident, err := addIdentity(cmd, config().SnapshotPath, pwCfg, username, secret)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", ident.Name, ident.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username of the identity")
	cmd.Flags().StringVar(&secret, "password", "", "Password (use --stdin to avoid shell history)")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the password from the first line of stdin")
	return cmd
}

func addIdentity(cmd *cobra.Command, path string, pwCfg password.Config, name, secret string) (identity.Identity, error) {
	if path == "" {
		return identity.Identity{}, errors.New("no snapshot path configured")
	}

	existing, err := identity.ReadSnapshotFile(path)
	if err != nil {
		return identity.Identity{}, err
	}
	store := identity.NewStore(identity.WithPasswordConfig(pwCfg))
	if err := store.Restore(existing); err != nil {
		return identity.Identity{}, err
	}

	ident, err := store.Register(cmd.Context(), name, secret)
	if err != nil {
		return identity.Identity{}, err
	}
	if err := identity.WriteSnapshotFile(path, store.Snapshot()); err != nil {
		return identity.Identity{}, err
	}
	return ident, nil
}

func readSecret(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("no password on stdin")
	}
	return strings.TrimRight(scanner.Text(), "\r"), nil
}
