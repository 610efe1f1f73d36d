package users

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"courier/cmd/identity"
	"courier/cmd/internal/app"
)

func run(t *testing.T, snapshot, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := NewCommand(func() app.Config { return app.Config{SnapshotPath: snapshot} })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestUsers_AddThenList(t *testing.T) {
	t.Setenv("COURIER_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("COURIER_ARGON2_ITERATIONS", "1")
	t.Setenv("COURIER_ARGON2_PARALLELISM", "1")

	snapshot := filepath.Join(t.TempDir(), "users.yaml")

	out, err := run(t, snapshot, "", "list")
	require.NoError(t, err)
	require.Contains(t, out, "no identities")

	out, err = run(t, snapshot, "correct horse\n", "add", "--username", "alice", "--stdin")
	require.NoError(t, err)
	require.Contains(t, out, "registered alice")

	_, err = run(t, snapshot, "", "add", "--username", "bob", "--password", "battery staple")
	require.NoError(t, err)

	_, err = run(t, snapshot, "", "add", "--username", "alice", "--password", "another one")
	require.ErrorIs(t, err, identity.ErrConflict)

	out, err = run(t, snapshot, "", "list")
	require.NoError(t, err)
	require.Contains(t, out, "alice")
	require.Contains(t, out, "bob")
	require.NotContains(t, out, "argon2id")

	saved, err := identity.ReadSnapshotFile(snapshot)
	require.NoError(t, err)
	require.Len(t, saved, 2)
}

func TestUsers_AddRequiresInput(t *testing.T) {
	snapshot := filepath.Join(t.TempDir(), "users.json")

	_, err := run(t, snapshot, "", "add", "--password", "correct horse")
	require.ErrorContains(t, err, "--username")

	_, err = run(t, snapshot, "", "add", "--username", "alice", "--stdin")
	require.ErrorContains(t, err, "no password")
}
