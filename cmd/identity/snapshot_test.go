package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleIdentities() []Identity {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return []Identity{
		{ID: "01J00000000000000000000001", Name: "alice", Secret: "$argon2id$a", CreatedAt: at},
		{ID: "01J00000000000000000000002", Name: "Bob", Secret: "$argon2id$b", CreatedAt: at.Add(time.Minute)},
	}
}

func TestSnapshotFile_JSONRoundTrip(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "users.json")

	r.NoError(WriteSnapshotFile(path, sampleIdentities()))

	raw, err := os.ReadFile(path)
	r.NoError(err)
	r.True(json.Valid(raw))
	r.Contains(string(raw), "\n    {\n        \"id\"", "expected 4-space indentation")

	got, err := ReadSnapshotFile(path)
	r.NoError(err)
	r.Equal(sampleIdentities(), got)
}

func TestSnapshotFile_YAMLRoundTrip(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "users.yaml")

	r.NoError(WriteSnapshotFile(path, sampleIdentities()))

	raw, err := os.ReadFile(path)
	r.NoError(err)
	r.Contains(string(raw), "username: alice")
	r.False(json.Valid(raw), "expected YAML, not JSON")

	got, err := ReadSnapshotFile(path)
	r.NoError(err)
	r.Equal(sampleIdentities(), got)
}

func TestSnapshotFile_EmptyStoreWritesEmptyList(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "users.json")

	r.NoError(WriteSnapshotFile(path, nil))
	raw, err := os.ReadFile(path)
	r.NoError(err)
	r.Equal("[]", strings.TrimSpace(string(raw)))
}

func TestReadSnapshotFile_MissingOrBlank(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()

	got, err := ReadSnapshotFile(filepath.Join(dir, "absent.json"))
	r.NoError(err)
	r.Empty(got)

	blank := filepath.Join(dir, "blank.json")
	r.NoError(os.WriteFile(blank, []byte("  \n"), 0o600))
	got, err = ReadSnapshotFile(blank)
	r.NoError(err)
	r.Empty(got)
}

func TestReadSnapshotFile_Malformed(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "users.json")
	r.NoError(os.WriteFile(path, []byte(`{"not": "a list"`), 0o600))

	_, err := ReadSnapshotFile(path)
	r.ErrorIs(err, ErrPersistence)
}

func TestWriteSnapshotFile_ReplacesWithoutLeftovers(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")

	r.NoError(os.WriteFile(path, []byte("old contents"), 0o600))
	r.NoError(WriteSnapshotFile(path, sampleIdentities()))

	entries, err := os.ReadDir(dir)
	r.NoError(err)
	r.Len(entries, 1, "temp file must not survive a successful write")

	got, err := ReadSnapshotFile(path)
	r.NoError(err)
	r.Len(got, 2)
}

func TestWriteSnapshotFile_FailureKeepsPrevious(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "missing-dir", "users.json")

	err := WriteSnapshotFile(path, sampleIdentities())
	r.ErrorIs(err, ErrPersistence)
	_, statErr := os.Stat(path)
	r.True(os.IsNotExist(statErr))
}

func TestLoadStore(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	r.NoError(WriteSnapshotFile(good, sampleIdentities()))
	s := LoadStore(discardLogger(), good, WithPasswordConfig(cheapPasswords()))
	r.Equal(2, s.Len())

	bad := filepath.Join(dir, "bad.json")
	r.NoError(os.WriteFile(bad, []byte("{{{"), 0o600))
	var logs bytes.Buffer
	s = LoadStore(slog.New(slog.NewJSONHandler(&logs, nil)), bad)
	r.Zero(s.Len())
	r.Contains(logs.String(), "identity.snapshot.load_fail")

	s = LoadStore(discardLogger(), filepath.Join(dir, "none.json"))
	r.Zero(s.Len())
}

func TestSnapshotFile_Persist(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.json")

	s := NewStore(WithPasswordConfig(cheapPasswords()))
	alice, err := s.Register(ctx, "alice", "pw1")
	r.NoError(err)

	r.NoError(SnapshotFile{Path: path, Store: s}.Persist(ctx))

	restored := LoadStore(discardLogger(), path, WithPasswordConfig(cheapPasswords()))
	got, err := restored.Authenticate(ctx, "alice", "pw1")
	r.NoError(err)
	r.Equal(alice.ID, got.ID)
}
