package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const snapshotPerm fs.FileMode = 0o600

// ReadSnapshotFile decodes a snapshot. A missing or blank file yields an empty list.
// The format follows the extension: .yaml/.yml is YAML, anything else JSON.
func ReadSnapshotFile(path string) ([]Identity, error) {
	const op = "identity.ReadSnapshotFile"

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, PersistenceError{Op: op, Path: path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var out []Identity
	if isYAML(path) {
		err = yaml.Unmarshal(data, &out)
	} else {
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		return nil, PersistenceError{Op: op, Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}

// WriteSnapshotFile encodes identities and replaces path atomically: readers see
// either the previous file or the complete new one, never a partial write.
func WriteSnapshotFile(path string, identities []Identity) error {
	const op = "identity.WriteSnapshotFile"

	if identities == nil {
		identities = []Identity{}
	}

	data, err := encodeSnapshot(path, identities)
	if err != nil {
		return PersistenceError{Op: op, Path: path, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := writeFileAtomic(path, data, snapshotPerm); err != nil {
		return PersistenceError{Op: op, Path: path, Err: err}
	}
	return nil
}

// LoadStore builds a store from the snapshot at path. A malformed or unreadable
// snapshot is logged and the store starts empty.
func LoadStore(log *slog.Logger, path string, opts ...Option) *Store {
	s := NewStore(opts...)
	if path == "" {
		return s
	}

	identities, err := ReadSnapshotFile(path)
	if err != nil {
		log.Error("identity.snapshot.load_fail", "path", path, "err", err)
		return s
	}
	if err := s.Restore(identities); err != nil {
		log.Error("identity.snapshot.restore_fail", "path", path, "err", err)
		return s
	}

	log.Info("identity.snapshot.loaded", "path", path, "identities", s.Len())
	return s
}

// SnapshotFile persists a store to a fixed path.
type SnapshotFile struct {
	Path  string
	Store *Store
}

// Persist writes the current store contents to the snapshot path.
func (f SnapshotFile) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteSnapshotFile(f.Path, f.Store.Snapshot())
}

func encodeSnapshot(path string, identities []Identity) ([]byte, error) {
	if !isYAML(path) {
		b, err := json.MarshalIndent(identities, "", "    ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err := enc.Encode(identities); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func writeFileAtomic(path string, data []byte, perm fs.FileMode) (err error) {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}

	// Best effort: make the rename itself durable.
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
