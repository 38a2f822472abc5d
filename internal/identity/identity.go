// Package identity manages the per-installation instance identity.
//
// The identity is a UUIDv4 generated on first run and persisted to
// instance.toml under the cursedboard config directory. It is never
// regenerated while the file exists: peers trust the UUID, so a new one
// would orphan every trust-store entry on the mesh.
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// Instance is this installation's identity as announced to peers.
type Instance struct {
	ID         uuid.UUID `toml:"id"`
	DeviceName string    `toml:"device_name"`
	Group      string    `toml:"group,omitempty"`
}

// LoadOrCreate reads the instance file at path, creating it with a fresh
// UUIDv4 on first run. A file that exists but cannot be read or parsed is a
// hard error: running with a regenerated identity would silently fork the
// installation's history.
func LoadOrCreate(path string) (Instance, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		inst := Instance{
			ID:         uuid.New(),
			DeviceName: defaultDeviceName(),
			Group:      DefaultGroup(),
		}
		if err := inst.save(path); err != nil {
			return Instance{}, fmt.Errorf("persist new identity: %w", err)
		}
		return inst, nil
	case err != nil:
		return Instance{}, fmt.Errorf("read identity %s: %w", path, err)
	}

	var inst Instance
	if err := toml.Unmarshal(data, &inst); err != nil {
		return Instance{}, fmt.Errorf("parse identity %s: %w", path, err)
	}
	if inst.ID == uuid.Nil {
		return Instance{}, fmt.Errorf("identity %s has no id", path)
	}
	if inst.DeviceName == "" {
		inst.DeviceName = defaultDeviceName()
	}
	if inst.Group == "" {
		inst.Group = DefaultGroup()
	}
	return inst, nil
}

// DefaultPath returns <user config dir>/cursedboard/instance.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "cursedboard", "instance.toml"), nil
}

// save writes the identity atomically: temp sibling, then rename.
func (i Instance) save(path string) error {
	data, err := toml.Marshal(i)
	if err != nil {
		return fmt.Errorf("serialise identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func defaultDeviceName() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "cursedboard"
	}
	return h
}

// DefaultGroup returns the lowercased current user name, or "default" when
// the environment does not say who is logged in.
func DefaultGroup() string {
	for _, env := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(env); v != "" {
			return strings.ToLower(v)
		}
	}
	return "default"
}
