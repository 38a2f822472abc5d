package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreatePersistsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.toml")

	first, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.NotEmpty(t, first.DeviceName)
	assert.NotEmpty(t, first.Group)

	// The identity must survive a restart unchanged.
	second, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestLoadOrCreateCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deeply", "nested", "instance.toml")

	inst, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, inst.ID)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestLoadRejectsCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.toml")
	require.NoError(t, os.WriteFile(path, []byte("id = \"not a uuid"), 0o600))

	_, err := LoadOrCreate(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.toml")
	require.NoError(t, os.WriteFile(path, []byte("device_name = \"desk\"\n"), 0o600))

	_, err := LoadOrCreate(path)
	assert.Error(t, err)
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.toml")
	id := uuid.New()
	require.NoError(t, os.WriteFile(path, []byte("id = \""+id.String()+"\"\n"), 0o600))

	inst, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, id, inst.ID)
	assert.NotEmpty(t, inst.DeviceName)
	assert.NotEmpty(t, inst.Group)
}

func TestDefaultGroupIsLowercasedUser(t *testing.T) {
	t.Setenv("USER", "Alice")
	assert.Equal(t, "alice", DefaultGroup())

	t.Setenv("USER", "")
	t.Setenv("USERNAME", "")
	assert.Equal(t, "default", DefaultGroup())
}
