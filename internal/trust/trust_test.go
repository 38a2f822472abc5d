package trust

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeAt(t *testing.T) *Store {
	t.Helper()
	s, err := Load(filepath.Join(t.TempDir(), "trusted.toml"))
	require.NoError(t, err)
	return s
}

func TestLoadAbsentFileIsEmpty(t *testing.T) {
	s := storeAt(t)
	assert.True(t, s.Empty())
	assert.Equal(t, 0, s.Len())
}

func TestTrustPersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted.toml")
	id := uuid.New()

	s, err := Load(path)
	require.NoError(t, err)
	s.Trust(id, "laptop")
	assert.True(t, s.IsTrusted(id))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.IsTrusted(id))
	p, ok := reloaded.Get(id)
	require.True(t, ok)
	assert.Equal(t, "laptop", p.Name)
	assert.NotZero(t, p.FirstSeen)
}

func TestTrustNeverRewritesFirstSeen(t *testing.T) {
	s := storeAt(t)
	id := uuid.New()

	s.Trust(id, "laptop")
	first, ok := s.Get(id)
	require.True(t, ok)

	s.Trust(id, "renamed")
	again, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, first.FirstSeen, again.FirstSeen)
	assert.Equal(t, "laptop", again.Name)
}

func TestAdmitEmptyStoreAcceptsAnyone(t *testing.T) {
	s := storeAt(t)
	id := uuid.New()

	assert.True(t, s.Admit(id, "first", false))
	assert.True(t, s.IsTrusted(id))
}

func TestAdmitNonEmptyStoreRejectsUnknown(t *testing.T) {
	s := storeAt(t)
	s.Trust(uuid.New(), "existing")

	stranger := uuid.New()
	assert.False(t, s.Admit(stranger, "stranger", false))
	assert.False(t, s.IsTrusted(stranger))
}

func TestAdmitPairingAcceptsUnknown(t *testing.T) {
	s := storeAt(t)
	s.Trust(uuid.New(), "existing")

	stranger := uuid.New()
	assert.True(t, s.Admit(stranger, "stranger", true))
	assert.True(t, s.IsTrusted(stranger))
}

func TestAdmitTrustedAlwaysAccepted(t *testing.T) {
	s := storeAt(t)
	id := uuid.New()
	s.Trust(id, "laptop")
	s.Trust(uuid.New(), "other")

	assert.True(t, s.Admit(id, "laptop", false))
}

func TestLoadToleratesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted.toml")
	id := uuid.New()
	body := "future_field = \"ignored\"\n\n[peers]\n[peers.\"" + id.String() + "\"]\nname = \"x\"\nfirst_seen = 123\nextra = 1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.True(t, s.IsTrusted(id))
}

func TestLoadSkipsMalformedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted.toml")
	body := "[peers]\n[peers.\"not-a-uuid\"]\nname = \"x\"\nfirst_seen = 123\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.True(t, s.Empty())
}

func TestConcurrentAdmitSingleInsert(t *testing.T) {
	s := storeAt(t)
	id := uuid.New()

	done := make(chan struct{})
	for range 8 {
		go func() {
			s.Admit(id, "racer", true)
			done <- struct{}{}
		}()
	}
	for range 8 {
		<-done
	}
	assert.Equal(t, 1, s.Len())
}
