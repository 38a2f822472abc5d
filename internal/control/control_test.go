package control

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/cursedboard/internal/identity"
	"go.klb.dev/cursedboard/internal/manager"
	"go.klb.dev/cursedboard/internal/trust"
)

func startServer(t *testing.T) *manager.Manager {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "ctl.sock")
	t.Setenv("CURSEDBOARD_SOCKET", sock)

	inst := identity.Instance{ID: uuid.New(), DeviceName: "desk", Group: "alice"}
	ts, err := trust.Load(filepath.Join(t.TempDir(), "trusted.toml"))
	require.NoError(t, err)
	mgr := manager.New(inst, "s", ts)

	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = NewServer(mgr, ln).Serve(ctx) }()

	return mgr
}

func TestStatusOp(t *testing.T) {
	mgr := startServer(t)

	resp, err := Do(Request{Op: "status"})
	require.NoError(t, err)
	assert.Equal(t, mgr.Instance().ID, resp.ID)
	assert.Equal(t, "desk", resp.Name)
	assert.Equal(t, "alice", resp.Group)
	assert.False(t, resp.Pairing)
	assert.Empty(t, resp.Peers)
}

func TestPairOp(t *testing.T) {
	mgr := startServer(t)
	require.False(t, mgr.PairingActive())

	resp, err := Do(Request{Op: "pair", Seconds: 30})
	require.NoError(t, err)
	assert.Contains(t, resp.OK, "30")
	assert.True(t, mgr.PairingActive())

	status, err := Do(Request{Op: "status"})
	require.NoError(t, err)
	assert.True(t, status.Pairing)
}

func TestPairOpDefaultsWindow(t *testing.T) {
	mgr := startServer(t)

	_, err := Do(Request{Op: "pair"})
	require.NoError(t, err)
	assert.True(t, mgr.PairingActive())
}

func TestUnknownOp(t *testing.T) {
	startServer(t)

	_, err := Do(Request{Op: "dance"})
	require.Error(t, err)
}

func TestDoWithoutDaemon(t *testing.T) {
	t.Setenv("CURSEDBOARD_SOCKET", filepath.Join(t.TempDir(), "absent.sock"))

	_, err := Do(Request{Op: "status"})
	require.Error(t, err)
}
