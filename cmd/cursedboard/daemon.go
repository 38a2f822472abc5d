package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"go.klb.dev/cursedboard/internal/clip"
	"go.klb.dev/cursedboard/internal/control"
	"go.klb.dev/cursedboard/internal/discovery"
	"go.klb.dev/cursedboard/internal/identity"
	"go.klb.dev/cursedboard/internal/ipc"
	"go.klb.dev/cursedboard/internal/manager"
	"go.klb.dev/cursedboard/internal/trust"
)

func newDaemonCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the clipboard sync daemon",
		Long: `Starts the cursedboard daemon: announces this host over mDNS, connects
to every trusted sibling on the network, and keeps clipboards in sync.

A peer is connected when it proves knowledge of the same --psk AND is
either already in the trust store, or admitted during a pairing window
(see "cursedboard pair"), or the trust store is still empty (first run).

Flags, environment variables, and config-file keys
  Flag           Env var                  Config key
  ──────────────────────────────────────────────────
  --port         CURSEDBOARD_PORT         port
  --psk          CURSEDBOARD_PSK          psk
  --name         CURSEDBOARD_NAME         name
  --group        CURSEDBOARD_GROUP        group
  --poll-ms      CURSEDBOARD_POLL_MS      poll-ms
  --pair-window  CURSEDBOARD_PAIR_WINDOW  pair-window
  --state-dir    CURSEDBOARD_STATE_DIR    state-dir
  --log-level    CURSEDBOARD_LOG_LEVEL    log-level    (debug|info|warn|error)
  --log-format   CURSEDBOARD_LOG_FORMAT   log-format   (auto|text|json)
  --config       (flag only)

Config file search order (first found wins)
  /etc/cursedboard/cursedboard.toml
  $HOME/.config/cursedboard/cursedboard.toml
A path supplied via --config is read instead, without searching.

Precedence: defaults → config file → CURSEDBOARD_* env vars → CLI flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runDaemon(v) },
	}

	f := cmd.Flags()
	f.Int("port", 42069, "TCP listen port (also advertised over mDNS)")
	f.String("psk", "cursedboard", "pre-shared key; all peers in the mesh must agree")
	f.String("name", "", "display name announced to peers (default: host name)")
	f.String("group", "", "mesh group; peers outside it only connect while pairing (default: user name)")
	f.Int("poll-ms", 500, "clipboard poll interval in milliseconds")
	f.Int("pair-window", 0, "open a pairing window of this many seconds at startup")
	f.String("state-dir", "", "directory for instance.toml and trusted.toml (default: user config dir)")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runDaemon(v *viper.Viper) error {
	setupLogging(v)

	port := v.GetInt("port")
	psk := v.GetString("psk")
	pollMS := v.GetInt("poll-ms")
	pairWindow := v.GetInt("pair-window")

	instPath, trustPath, err := statePaths(v.GetString("state-dir"))
	if err != nil {
		return err
	}

	inst, err := identity.LoadOrCreate(instPath)
	if err != nil {
		return fmt.Errorf("instance identity: %w", err)
	}
	if name := v.GetString("name"); name != "" {
		inst.DeviceName = name
	}
	if group := v.GetString("group"); group != "" {
		inst.Group = group
	}

	ts, err := trust.Load(trustPath)
	if err != nil {
		slog.Warn("trust store unreadable, starting empty", "err", err)
	}

	slog.Info("cursedboard starting",
		"version", Version,
		"id", inst.ID,
		"name", inst.DeviceName,
		"group", inst.Group,
		"port", port,
		"trusted_peers", ts.Len(),
	)

	mgr := manager.New(inst, psk, ts)

	disc, err := discovery.New(inst, port, Version)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	defer disc.Shutdown()
	mgr.SetForget(disc.Forget)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen :%d: %w", port, err)
	}
	slog.Info("listening for peers", "addr", ln.Addr())

	provider := clip.New()
	syncer := clip.NewSyncer(provider, mgr, mgr.Events(), time.Duration(pollMS)*time.Millisecond)

	if pairWindow > 0 {
		mgr.EnablePairing(time.Duration(pairWindow) * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disc.Run(ctx) })
	g.Go(func() error { return mgr.Run(ctx, ln, disc.Peers()) })
	g.Go(func() error { return syncer.Run(ctx) })

	if ctlLn, err := ipc.Listen(); err != nil {
		slog.Warn("control socket unavailable", "err", err)
	} else {
		slog.Info("control socket listening", "path", ipc.SocketPath())
		srv := control.NewServer(mgr, ctlLn)
		g.Go(func() error { return srv.Serve(ctx) })
	}

	err = g.Wait()
	slog.Info("cursedboard stopped")
	return err
}

// statePaths resolves the instance and trust file locations, honouring a
// --state-dir override (used by tests and multi-instance setups).
func statePaths(stateDir string) (instPath, trustPath string, err error) {
	if stateDir != "" {
		return filepath.Join(stateDir, "instance.toml"), filepath.Join(stateDir, "trusted.toml"), nil
	}
	if instPath, err = identity.DefaultPath(); err != nil {
		return "", "", err
	}
	if trustPath, err = trust.DefaultPath(); err != nil {
		return "", "", err
	}
	return instPath, trustPath, nil
}
