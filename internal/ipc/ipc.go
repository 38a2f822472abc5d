// Package ipc provides the local Unix-socket channel that CLI sub-commands
// (pair, status) use to talk to a running cursedboard daemon.
package ipc

import (
	"net"
	"os"
	"path/filepath"
)

// SocketPath returns the path of the daemon's control socket.
//
//   - $CURSEDBOARD_SOCKET when set
//   - $XDG_RUNTIME_DIR/cursedboard.sock on Linux sessions that export it
//   - $TMPDIR/cursedboard.sock otherwise
func SocketPath() string {
	if s := os.Getenv("CURSEDBOARD_SOCKET"); s != "" {
		return s
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "cursedboard.sock")
	}
	return filepath.Join(os.TempDir(), "cursedboard.sock")
}

// IsRunning reports whether a daemon appears to be listening on the control
// socket. A cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := net.Dial("unix", SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates a listener on the control socket, removing a stale socket
// file from a previous (crashed) run first.
func Listen() (net.Listener, error) {
	path := SocketPath()
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

// Dial connects to the control socket.
func Dial() (net.Conn, error) {
	return net.Dial("unix", SocketPath())
}
