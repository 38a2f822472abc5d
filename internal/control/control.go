// Package control implements the daemon's local control surface: one JSON
// request line in, one JSON response line out, over the IPC socket. It is
// how `cursedboard pair` and `cursedboard status` reach a running daemon.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/cursedboard/internal/ipc"
	"go.klb.dev/cursedboard/internal/manager"
)

const requestTimeout = 5 * time.Second

// Request is one control operation.
type Request struct {
	Op      string `json:"op"` // "pair" | "status"
	Seconds int    `json:"seconds,omitempty"`
}

// Response answers a Request.
type Response struct {
	OK    string `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`

	// status
	ID      uuid.UUID            `json:"id,omitzero"`
	Name    string               `json:"name,omitempty"`
	Group   string               `json:"group,omitempty"`
	Pairing bool                 `json:"pairing,omitempty"`
	Peers   []manager.PeerStatus `json:"peers,omitempty"`
}

// Server answers control requests against a Manager.
type Server struct {
	mgr *manager.Manager
	ln  net.Listener
	log *slog.Logger
}

// NewServer wraps an IPC listener.
func NewServer(mgr *manager.Manager, ln net.Listener) *Server {
	return &Server{mgr: mgr, ln: ln, log: slog.With("subsystem", "control")}
}

// Serve accepts control connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	for {
		c, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("control accept: %w", err)
		}
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(requestTimeout))

	var req Request
	if err := json.NewDecoder(bufio.NewReader(c)).Decode(&req); err != nil {
		s.log.Warn("bad control request", "err", err)
		return
	}

	resp := s.dispatch(req)
	if err := json.NewEncoder(c).Encode(resp); err != nil {
		s.log.Warn("control response failed", "err", err)
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Op {
	case "pair":
		secs := req.Seconds
		if secs <= 0 {
			secs = 60
		}
		s.mgr.EnablePairing(time.Duration(secs) * time.Second)
		return Response{OK: fmt.Sprintf("pairing enabled for %ds", secs)}

	case "status":
		inst := s.mgr.Instance()
		return Response{
			ID:      inst.ID,
			Name:    inst.DeviceName,
			Group:   inst.Group,
			Pairing: s.mgr.PairingActive(),
			Peers:   s.mgr.Peers(),
		}

	default:
		return Response{Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

// Do sends one request to a running daemon and returns its response.
func Do(req Request) (Response, error) {
	c, err := ipc.Dial()
	if err != nil {
		return Response{}, fmt.Errorf("no running daemon at %s: %w", ipc.SocketPath(), err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(requestTimeout))

	if err := json.NewEncoder(c).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(bufio.NewReader(c)).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}
