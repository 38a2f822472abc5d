// Package discovery announces this instance over link-local multicast DNS
// and browses for sibling instances on the same network.
//
// One service of type _cursedboard._tcp is registered with the instance
// identity, display name, version, and group carried in TXT records. The
// browser parses resolved siblings into Peer values on a bounded
// channel consumed by the connection manager.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/zeroconf/v2"

	"go.klb.dev/cursedboard/internal/identity"
)

const (
	serviceType = "_cursedboard._tcp"
	domain      = "local."

	peerChanSize = 32
)

// Peer is a sibling instance resolved from mDNS, alive only until the
// connection manager consumes it.
type Peer struct {
	ID    uuid.UUID
	Name  string
	Addr  string // host:port
	Group string
}

// Service is the mDNS announcer and browser.
type Service struct {
	inst identity.Instance
	log  *slog.Logger

	server *zeroconf.Server
	out    chan Peer

	mu   sync.Mutex
	seen map[uuid.UUID]struct{}
}

// New registers the mDNS service. Registration failure at startup is fatal
// for the daemon; nothing else can bring peers together.
func New(inst identity.Instance, port int, version string) (*Service, error) {
	instanceName := fmt.Sprintf("%s_%s", inst.DeviceName, inst.ID)
	txt := []string{
		"id=" + inst.ID.String(),
		"name=" + inst.DeviceName,
		"ver=" + version,
		"group=" + inst.Group,
		"features=text",
	}

	server, err := zeroconf.Register(instanceName, serviceType, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	slog.Info("registered mDNS service", "instance", instanceName, "port", port)
	return &Service{
		inst:   inst,
		log:    slog.With("subsystem", "discovery"),
		server: server,
		out:    make(chan Peer, peerChanSize),
		seen:   make(map[uuid.UUID]struct{}),
	}, nil
}

// Peers returns the channel of resolved siblings.
func (s *Service) Peers() <-chan Peer { return s.out }

// Run browses for siblings until ctx is cancelled. Browse failures after a
// successful registration are reported once; the announcer is left in its
// last state.
func (s *Service) Run(ctx context.Context) error {
	entries := make(chan *zeroconf.ServiceEntry, peerChanSize)

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, serviceType, domain, entries)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-browseErr:
			if err != nil && ctx.Err() == nil {
				s.log.Error("mDNS browse failed", "err", err)
			}
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			s.handleEntry(entry)
		}
	}
}

func (s *Service) handleEntry(entry *zeroconf.ServiceEntry) {
	peer, ok := ParseEntry(entry, s.inst.ID)
	if !ok {
		return
	}

	s.mu.Lock()
	if _, dup := s.seen[peer.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[peer.ID] = struct{}{}
	s.mu.Unlock()

	s.log.Info("discovered peer", "peer", peer.ID, "name", peer.Name, "addr", peer.Addr)
	select {
	case s.out <- peer:
	default:
		// Consumer is not draining; the peer will be re-emitted after a
		// Forget or on the next process run.
		s.log.Warn("discovery channel full, dropping", "peer", peer.ID)
		s.forget(peer.ID)
	}
}

// Forget clears id from the seen-set so a later re-resolution of the same
// service emits it again. The manager calls this when a connection ends,
// letting the next mDNS refresh trigger a redial.
func (s *Service) Forget(id uuid.UUID) {
	s.forget(id)
}

func (s *Service) forget(id uuid.UUID) {
	s.mu.Lock()
	delete(s.seen, id)
	s.mu.Unlock()
}

// Shutdown deregisters the mDNS service.
func (s *Service) Shutdown() {
	s.server.Shutdown()
}

// ParseEntry extracts a Peer from a resolved mDNS entry. The entry is
// dropped (ok=false) when the id TXT record is missing or malformed, when
// it names selfID, or when no address was resolved. IPv4 is preferred.
func ParseEntry(entry *zeroconf.ServiceEntry, selfID uuid.UUID) (Peer, bool) {
	txt := parseTXT(entry.Text)

	raw, ok := txt["id"]
	if !ok {
		return Peer{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		slog.Debug("ignoring service with malformed id", "instance", entry.Instance, "err", err)
		return Peer{}, false
	}
	if id == selfID {
		return Peer{}, false
	}

	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return Peer{}, false
	}

	name := txt["name"]
	if name == "" {
		name = entry.Instance
	}

	return Peer{
		ID:    id,
		Name:  name,
		Addr:  net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
		Group: txt["group"],
	}, true
}

func parseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		k, v, ok := strings.Cut(r, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}
