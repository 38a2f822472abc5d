// Package trust persists the set of peers this installation has ever
// accepted. Entries are only added, never removed — the operator edits
// trusted.toml out-of-band to revoke a peer.
package trust

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// Peer is one trusted peer as stored on disk.
type Peer struct {
	Name      string `toml:"name"`
	FirstSeen int64  `toml:"first_seen"`
}

// storeFile is the on-disk shape. Keys are UUID strings; unknown fields in
// the file are tolerated by the TOML decoder.
type storeFile struct {
	Peers map[string]Peer `toml:"peers"`
}

// Store is the persistent trust set. One mutex spans lookup, insert, and
// save so a concurrent second handshake for the same peer cannot
// double-insert or interleave writes.
type Store struct {
	mu    sync.Mutex
	path  string
	peers map[uuid.UUID]Peer

	// set when the last save failed; the next mutation retries
	dirty bool
}

// Load reads the trust file at path. A missing file yields an empty store.
// A present but unreadable file is reported to the caller, who should log
// and continue with the returned empty store — trust state is recoverable,
// unlike the instance identity.
func Load(path string) (*Store, error) {
	s := &Store{path: path, peers: make(map[uuid.UUID]Peer)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read trust store %s: %w", path, err)
	}

	var f storeFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return s, fmt.Errorf("parse trust store %s: %w", path, err)
	}
	for k, p := range f.Peers {
		id, err := uuid.Parse(k)
		if err != nil {
			slog.Warn("skipping malformed trust entry", "key", k, "err", err)
			continue
		}
		s.peers[id] = p
	}
	return s, nil
}

// DefaultPath returns <user config dir>/cursedboard/trusted.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "cursedboard", "trusted.toml"), nil
}

// IsTrusted reports whether id has ever been accepted.
func (s *Store) IsTrusted(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[id]
	return ok
}

// Empty reports whether the store holds no peers.
func (s *Store) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers) == 0
}

// Admit decides whether a freshly-handshaken peer may join, inserting and
// persisting it when allowed. The whole decision runs under the store
// mutex: an already-trusted peer is admitted unconditionally; an unknown
// peer is admitted (and recorded) only when allowNew is set or the store is
// still empty.
func (s *Store) Admit(id uuid.UUID, name string, allowNew bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[id]; ok {
		if s.dirty {
			s.saveLocked()
		}
		return true
	}
	if !allowNew && len(s.peers) > 0 {
		return false
	}
	s.insertLocked(id, name)
	s.saveLocked()
	return true
}

// Trust inserts id with the current timestamp and persists. A no-op when
// the peer is already present: FirstSeen is never rewritten.
func (s *Store) Trust(id uuid.UUID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; ok {
		if s.dirty {
			s.saveLocked()
		}
		return
	}
	s.insertLocked(id, name)
	s.saveLocked()
}

// Get returns the stored entry for id, if any.
func (s *Store) Get(id uuid.UUID) (Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	return p, ok
}

// Len returns the number of trusted peers.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Store) insertLocked(id uuid.UUID, name string) {
	s.peers[id] = Peer{Name: name, FirstSeen: time.Now().Unix()}
}

// saveLocked writes the store atomically: temp sibling, then rename.
// A failed write is logged and retried on the next mutation; the in-memory
// state stays authoritative in the meantime.
func (s *Store) saveLocked() {
	f := storeFile{Peers: make(map[string]Peer, len(s.peers))}
	for id, p := range s.peers {
		f.Peers[id.String()] = p
	}
	data, err := toml.Marshal(f)
	if err != nil {
		slog.Warn("trust store serialise failed", "err", err)
		s.dirty = true
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		slog.Warn("trust store save failed", "path", s.path, "err", err)
		s.dirty = true
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		slog.Warn("trust store save failed", "path", s.path, "err", err)
		s.dirty = true
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		slog.Warn("trust store save failed", "path", s.path, "err", err)
		s.dirty = true
		return
	}
	s.dirty = false
}
