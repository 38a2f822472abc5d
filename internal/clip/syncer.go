package clip

import (
	"context"
	"log/slog"
	"time"

	"go.klb.dev/cursedboard/internal/peer"
)

// Broadcaster fans one local edit out to every connected peer.
type Broadcaster interface {
	Broadcast(peer.Edit)
}

// Syncer drives the two clipboard loops: polling the local provider for
// edits to broadcast, and applying remote edits from the peer event stream.
type Syncer struct {
	provider Provider
	bc       Broadcaster
	events   <-chan peer.Event
	poll     time.Duration
	log      *slog.Logger

	// timestamp of the newest edit applied or observed, unix ms; remote
	// edits older than this lose the last-writer-wins tiebreak
	latest uint64
}

// NewSyncer wires a provider to the mesh. events is the manager's inbound
// stream; poll is the local change-detection interval.
func NewSyncer(provider Provider, bc Broadcaster, events <-chan peer.Event, poll time.Duration) *Syncer {
	return &Syncer{
		provider: provider,
		bc:       bc,
		events:   events,
		poll:     poll,
		log:      slog.With("subsystem", "clipboard"),
	}
}

// Run loops until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	t := time.NewTicker(s.poll)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-t.C:
			content, ok := s.provider.PollChange()
			if !ok {
				continue
			}
			ts := uint64(time.Now().UnixMilli())
			if ts > s.latest {
				s.latest = ts
			}
			s.log.Debug("local clipboard changed, broadcasting", "bytes", len(content))
			s.bc.Broadcast(peer.Edit{Content: content, Timestamp: ts})

		case ev, ok := <-s.events:
			if !ok {
				return nil
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Syncer) handleEvent(ev peer.Event) {
	switch ev.Kind {
	case peer.EventConnected:
		s.log.Info("peer connected", "peer", ev.ID, "name", ev.Name)

	case peer.EventDisconnected:
		s.log.Info("peer disconnected", "peer", ev.ID)

	case peer.EventClipboard:
		if ev.Timestamp < s.latest {
			s.log.Debug("stale remote edit, keeping local", "theirs", ev.Timestamp, "ours", s.latest)
			return
		}
		if err := s.provider.Write(ev.Content); err != nil {
			s.log.Error("clipboard write failed", "err", err)
			return
		}
		s.latest = ev.Timestamp
		s.log.Debug("applied remote clipboard", "bytes", len(ev.Content), "timestamp", ev.Timestamp)
	}
}
