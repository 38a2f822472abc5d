package clip

import (
	"bytes"
	"log/slog"
	"sync"

	"golang.design/x/clipboard"
)

// System is the Provider backed by the real OS clipboard.
type System struct {
	mu   sync.Mutex
	last []byte
}

// New returns the system clipboard provider, or a memory-only fallback if
// the display environment is unavailable. clipboard.Init is called here
// rather than in init() so that CLI sub-commands (pair, status) never touch
// the display.
func New() Provider {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, relaying only", "err", err)
		return NewMemory()
	}
	return &System{last: clipboard.Read(clipboard.FmtText)}
}

func (s *System) Read() (string, error) {
	return string(clipboard.Read(clipboard.FmtText)), nil
}

func (s *System) Write(text string) error {
	clipboard.Write(clipboard.FmtText, []byte(text))
	s.mu.Lock()
	s.last = []byte(text)
	s.mu.Unlock()
	return nil
}

func (s *System) PollChange() (string, bool) {
	cur := clipboard.Read(clipboard.FmtText)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(cur) == 0 || bytes.Equal(cur, s.last) {
		return "", false
	}
	s.last = cur
	return string(cur), true
}
