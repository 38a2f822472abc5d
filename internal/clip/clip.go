// Package clip provides access to the system text clipboard and the sync
// loop that ties it to the peer mesh.
//
// The system backend uses golang.design/x/clipboard; when that cannot
// initialise (headless server, container, CI) a memory-only provider is
// substituted so the daemon still relays between peers.
package clip

import (
	"sync"
)

// Provider abstracts a platform clipboard.
//
// PollChange returns a value only when the clipboard differs from the last
// value this provider observed, and never returns empty content. Write
// counts as an observation: content applied through Write is not reported
// back by the next PollChange.
type Provider interface {
	Read() (string, error)
	Write(text string) error
	PollChange() (string, bool)
}

// Memory is an in-process Provider used on headless hosts and in tests.
type Memory struct {
	mu   sync.Mutex
	text string
	last string
}

// NewMemory returns an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *Memory) Write(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	m.last = text
	return nil
}

func (m *Memory) PollChange() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.text == m.last || m.text == "" {
		return "", false
	}
	m.last = m.text
	return m.text, true
}

// Set changes the clipboard as if the user had copied, so the next
// PollChange reports it. Test helper.
func (m *Memory) Set(text string) {
	m.mu.Lock()
	m.text = text
	m.mu.Unlock()
}
