package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexiqai/transcription-gateway/internal/capture"
)

// EventMsg wraps a capture controller event.
type EventMsg struct {
	Event capture.Event
}

// ActionErrorMsg reports a start or stop request the controller refused.
type ActionErrorMsg struct {
	Err error
}

// ClearNoticeMsg clears a transient notice.
type ClearNoticeMsg struct{}

// Bridge forwards controller events into a running program. Events that
// arrive before Attach are dropped.
type Bridge struct {
	mu sync.RWMutex
	p  *tea.Program
}

// Attach sets the program receiving events
func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.p = p
}

func (b *Bridge) OnEvent(e capture.Event) {
	b.mu.RLock()
	p := b.p
	b.mu.RUnlock()
	if p != nil {
		p.Send(EventMsg{Event: e})
	}
}
