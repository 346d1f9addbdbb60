package worker

import (
	"context"
	"sync"

	"github.com/leonardcser/flash-offline/internal/lifecycle"
)

// mailbox is an unbounded notification queue. push never blocks, so it is
// safe to call under the registration lock.
type mailbox struct {
	mu    sync.Mutex
	queue []lifecycle.Notification
	ready chan struct{}
}

func newMailbox() *mailbox { return &mailbox{ready: make(chan struct{}, 1)} }

func (m *mailbox) push(n lifecycle.Notification) {
	m.mu.Lock()
	m.queue = append(m.queue, n)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) next(ctx context.Context) (lifecycle.Notification, error) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			n := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()
		select {
		case <-m.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
