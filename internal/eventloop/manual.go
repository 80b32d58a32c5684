package eventloop

import (
	"sync"
	"time"
)

// Manual is a Loop driven explicitly by its owner, used by tests to
// step the editor deterministically. Post queues work from any
// goroutine; RunPending executes it on the calling goroutine. Do runs
// fn inline because the caller is, by construction, the loop.
type Manual struct {
	mu      sync.Mutex
	pending []func()
	notify  chan struct{}
	closed  bool
}

// NewManual creates an empty manual loop.
func NewManual() *Manual {
	return &Manual{notify: make(chan struct{}, 1)}
}

// Post queues fn.
func (m *Manual) Post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.pending = append(m.pending, fn)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn immediately on the calling goroutine.
func (m *Manual) Do(fn func()) bool {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return false
	}
	fn()
	return true
}

// RunPending runs queued functions, including any they post, until the
// queue is empty. Returns how many ran.
func (m *Manual) RunPending() int {
	ran := 0
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

// Await blocks until at least one function has been posted (or timeout
// elapses), then runs everything queued. Returns false on timeout.
func (m *Manual) Await(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if m.RunPending() > 0 {
			return true
		}
		select {
		case <-m.notify:
		case <-deadline.C:
			return m.RunPending() > 0
		}
	}
}

// Len reports the number of queued functions.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close rejects further posts and drops anything still queued.
func (m *Manual) Close() {
	m.mu.Lock()
	m.closed = true
	m.pending = nil
	m.mu.Unlock()
}
