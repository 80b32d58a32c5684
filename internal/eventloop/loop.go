// Package eventloop provides the single-threaded cooperative loop that
// owns an editing surface. Every suggestion transition, buffer mutation,
// and replica merge for one surface runs inside a posted function, so no
// two transitions can interleave mid-update. Work that must suspend
// (completion requests, transport I/O, timers) happens on other
// goroutines and posts its result back.
package eventloop

import (
	"fmt"
	"log/slog"
	"sync"
)

// Loop accepts functions to run serially.
type Loop interface {
	// Post queues fn to run on the loop. Returns false if the loop has
	// been closed and fn will never run.
	Post(fn func()) bool

	// Do runs fn on the loop and waits for it to finish. Returns false
	// if the loop is closed. Must not be called from inside the loop.
	Do(fn func()) bool
}

// Serial is a Loop backed by one goroutine. Posting never blocks; the
// queue is unbounded so timers and transport readers cannot stall on a
// busy surface.
type Serial struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	logger  *slog.Logger
}

// NewSerial starts a loop goroutine. Panics inside posted functions are
// recovered and logged so one faulty handler cannot kill the surface.
func NewSerial(logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	loop := &Serial{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go loop.run()
	return loop
}

// Post queues fn.
func (l *Serial) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and blocks until it returns.
func (l *Serial) Do(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		// The loop drains its queue before exiting, so fn has either
		// run or the loop died mid-panic.
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

// Close stops accepting work, runs what is already queued, and waits
// for the loop goroutine to exit. Safe to call more than once.
func (l *Serial) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Serial) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			batch := l.pending
			l.pending = nil
			closed := l.closed
			l.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, fn := range batch {
				l.invoke(fn)
			}
		}
	}
}

func (l *Serial) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
