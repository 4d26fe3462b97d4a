package network

import (
	"sync"
	"time"
)

// Loop is the single goroutine on which all protocol state is mutated.
// Connections, listeners and timers post closures here instead of touching
// shared state from their own goroutines.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
}

// Run drains posted tasks until Stop is called. It is intended to occupy one
// goroutine for the lifetime of the process.
func (l *Loop) Run() {
	for {
		select {
		case <-l.done:
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post schedules fn on the loop goroutine. Posts after Stop are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
	case l.tasks <- fn:
	}
}

// Stop terminates Run. Pending tasks are discarded.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Timer is a cancellable callback scheduled on the loop. Stop guarantees the
// callback will not run afterwards when called from the loop goroutine,
// which is where all owners live.
type Timer struct {
	mu      sync.Mutex
	stopped bool
	t       *time.Timer
}

// AfterFunc runs fn on the loop goroutine after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			tm.mu.Lock()
			stopped := tm.stopped
			tm.mu.Unlock()
			if !stopped {
				fn()
			}
		})
	})
	return tm
}

// Stop cancels the timer.
func (tm *Timer) Stop() {
	tm.mu.Lock()
	tm.stopped = true
	tm.mu.Unlock()
	tm.t.Stop()
}
