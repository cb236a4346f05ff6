// Package loop provides the single goroutine on which every camera event runs.
package loop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Do once the loop has been stopped.
var ErrStopped = errors.New("loop: stopped")

// Loop runs posted closures one at a time, in the order they were posted. Post
// never blocks, so it is safe to call from inside a running closure and from
// any goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn. It reports false when the loop has already stopped and fn will
// never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop makes Run return after the closure currently executing. Queued closures
// are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

// Done is closed once Stop has been called.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run executes queued closures until Stop is called or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		fn, ok := l.next()
		if !ok {
			return nil
		}
		if fn != nil {
			fn()
			continue
		}

		select {
		case <-l.wake:
		case <-l.done:
			return nil
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		}
	}
}

// next pops the head of the queue. ok is false once the loop is stopped; fn is
// nil when the queue is empty.
func (l *Loop) next() (fn func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil, false
	}
	if len(l.queue) == 0 {
		return nil, true
	}
	fn = l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}
