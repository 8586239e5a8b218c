package chat

import (
	"context"
	"sync"
)

// waiters tracks callers blocked on a server acknowledgement per channel.
type waiters struct {
	mu sync.Mutex
	m  map[string][]chan struct{}
}

func newWaiters() *waiters {
	return &waiters{m: make(map[string][]chan struct{})}
}

// add registers a waiter for the normalized channel ch.
func (w *waiters) add(ch string) chan struct{} {
	ack := make(chan struct{})
	w.mu.Lock()
	w.m[ch] = append(w.m[ch], ack)
	w.mu.Unlock()
	return ack
}

// release wakes every waiter registered for ch.
func (w *waiters) release(ch string) {
	w.mu.Lock()
	pending := w.m[ch]
	delete(w.m, ch)
	w.mu.Unlock()
	for _, ack := range pending {
		close(ack)
	}
}

// drop forgets ack after its caller gave up.
func (w *waiters) drop(ch string, ack chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending := w.m[ch]
	for i, a := range pending {
		if a == ack {
			w.m[ch] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	if len(w.m[ch]) == 0 {
		delete(w.m, ch)
	}
}

func (w *waiters) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.m)
}

// await registers a waiter for ch, runs send and blocks until the server
// acknowledged, the connection ended or ctx is done.
func (w *waiters) await(ctx context.Context, done <-chan struct{}, ch string, send func()) error {
	ack := w.add(ch)
	send()
	select {
	case <-ack:
		return nil
	case <-done:
		w.drop(ch, ack)
		return ErrNotConnected
	case <-ctx.Done():
		w.drop(ch, ack)
		return ctx.Err()
	}
}
