// Package signal provides typed observer lists with persistent and one-shot
// subscriptions.
package signal

import "sync"

// Binding identifies one subscription. Detach is safe to call more than once
// and on a nil Binding.
type Binding struct {
	detach func()
}

// Detach removes the subscription. A detached one-shot listener that has
// not fired yet never fires.
func (b *Binding) Detach() {
	if b == nil || b.detach == nil {
		return
	}
	b.detach()
}

type listener[T any] struct {
	id   uint64
	fn   func(T)
	once bool
}

// Signal is a list of listeners invoked synchronously, in subscription
// order, by Dispatch. The zero value is ready to use.
type Signal[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
}

// Add subscribes fn for every dispatch until detached.
func (s *Signal[T]) Add(fn func(T)) *Binding { return s.add(fn, false) }

// Once subscribes fn for the next dispatch only.
func (s *Signal[T]) Once(fn func(T)) *Binding { return s.add(fn, true) }

func (s *Signal[T]) add(fn func(T), once bool) *Binding {
	if fn == nil {
		return &Binding{}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener[T]{id: id, fn: fn, once: once})
	s.mu.Unlock()
	return &Binding{detach: func() { s.remove(id) }}
}

func (s *Signal[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Dispatch calls every listener with v. A one-shot listener is removed
// right before it runs, so a re-entrant Dispatch cannot fire it twice.
// Listeners added during dispatch are not called for this dispatch, and
// listeners detached during dispatch are skipped.
func (s *Signal[T]) Dispatch(v T) {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	snapshot := make([]listener[T], len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	for _, l := range snapshot {
		if !s.take(l.id, l.once) {
			continue
		}
		l.fn(v)
	}
}

// take reports whether listener id is still subscribed, removing it when
// it is one-shot.
func (s *Signal[T]) take(id uint64, once bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.id != id {
			continue
		}
		if once {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
		}
		return true
	}
	return false
}

// DetachAll removes every listener.
func (s *Signal[T]) DetachAll() {
	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()
}

// Len reports the number of subscribed listeners.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
