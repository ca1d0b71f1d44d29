// Package observable provides a channel-backed state cell with change
// notifications, in the spirit of a hot "current value" stream.
package observable

import "sync"

// Readable is the read side of a State, handed to consumers that must not
// change the value.
type Readable[T any] interface {
	Get() T
	Subscribe() (<-chan T, func())
}

// State holds a value and notifies subscribers when it changes. Subscribers
// always see the latest value; intermediate values may be skipped when a
// subscriber falls behind. Set never blocks.
type State[T any] struct {
	mu     sync.RWMutex
	value  T
	subs   map[int]chan T
	nextID int
}

// NewState creates a state cell holding initial.
func NewState[T any](initial T) *State[T] {
	return &State[T]{
		value: initial,
		subs:  make(map[int]chan T),
	}
}

// Get returns the current value.
func (s *State[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the current value and notifies subscribers.
func (s *State[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.broadcast(v)
}

// Update applies fn to the current value atomically and stores the result.
func (s *State[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = fn(s.value)
	s.broadcast(s.value)
	return s.value
}

// Subscribe returns a channel that immediately yields the current value and
// then the latest value after every change. cancel closes the channel.
func (s *State[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan T, 1)
	ch <- s.value

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (s *State[T]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// broadcast is called with s.mu held.
func (s *State[T]) broadcast(v T) {
	for _, ch := range s.subs {
		// Drop the stale value, if any, so the newest one always fits.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
