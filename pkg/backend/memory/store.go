// Package memory is an in-process implementation of the realtime store
// contract. It keeps every path in key order and fans child-added events out
// to subscribers on their own goroutines.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"chatthread/pkg/backend"
)

// Store is a key-ordered, in-memory realtime store.
type Store struct {
	*backend.KeySource

	mu     sync.Mutex
	paths  map[string][]backend.Child
	subs   map[string]map[*subscription]struct{}
	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		KeySource: backend.NewKeySource(),
		paths:     make(map[string][]backend.Child),
		subs:      make(map[string]map[*subscription]struct{}),
	}
}

// ReadRange returns the last q.Limit children of q.Path before q.EndBefore.
func (s *Store) ReadRange(ctx context.Context, q backend.RangeQuery) ([]backend.Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, backend.ErrClosed
	}
	return backend.SelectRange(s.paths[q.Path], q), nil
}

// Write upserts value at path/key and notifies subscribers of new keys.
func (s *Store) Write(ctx context.Context, path, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return backend.ErrClosed
	}

	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	child := backend.Child{Key: key, Value: stored}

	children := s.paths[path]
	i := sort.Search(len(children), func(i int) bool { return children[i].Key >= key })
	if i < len(children) && children[i].Key == key {
		children[i] = child
		return nil
	}

	children = append(children, backend.Child{})
	copy(children[i+1:], children[i:])
	children[i] = child
	s.paths[path] = children

	for sub := range s.subs[path] {
		if key > sub.startAfter {
			sub.enqueue(child)
		}
	}
	return nil
}

// SubscribeChildAdded delivers every child of path with a key after startAfter,
// existing ones first, then new ones as they are written.
func (s *Store) SubscribeChildAdded(ctx context.Context, path, startAfter string, fn func(backend.Child)) (backend.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, backend.ErrClosed
	}

	sub := &subscription{
		store:      s,
		path:       path,
		startAfter: startAfter,
		fn:         fn,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, child := range s.paths[path] {
		if child.Key > startAfter {
			sub.enqueue(child)
		}
	}

	if s.subs[path] == nil {
		s.subs[path] = make(map[*subscription]struct{})
	}
	s.subs[path][sub] = struct{}{}

	go sub.run()
	return sub, nil
}

// Len returns the number of children stored under path.
func (s *Store) Len(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths[path])
}

// Close detaches all subscribers. Further calls fail with backend.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var subs []*subscription
	for _, set := range s.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

func (s *Store) detach(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.subs[sub.path]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.subs, sub.path)
		}
	}
}

type subscription struct {
	store      *Store
	path       string
	startAfter string
	fn         func(backend.Child)

	mu      sync.Mutex
	pending []backend.Child
	stopped bool

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// enqueue is called with the store lock held.
func (sub *subscription) enqueue(child backend.Child) {
	sub.mu.Lock()
	sub.pending = append(sub.pending, child)
	sub.mu.Unlock()

	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *subscription) run() {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}

		for {
			sub.mu.Lock()
			if sub.stopped || len(sub.pending) == 0 {
				sub.mu.Unlock()
				break
			}
			child := sub.pending[0]
			sub.pending = sub.pending[1:]
			sub.mu.Unlock()

			sub.fn(child)
		}
	}
}

// Unsubscribe stops delivery. A callback already running is allowed to finish.
func (sub *subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.stopped = true
		sub.pending = nil
		sub.mu.Unlock()

		close(sub.done)
		sub.store.detach(sub)
	})
}
