// Package backend defines the contract of the key-ordered realtime store the
// chat thread is built on.
package backend

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by stores that have been shut down.
var ErrClosed = errors.New("backend: store closed")

// Child is one keyed record under a path.
type Child struct {
	Key   string
	Value json.RawMessage
}

// RangeQuery selects the last Limit children of Path ordered by key, optionally
// restricted to keys strictly before EndBefore.
type RangeQuery struct {
	Path      string
	EndBefore string
	Limit     int
}

// Reader performs one-shot ranged reads. Results are ascending by key.
type Reader interface {
	ReadRange(ctx context.Context, q RangeQuery) ([]Child, error)
}

// Subscription is a live child-added stream. Unsubscribe stops further
// delivery and may be called more than once.
type Subscription interface {
	Unsubscribe()
}

// Subscriber opens live child-added streams. fn is invoked once per child whose
// key sorts after startAfter, in arrival order, including children that already
// existed when the subscription was opened.
type Subscriber interface {
	SubscribeChildAdded(ctx context.Context, path, startAfter string, fn func(Child)) (Subscription, error)
}

// KeyGenerator allocates unique, lexicographically time-ordered keys without writing.
type KeyGenerator interface {
	GenerateKey(path string) (string, error)
}

// Writer upserts one record at one path.
type Writer interface {
	Write(ctx context.Context, path, key string, value json.RawMessage) error
}

// Client is the full store surface consumed by the chat thread.
type Client interface {
	Reader
	Subscriber
	KeyGenerator
	Writer
}

// SelectRange applies q to children already sorted ascending by key.
func SelectRange(sorted []Child, q RangeQuery) []Child {
	end := len(sorted)
	if q.EndBefore != "" {
		end = 0
		for end < len(sorted) && sorted[end].Key < q.EndBefore {
			end++
		}
	}
	start := 0
	if q.Limit > 0 && end > q.Limit {
		start = end - q.Limit
	}
	out := make([]Child, end-start)
	copy(out, sorted[start:end])
	return out
}
