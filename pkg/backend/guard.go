package backend

import (
	"context"
	"encoding/json"

	"chatthread/pkg/circuitbreaker"
)

// Guarded routes reads, writes and subscription attempts through a circuit
// breaker so a failing remote store is not hit by every open thread. Key
// generation is local and passes straight through.
type Guarded struct {
	Client
	breaker *circuitbreaker.Breaker
}

// Guard wraps client with breaker.
func Guard(client Client, breaker *circuitbreaker.Breaker) *Guarded {
	return &Guarded{Client: client, breaker: breaker}
}

// Breaker returns the breaker guarding the client.
func (g *Guarded) Breaker() *circuitbreaker.Breaker {
	return g.breaker
}

func (g *Guarded) ReadRange(ctx context.Context, q RangeQuery) ([]Child, error) {
	var children []Child
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		children, err = g.Client.ReadRange(ctx, q)
		return err
	})
	return children, err
}

func (g *Guarded) SubscribeChildAdded(ctx context.Context, path, startAfter string, fn func(Child)) (Subscription, error) {
	var sub Subscription
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		sub, err = g.Client.SubscribeChildAdded(ctx, path, startAfter, fn)
		return err
	})
	return sub, err
}

func (g *Guarded) Write(ctx context.Context, path, key string, value json.RawMessage) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.Client.Write(ctx, path, key, value)
	})
}
