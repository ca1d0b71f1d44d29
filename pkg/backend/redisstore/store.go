// Package redisstore implements the realtime store contract on Redis. Each
// path is a lexicographically ordered sorted set of keys, a hash of records
// and a pub/sub channel announcing new keys.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chatthread/pkg/backend"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Store is a Redis-backed realtime store.
type Store struct {
	*backend.KeySource

	client *redis.Client
	logger *logrus.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// New connects to redisURL and verifies the connection.
func New(ctx context.Context, redisURL string, logger *logrus.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing client. The store takes ownership of it.
func NewWithClient(client *redis.Client, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		KeySource: backend.NewKeySource(),
		client:    client,
		logger:    logger,
		subs:      make(map[*subscription]struct{}),
	}
}

// keysKey returns the sorted set holding every record key under path.
func keysKey(path string) string {
	return fmt.Sprintf("chat:%s:keys", path)
}

// recordsKey returns the hash holding record values under path.
func recordsKey(path string) string {
	return fmt.Sprintf("chat:%s:records", path)
}

// addedChannel returns the channel new keys under path are published on.
func addedChannel(path string) string {
	return fmt.Sprintf("chat:%s:added", path)
}

// exclusiveMax and exclusiveMin build ZRANGEBYLEX bounds.
func exclusiveMax(endBefore string) string {
	if endBefore == "" {
		return "+"
	}
	return "(" + endBefore
}

func exclusiveMin(startAfter string) string {
	if startAfter == "" {
		return "-"
	}
	return "(" + startAfter
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ReadRange returns the last q.Limit children of q.Path before q.EndBefore,
// ascending by key.
func (s *Store) ReadRange(ctx context.Context, q backend.RangeQuery) ([]backend.Child, error) {
	if s.isClosed() {
		return nil, backend.ErrClosed
	}

	by := &redis.ZRangeBy{Min: "-", Max: exclusiveMax(q.EndBefore)}
	if q.Limit > 0 {
		by.Count = int64(q.Limit)
	}
	keys, err := s.client.ZRevRangeByLex(ctx, keysKey(q.Path), by).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read keys under %s: %w", q.Path, err)
	}

	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return s.fetch(ctx, q.Path, keys)
}

// fetch loads the records for keys, preserving order. Keys whose record is
// missing are skipped.
func (s *Store) fetch(ctx context.Context, path string, keys []string) ([]backend.Child, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, recordsKey(path), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read records under %s: %w", path, err)
	}

	children := make([]backend.Child, 0, len(keys))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		children = append(children, backend.Child{Key: keys[i], Value: json.RawMessage(str)})
	}
	return children, nil
}

// Write upserts the record at path/key and announces the key if it is new.
func (s *Store) Write(ctx context.Context, path, key string, value json.RawMessage) error {
	if s.isClosed() {
		return backend.ErrClosed
	}

	var added *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recordsKey(path), key, string(value))
		added = pipe.ZAdd(ctx, keysKey(path), redis.Z{Score: 0, Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s under %s: %w", key, path, err)
	}

	if added.Val() == 0 {
		return nil
	}
	if err := s.client.Publish(ctx, addedChannel(path), key).Err(); err != nil {
		return fmt.Errorf("failed to announce %s under %s: %w", key, path, err)
	}
	return nil
}

// SubscribeChildAdded follows the added channel for path. Children already
// stored after startAfter are delivered first; keys seen during that backfill
// are not delivered twice.
func (s *Store) SubscribeChildAdded(ctx context.Context, path, startAfter string, fn func(backend.Child)) (backend.Subscription, error) {
	if s.isClosed() {
		return nil, backend.ErrClosed
	}

	pubsub := s.client.Subscribe(ctx, addedChannel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		store:      s,
		path:       path,
		startAfter: startAfter,
		fn:         fn,
		pubsub:     pubsub,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = pubsub.Close()
		return nil, backend.ErrClosed
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.run(runCtx)
	return sub, nil
}

// Close stops every subscription and closes the client. It is safe to call
// more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
		<-sub.done
	}
	return s.client.Close()
}

func (s *Store) detach(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

type subscription struct {
	store      *Store
	path       string
	startAfter string
	fn         func(backend.Child)
	pubsub     *redis.PubSub

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (sub *subscription) run(ctx context.Context) {
	defer close(sub.done)

	backfilled, err := sub.backfill(ctx)
	if err != nil && ctx.Err() == nil {
		sub.store.logger.WithError(err).WithField("path", sub.path).Warn("Subscription backfill failed")
	}

	announcements := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-announcements:
			if !ok {
				return
			}
			key := msg.Payload
			if key <= sub.startAfter {
				continue
			}
			if _, seen := backfilled[key]; seen {
				delete(backfilled, key)
				continue
			}
			sub.deliver(ctx, []string{key})
		}
	}
}

func (sub *subscription) backfill(ctx context.Context) (map[string]struct{}, error) {
	keys, err := sub.store.client.ZRangeByLex(ctx, keysKey(sub.path), &redis.ZRangeBy{
		Min: exclusiveMin(sub.startAfter),
		Max: "+",
	}).Result()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	sub.deliver(ctx, keys)
	return seen, nil
}

func (sub *subscription) deliver(ctx context.Context, keys []string) {
	children, err := sub.store.fetch(ctx, sub.path, keys)
	if err != nil {
		if ctx.Err() == nil {
			sub.store.logger.WithError(err).WithField("path", sub.path).Warn("Failed to load announced records")
		}
		return
	}
	for _, child := range children {
		if ctx.Err() != nil {
			return
		}
		sub.fn(child)
	}
}

// Unsubscribe stops delivery. A callback already running may finish.
func (sub *subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.cancel()
		_ = sub.pubsub.Close()
		sub.store.detach(sub)
	})
}
