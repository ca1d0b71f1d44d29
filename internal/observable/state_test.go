package observable

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestState_GetSet(t *testing.T) {
	s := NewState(false)
	assert.False(t, s.Get())

	s.Set(true)
	assert.True(t, s.Get())
}

func TestState_Update(t *testing.T) {
	s := NewState([]string{"b"})
	got := s.Update(func(cur []string) []string {
		return append([]string{"a"}, cur...)
	})

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, []string{"a", "b"}, s.Get())
}

func TestState_SubscribeReceivesCurrentValueFirst(t *testing.T) {
	s := NewState(7)
	ch, cancel := s.Subscribe()
	defer cancel()

	assert.Equal(t, 7, receive(t, ch))
}

func TestState_SubscriberSeesLatestValue(t *testing.T) {
	s := NewState(0)
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 1; i <= 10; i++ {
		s.Set(i)
	}

	assert.Equal(t, 10, receive(t, ch))
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestState_MultipleSubscribers(t *testing.T) {
	s := NewState("")
	a, cancelA := s.Subscribe()
	defer cancelA()
	b, cancelB := s.Subscribe()
	defer cancelB()

	receive(t, a)
	receive(t, b)

	s.Set("hello")
	assert.Equal(t, "hello", receive(t, a))
	assert.Equal(t, "hello", receive(t, b))
	assert.Equal(t, 2, s.Subscribers())
}

func TestState_CancelClosesChannelAndIsIdempotent(t *testing.T) {
	s := NewState(1)
	ch, cancel := s.Subscribe()
	receive(t, ch)

	cancel()
	assert.NotPanics(t, cancel)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, s.Subscribers())

	assert.NotPanics(t, func() { s.Set(2) })
}

func TestState_ConcurrentWritersDoNotBlock(t *testing.T) {
	s := NewState(0)
	_, cancel := s.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(v int) int { return v + 1 })
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.Get())
}
