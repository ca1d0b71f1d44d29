package backend

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// KeySource hands out ULID keys. Keys from one source are strictly increasing,
// even within the same millisecond.
type KeySource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewKeySource creates a key source backed by crypto/rand.
func NewKeySource() *KeySource {
	return &KeySource{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// GenerateKey returns a new key. The path is not consulted: keys are unique
// across all paths.
func (k *KeySource) GenerateKey(path string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(k.now()), k.entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate key under %s: %w", path, err)
	}
	return id.String(), nil
}
