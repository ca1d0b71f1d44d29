package backend

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func children(keys ...string) []Child {
	out := make([]Child, 0, len(keys))
	for _, k := range keys {
		out = append(out, Child{Key: k, Value: []byte(`{}`)})
	}
	return out
}

func keysOf(cs []Child) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Key)
	}
	return out
}

func TestSelectRange(t *testing.T) {
	all := children("a", "b", "c", "d", "e")

	tests := []struct {
		name     string
		query    RangeQuery
		expected []string
	}{
		{name: "last two", query: RangeQuery{Limit: 2}, expected: []string{"d", "e"}},
		{name: "limit larger than data", query: RangeQuery{Limit: 10}, expected: []string{"a", "b", "c", "d", "e"}},
		{name: "no limit", query: RangeQuery{}, expected: []string{"a", "b", "c", "d", "e"}},
		{name: "end before is exclusive", query: RangeQuery{EndBefore: "d", Limit: 2}, expected: []string{"b", "c"}},
		{name: "end before first key", query: RangeQuery{EndBefore: "a", Limit: 2}, expected: []string{}},
		{name: "end before between keys", query: RangeQuery{EndBefore: "cc", Limit: 5}, expected: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, keysOf(SelectRange(all, tt.query)))
		})
	}
}

func TestSelectRange_DoesNotAliasInput(t *testing.T) {
	all := children("a", "b")
	out := SelectRange(all, RangeQuery{Limit: 2})
	out[0].Key = "z"
	assert.Equal(t, "a", all[0].Key)
}

func TestKeySource_KeysAreUniqueAndOrdered(t *testing.T) {
	ks := NewKeySource()

	keys := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		k, err := ks.GenerateKey("chat_app/chat_rooms/1_2")
		require.NoError(t, err)
		keys = append(keys, k)
	}

	assert.True(t, sort.StringsAreSorted(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
}

func TestKeySource_LaterTimeSortsAfter(t *testing.T) {
	ks := NewKeySource()
	base := time.Date(2025, 2, 9, 12, 0, 0, 0, time.UTC)

	ks.now = func() time.Time { return base.Add(time.Hour) }
	later, err := ks.GenerateKey("p")
	require.NoError(t, err)

	other := NewKeySource()
	other.now = func() time.Time { return base }
	earlier, err := other.GenerateKey("p")
	require.NoError(t, err)

	assert.Less(t, earlier, later, fmt.Sprintf("%s should sort before %s", earlier, later))
}
