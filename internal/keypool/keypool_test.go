package keypool

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/llm"
)

func TestNew_RequiresKeys(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNoKeys)

	_, err = New([]string{"", "  "})
	require.ErrorIs(t, err, ErrNoKeys)
}

func TestNext_RoundRobin(t *testing.T) {
	p, err := New([]string{"a", "b", "c"})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 6; i++ {
		k, err := p.Next()
		require.NoError(t, err)
		got = append(got, k)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
	assert.Equal(t, 2, p.UsageCount("a"))
}

func TestNext_CyclesAllNonExhaustedBeforeRepeating(t *testing.T) {
	// Every exhaustion pattern must still see each remaining key once
	// per cycle before any repeats.
	patterns := [][]string{
		{},
		{"a"},
		{"b"},
		{"a", "c"},
	}
	for _, exhausted := range patterns {
		p, err := New([]string{"a", "b", "c"})
		require.NoError(t, err)
		for _, k := range exhausted {
			p.MarkExhausted(k)
		}

		remaining := p.Available()
		seen := make(map[string]int)
		for i := 0; i < remaining; i++ {
			k, err := p.Next()
			require.NoError(t, err)
			seen[k]++
		}
		for k, n := range seen {
			assert.Equal(t, 1, n, "key %q repeated within one cycle (pattern %v)", k, exhausted)
		}
		assert.Len(t, seen, remaining)
	}
}

func TestNext_AllExhausted(t *testing.T) {
	p, err := New([]string{"a", "b"})
	require.NoError(t, err)

	p.MarkExhausted("a")
	p.MarkExhausted("b")
	p.MarkExhausted("b") // idempotent

	_, err = p.Next()
	require.ErrorIs(t, err, ErrAllKeysExhausted)
	assert.Equal(t, 0, p.Available())
}

func TestHandleUpstreamError(t *testing.T) {
	t.Run("quota exhaustion retires the key and recommends retry", func(t *testing.T) {
		p, err := New([]string{"a", "b"})
		require.NoError(t, err)

		retry := p.HandleUpstreamError("a", &llm.UpstreamAPIError{Status: 402, Message: "insufficient balance"})
		assert.True(t, retry)
		assert.Equal(t, 1, p.Available())

		k, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, "b", k)
	})

	t.Run("rate limit recommends retry without retiring", func(t *testing.T) {
		p, err := New([]string{"a"})
		require.NoError(t, err)

		retry := p.HandleUpstreamError("a", &llm.UpstreamAPIError{Status: 429})
		assert.True(t, retry)
		assert.Equal(t, 1, p.Available())
	})

	t.Run("other errors are not retry-recommended", func(t *testing.T) {
		p, err := New([]string{"a"})
		require.NoError(t, err)

		assert.False(t, p.HandleUpstreamError("a", &llm.UpstreamAPIError{Status: 500}))
		assert.False(t, p.HandleUpstreamError("a", errors.New("network down")))
		assert.Equal(t, 1, p.Available())
	})
}

func TestPool_ConcurrentAccess(t *testing.T) {
	p, err := New([]string{"a", "b", "c"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := p.Next()
			if err != nil {
				return
			}
			if i%7 == 0 {
				p.HandleUpstreamError(k, &llm.UpstreamAPIError{Status: 429})
			}
		}(i)
	}
	wg.Wait()

	// No key lost, no exhaustion marks from rate limits.
	assert.Equal(t, 3, p.Available())
	total := p.UsageCount("a") + p.UsageCount("b") + p.UsageCount("c")
	assert.Equal(t, 50, total)
}
