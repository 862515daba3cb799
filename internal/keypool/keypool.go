// Package keypool owns the set of interchangeable upstream credentials
// used by the pipeline. The pool is the only cross-task shared mutable
// resource: all in-flight chunk analyses in a batch draw keys from it
// concurrently, so every mutation is serialized behind one mutex.
package keypool

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/llm"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
)

var (
	// ErrNoKeys is a configuration error: the pool cannot be built
	// without at least one non-empty credential.
	ErrNoKeys = errors.New("keypool: no API keys configured")

	// ErrAllKeysExhausted means every credential has been retired for
	// quota exhaustion. Fatal for the invocation once no retries remain.
	ErrAllKeysExhausted = errors.New("keypool: all API keys exhausted")
)

type entry struct {
	key        string
	usageCount int
	exhausted  bool
}

// Pool rotates credentials round-robin, tracks usage and remembers which
// credentials were retired. Callers must not assume exclusive ownership
// of a returned key; the same key may be handed to concurrent tasks.
type Pool struct {
	mu      sync.Mutex
	entries []*entry
	cursor  int
}

// New builds a pool from the configured credentials, dropping empty
// strings. Fails fast with ErrNoKeys when nothing usable remains.
func New(keys []string) (*Pool, error) {
	p := &Pool{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			p.entries = append(p.entries, &entry{key: k})
		}
	}
	if len(p.entries) == 0 {
		return nil, ErrNoKeys
	}
	return p, nil
}

// Next returns the next non-exhausted credential in round-robin order.
// The cursor always advances, including past exhausted entries, so the
// rotation stays fair for any exhaustion pattern.
func (p *Pool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.entries); i++ {
		e := p.entries[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.entries)
		if e.exhausted {
			continue
		}
		e.usageCount++
		return e.key, nil
	}
	return "", ErrAllKeysExhausted
}

// MarkExhausted retires a credential. Idempotent; unknown keys are
// ignored.
func (p *Pool) MarkExhausted(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if e.key == key && !e.exhausted {
			e.exhausted = true
			logging.Get(logging.CategoryKeyPool).Warnw("api key exhausted",
				"key", maskKey(key), "remaining", p.availableLocked())
		}
	}
}

// Available reports how many credentials are still usable.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableLocked()
}

func (p *Pool) availableLocked() int {
	n := 0
	for _, e := range p.entries {
		if !e.exhausted {
			n++
		}
	}
	return n
}

// UsageCount returns how many times a credential has been handed out.
func (p *Pool) UsageCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.key == key {
			return e.usageCount
		}
	}
	return 0
}

// HandleUpstreamError classifies an error observed while using a key and
// reports whether the caller should retry with a (possibly different)
// credential. Quota exhaustion retires the key; a rate limit recommends
// retry without retiring it; anything else is not retry-recommended.
func (p *Pool) HandleUpstreamError(key string, err error) bool {
	var apiErr *llm.UpstreamAPIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch {
	case apiErr.IsQuotaExhausted():
		p.MarkExhausted(key)
		return true
	case apiErr.IsRateLimited():
		logging.Get(logging.CategoryKeyPool).Debugw("rate limited",
			"key", maskKey(key), "status", apiErr.Status)
		return true
	default:
		return false
	}
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return fmt.Sprintf("%s...%s", key[:4], key[len(key)-4:])
}
