package testutil

import (
	"fmt"
	"sync"
)

// FixedOrigins generates sequential, predictable origin strings for
// registrations.
//
// This enables deterministic test execution and golden snapshot
// comparison: the same scenario with a fresh FixedOrigins produces
// byte-identical event logs. Production-like runs use
// simrt.UUIDv7Origins instead.
//
// Thread-safety: safe for concurrent use via an internal mutex.
type FixedOrigins struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedOrigins creates a generator producing "<prefix>-1",
// "<prefix>-2", ... An empty prefix defaults to "test-origin".
func NewFixedOrigins(prefix string) *FixedOrigins {
	if prefix == "" {
		prefix = "test-origin"
	}
	return &FixedOrigins{prefix: prefix}
}

// Generate returns the next origin string.
func (g *FixedOrigins) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
