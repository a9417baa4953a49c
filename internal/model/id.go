package model

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator hands out ULIDs that sort in creation order, including ids
// minted within the same millisecond.
type IDGenerator struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

// NewIDGenerator returns a generator timestamped by now. A nil now uses the wall clock.
func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{
		now:     now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// New returns the next id.
func (g *IDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}
