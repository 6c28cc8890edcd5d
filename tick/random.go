package tick

import (
	"context"
	"math/rand"
)

// RandomSource generates ticks with monotonically increasing timestamps
// starting at 1 and strictly positive bid/ask values, for a given symbol.
type RandomSource struct {
	Symbol string
	Seed   int64
}

// NewRandomSource returns a RandomSource seeded deterministically so runs
// are reproducible.
func NewRandomSource(symbol string, seed int64) *RandomSource {
	return &RandomSource{Symbol: symbol, Seed: seed}
}

func (s *RandomSource) Open(ctx context.Context, policy Policy, control <-chan ControlEvent) (<-chan Tick, error) {
	r := rand.New(rand.NewSource(s.Seed))
	ts := int64(0)

	next := func() (Tick, bool, error) {
		ts++
		bid := int64(r.Intn(1000) + 1)
		spread := int64(r.Intn(5) + 1)
		return Tick{Bid: bid, Ask: bid + spread, Timestamp: ts}, true, nil
	}

	return drive(ctx, policy, control, next), nil
}
