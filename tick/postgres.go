package tick

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voltproto/tradecore/kv"
)

// PostgresSource replays a tick series stored as a single JSON blob under the
// key "ticks:<symbol>" in a kv.Store. Historical tick ingestion and the exact
// storage schema are an external collaborator's concern; this reads whatever
// was written there.
type PostgresSource struct {
	Store  kv.Store
	Symbol string
}

func NewPostgresSource(store kv.Store, symbol string) *PostgresSource {
	return &PostgresSource{Store: store, Symbol: symbol}
}

func (s *PostgresSource) Open(ctx context.Context, policy Policy, control <-chan ControlEvent) (<-chan Tick, error) {
	raw, err := s.Store.Get(ctx, "ticks:"+s.Symbol)
	if err != nil {
		return nil, fmt.Errorf("tick: load postgres series for %q: %w", s.Symbol, err)
	}

	var ticks []Tick
	if err := json.Unmarshal(raw, &ticks); err != nil {
		return nil, fmt.Errorf("tick: decode postgres series for %q: %w", s.Symbol, err)
	}

	i := 0
	next := func() (Tick, bool, error) {
		if i >= len(ticks) {
			return Tick{}, false, nil
		}
		t := ticks[i]
		i++
		return t, true, nil
	}

	return drive(ctx, policy, control, next), nil
}
