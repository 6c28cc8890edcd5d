package simbroker_test

import (
	"testing"

	"github.com/voltproto/tradecore/simbroker"
	"github.com/voltproto/tradecore/tick"
)

func TestRegistryCreateLookup(t *testing.T) {
	reg := simbroker.NewRegistry()
	id := reg.Create(`{"leverage":50}`)

	sb := reg.Lookup(id)
	if sb == nil {
		t.Fatal("expected lookup to find the created simbroker")
	}
	if sb.ID != id {
		t.Errorf("sb.ID = %v, want %v", sb.ID, id)
	}
}

func TestRegistryLookupMiss(t *testing.T) {
	reg := simbroker.NewRegistry()
	var randomID [16]byte
	if sb := reg.Lookup(randomID); sb != nil {
		t.Error("expected nil for an unknown id")
	}
}

func TestRegistryListIDs(t *testing.T) {
	reg := simbroker.NewRegistry()
	a := reg.Create("{}")
	b := reg.Create("{}")

	ids := reg.ListIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	seen := map[string]bool{}
	for _, id := range ids {
		seen[id.String()] = true
	}
	if !seen[a.String()] || !seen[b.String()] {
		t.Error("ListIDs missing a created id")
	}
}

func TestRegisterTickstreamOnce(t *testing.T) {
	reg := simbroker.NewRegistry()
	id := reg.Create("{}")
	sb := reg.Lookup(id)

	stream := make(chan tick.Tick)
	close(stream)

	if err := sb.RegisterTickstream("EURUSD", stream); err != nil {
		t.Fatalf("first registration: %v", err)
	}

	stream2 := make(chan tick.Tick)
	defer close(stream2)

	err := sb.RegisterTickstream("EURUSD", stream2)
	if err == nil {
		t.Fatal("expected error on duplicate registration for the same symbol")
	}
}

func TestRegisterTickstreamDistinctSymbols(t *testing.T) {
	reg := simbroker.NewRegistry()
	id := reg.Create("{}")
	sb := reg.Lookup(id)

	s1 := make(chan tick.Tick)
	s2 := make(chan tick.Tick)
	defer close(s1)
	defer close(s2)

	if err := sb.RegisterTickstream("EURUSD", s1); err != nil {
		t.Fatalf("EURUSD registration: %v", err)
	}
	if err := sb.RegisterTickstream("GBPUSD", s2); err != nil {
		t.Fatalf("GBPUSD registration: %v", err)
	}
}
