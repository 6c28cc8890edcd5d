// Package simbroker provides an in-process simulated broker addressable by
// identifier, serving as a tick sink for backtests that route through it
// rather than to an external destination. Order-matching semantics are out
// of scope; a Simbroker's only load-bearing operation here is taking
// ownership of a tickstream.
package simbroker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/voltproto/tradecore/tick"
)

// Errors returned by Registry and Simbroker operations.
var (
	ErrNotFound          = errors.New("simbroker: not found")
	ErrAlreadyRegistered = errors.New("simbroker: tickstream already registered for this symbol")
)

// Simbroker is an in-process simulated broker. Settings is opaque
// configuration text supplied at creation time.
type Simbroker struct {
	ID       uuid.UUID
	Settings string

	mu      sync.Mutex
	claimed map[string]struct{}
}

func newSimbroker(settings string) *Simbroker {
	return &Simbroker{
		ID:       uuid.New(),
		Settings: settings,
		claimed:  make(map[string]struct{}),
	}
}

// RegisterTickstream hands ownership of stream to the broker. It may be
// called at most once per (broker, symbol) pair; a second registration for
// the same symbol is a programming error and returns ErrAlreadyRegistered.
func (s *Simbroker) RegisterTickstream(symbol string, stream <-chan tick.Tick) error {
	s.mu.Lock()
	if _, claimed := s.claimed[symbol]; claimed {
		s.mu.Unlock()
		return fmt.Errorf("%w: symbol %q", ErrAlreadyRegistered, symbol)
	}
	s.claimed[symbol] = struct{}{}
	s.mu.Unlock()

	go func() {
		for range stream {
			// Order-matching against the simulated book is out of scope;
			// consuming the stream is what keeps the upstream producer
			// from blocking on a full channel.
		}
	}()

	return nil
}

// Registry tracks every live Simbroker by id.
type Registry struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Simbroker
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uuid.UUID]*Simbroker)}
}

// Create allocates a new Simbroker and returns its id.
func (r *Registry) Create(settings string) uuid.UUID {
	sb := newSimbroker(settings)

	r.mu.Lock()
	r.byID[sb.ID] = sb
	r.mu.Unlock()

	return sb.ID
}

// Lookup returns the Simbroker for id, or nil if none exists.
func (r *Registry) Lookup(id uuid.UUID) *Simbroker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// ListIDs returns every tracked Simbroker id.
func (r *Registry) ListIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	return out
}
