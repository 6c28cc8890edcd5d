package sma

import (
	"sync"

	"go.uber.org/zap"

	"github.com/voltproto/tradecore/tick"
)

// entry pairs a period with the SMA tracking it.
type entry struct {
	period int64
	sma    *SMA
}

// List maintains a collection of SMA instances keyed by period. It is safe
// for concurrent use: a tick-processing loop typically calls PushAll/
// PushAllTick while a command dispatcher calls Add/Remove from AddSMA/
// RemoveSMA commands arriving on a different goroutine.
type List struct {
	mu      sync.RWMutex
	entries []entry
	log     *zap.Logger
}

// NewList returns an empty List. log may be nil, in which case a no-op
// logger is used.
func NewList(log *zap.Logger) *List {
	if log == nil {
		log = zap.NewNop()
	}
	return &List{log: log}
}

// PushAll fans t out to every tracked SMA.
func (l *List) PushAll(t tick.Tick) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		e.sma.Push(t)
	}
}

// PushAllTick fans t out to every tracked SMA and returns each one's
// synthetic output tick, keyed by period.
func (l *List) PushAllTick(t tick.Tick) map[int64]tick.Tick {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[int64]tick.Tick, len(l.entries))
	for _, e := range l.entries {
		out[e.period] = e.sma.PushTick(t)
	}
	return out
}

// Add starts tracking a new SMA with the given period.
func (l *List) Add(period int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{period: period, sma: New(period)})
}

// Remove stops tracking the SMA with the given period. Removing an absent
// period logs a warning rather than returning an error.
func (l *List) Remove(period int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.period == period {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
	l.log.Warn("sma: no SMA with this period currently tracked", zap.Int64("period", period))
}

// Get returns the SMA tracking period, or nil if none is tracked.
func (l *List) Get(period int64) *SMA {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.period == period {
			return e.sma
		}
	}
	return nil
}

// Periods returns the periods currently tracked, in insertion order.
func (l *List) Periods() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]int64, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.period
	}
	return out
}
