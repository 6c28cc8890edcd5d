// Package sma implements a time-weighted simple moving average over a
// window of ticks, plus List, a collection of SMA instances keyed by
// period.
package sma

import (
	"fmt"

	"github.com/voltproto/tradecore/tick"
)

// SMA is a time-weighted moving average over the most recent period units
// of tick timestamp. The window is trimmed from the front as new ticks
// arrive; the most recently evicted tick is retained as referenceTick so the
// partial interval between the oldest retained tick and now-period is still
// accounted for.
type SMA struct {
	Period int64

	ticks         []tick.Tick
	referenceTick tick.Tick
}

// New returns an SMA with the given window period, in the same time unit as
// tick timestamps.
func New(period int64) *SMA {
	return &SMA{Period: period}
}

// Push appends t to the window and returns the updated average mid price.
// t.Timestamp must be strictly greater than the timestamp of the last tick
// pushed; violating this is a programming error and Push panics.
func (s *SMA) Push(t tick.Tick) int64 {
	s.appendChecked(t)

	if s.isOverflown() {
		s.referenceTick = s.trim()
	}

	if len(s.ticks) == 1 {
		return s.ticks[0].Mid()
	}

	return s.average()
}

// PushTick is Push's sibling: it returns a synthetic Tick applying the same
// weighted-average formula independently to bid and ask, with Timestamp set
// to the newest tick in the window.
func (s *SMA) PushTick(t tick.Tick) tick.Tick {
	s.appendChecked(t)

	if s.isOverflown() {
		s.referenceTick = s.trim()
	}

	if len(s.ticks) == 1 {
		return s.ticks[0]
	}

	return s.averageTick()
}

// Validate reports whether t would be accepted by Push/PushTick without
// panicking, letting a caller that can't guarantee ordering upstream check
// first instead of relying on the panic.
func (s *SMA) Validate(t tick.Tick) error {
	if n := len(s.ticks); n > 0 {
		last := s.ticks[n-1]
		if t.Timestamp <= last.Timestamp {
			return fmt.Errorf("sma: out-of-order tick: last timestamp %d, got %d", last.Timestamp, t.Timestamp)
		}
	}
	return nil
}

func (s *SMA) appendChecked(t tick.Tick) {
	if n := len(s.ticks); n > 0 {
		last := s.ticks[n-1]
		if t.Timestamp <= last.Timestamp {
			panic(fmt.Sprintf("sma: out-of-order tick: last timestamp %d, got %d", last.Timestamp, t.Timestamp))
		}
	}
	s.ticks = append(s.ticks, t)
}

// isOverflown reports whether the span between the newest and oldest
// retained ticks has reached or exceeded the window period.
func (s *SMA) isOverflown() bool {
	back := s.ticks[len(s.ticks)-1]
	front := s.ticks[0]
	return back.Timestamp-front.Timestamp >= s.Period
}

// trim pops ticks from the front of the window while it remains overflown,
// returning the last one popped.
func (s *SMA) trim() tick.Tick {
	var t tick.Tick
	for s.isOverflown() {
		t = s.ticks[0]
		s.ticks = s.ticks[1:]
	}
	return t
}

func (s *SMA) average() int64 {
	var pSum, tSum int64

	last := s.ticks[0]
	for _, t := range s.ticks[1:] {
		tDiff := t.Timestamp - last.Timestamp
		pSum += last.Mid() * tDiff
		tSum += tDiff
		last = t
	}

	if s.referenceTick.Bid != 0 {
		oldTime := s.Period - tSum
		pSum += oldTime * s.referenceTick.Mid()
		tSum = s.Period
	}

	return pSum / tSum
}

func (s *SMA) averageTick() tick.Tick {
	var bidSum, askSum, tSum int64

	last := s.ticks[0]
	for _, t := range s.ticks[1:] {
		tDiff := t.Timestamp - last.Timestamp
		bidSum += last.Bid * tDiff
		askSum += last.Ask * tDiff
		tSum += tDiff
		last = t
	}

	if s.referenceTick.Bid != 0 {
		oldTime := s.Period - tSum
		bidSum += oldTime * s.referenceTick.Bid
		askSum += oldTime * s.referenceTick.Ask
		tSum = s.Period
	}

	return tick.Tick{
		Bid:       bidSum / tSum,
		Ask:       askSum / tSum,
		Timestamp: s.ticks[len(s.ticks)-1].Timestamp,
	}
}
