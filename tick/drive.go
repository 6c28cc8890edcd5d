package tick

import "context"

// produceFunc returns the next tick in a stream, or ok=false at end of
// stream, or an error if the backing medium failed.
type produceFunc func() (t Tick, ok bool, err error)

// drive runs the shared paused-on-open control loop used by every Source
// implementation: the stream starts paused and only emits after the first
// Resume; Pause/Resume toggle emission; Stop ends the stream immediately
// without emitting anything further.
func drive(ctx context.Context, policy Policy, control <-chan ControlEvent, next produceFunc) <-chan Tick {
	out := make(chan Tick)

	go func() {
		defer close(out)

		paused := true
		var prev Tick
		hasPrev := false

		for {
			if paused {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-control:
					if !ok {
						return
					}
					switch ev.Kind {
					case Resume:
						paused = false
					case Stop:
						return
					case Pause:
						// already paused
					}
					continue
				}
			}

			// Running: drain any pending control event without blocking,
			// then produce the next tick.
			select {
			case ev, ok := <-control:
				if !ok {
					return
				}
				switch ev.Kind {
				case Pause:
					paused = true
				case Stop:
					return
				case Resume:
					// already running
				}
				continue
			default:
			}

			t, ok, err := next()
			if err != nil || !ok {
				return
			}

			policy.Wait(prev, t, hasPrev)

			select {
			case out <- t:
				prev = t
				hasPrev = true
			case <-ctx.Done():
				return
			case ev, ok := <-control:
				if !ok {
					return
				}
				if ev.Kind == Stop {
					return
				}
				if ev.Kind == Pause {
					paused = true
				}
			}
		}
	}()

	return out
}
