package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voltproto/tradecore/kv"
	"github.com/voltproto/tradecore/pubsub"
	"github.com/voltproto/tradecore/simbroker"
	"github.com/voltproto/tradecore/tick"
)

// Errors returned by Engine operations.
var ErrNotFound = errors.New("backtest: no backtest with that id")

// State is a backtest's position in its lifecycle.
type State int

const (
	StatePaused State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "Paused"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Handle is the engine's record of one running backtest. It begins Paused
// the moment Start returns, since the underlying tick source opens paused.
type Handle struct {
	ID           uuid.UUID
	Symbol       string
	BacktestType BacktestType
	DataSource   DataSource
	DataDest     DataDest

	control chan tick.ControlEvent
	cancel  context.CancelFunc
	group   *errgroup.Group

	mu    sync.Mutex
	state State
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// View is a snapshot of a Handle suitable for encoding in a ListBacktests
// response.
type View struct {
	ID           uuid.UUID
	Symbol       string
	BacktestType BacktestType
	DataSource   DataSource
	DataDest     DataDest
	State        State
}

// Engine runs and supervises backtests.
type Engine struct {
	mu      sync.RWMutex
	handles map[uuid.UUID]*Handle

	simbrokers *simbroker.Registry
	broker     pubsub.Broker // substrate for RedisChannel sources/sinks, may be nil
	store      kv.Store      // backing store for Postgres sources, may be nil
	log        *zap.Logger
}

// New returns an Engine backed by the given simbroker registry, an optional
// pubsub broker for RedisChannel sources/sinks, and an optional kv.Store for
// Postgres sources. log may be nil.
func New(simbrokers *simbroker.Registry, broker pubsub.Broker, store kv.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		handles:    make(map[uuid.UUID]*Handle),
		simbrokers: simbrokers,
		broker:     broker,
		store:      store,
		log:        log,
	}
}

// Start resolves def's source and destination, opens the tick stream paused,
// starts its pump task, and registers a handle under a freshly minted id.
func (e *Engine) Start(ctx context.Context, def Definition) (uuid.UUID, error) {
	source, err := e.resolveSource(def)
	if err != nil {
		return uuid.Nil, fmt.Errorf("backtest: resolve data source: %w", err)
	}

	control := make(chan tick.ControlEvent, 5)
	policy := def.BacktestType.toPolicy()

	pumpCtx, cancel := context.WithCancel(context.Background())

	stream, err := source.Open(pumpCtx, policy, control)
	if err != nil {
		cancel()
		return uuid.Nil, fmt.Errorf("backtest: open tick source: %w", err)
	}

	id := uuid.New()
	h := &Handle{
		ID:           id,
		Symbol:       def.Symbol,
		BacktestType: def.BacktestType,
		DataSource:   def.DataSource,
		DataDest:     def.DataDest,
		control:      control,
		cancel:       cancel,
		state:        StatePaused,
	}

	if def.DataDest.Kind == DestSimBroker {
		sbID, err := uuid.Parse(def.DataDest.SimbrokerID)
		if err != nil {
			cancel()
			return uuid.Nil, fmt.Errorf("backtest: malformed simbroker id: %w", err)
		}
		sb := e.simbrokers.Lookup(sbID)
		if sb == nil {
			cancel()
			return uuid.Nil, fmt.Errorf("backtest: %w: simbroker %s", simbroker.ErrNotFound, sbID)
		}
		if err := sb.RegisterTickstream(def.Symbol, stream); err != nil {
			cancel()
			return uuid.Nil, err
		}

		g, _ := errgroup.WithContext(pumpCtx)
		h.group = g
	} else {
		sink, err := e.resolveSink(def)
		if err != nil {
			cancel()
			return uuid.Nil, fmt.Errorf("backtest: resolve data dest: %w", err)
		}

		g, gctx := errgroup.WithContext(pumpCtx)
		h.group = g
		g.Go(func() error {
			e.pump(gctx, h, def, stream, sink)
			return nil
		})
	}

	e.mu.Lock()
	e.handles[id] = h
	e.mu.Unlock()

	return id, nil
}

// pump delivers every tick from stream to sink, checking the exit predicate
// between ticks. On exit-predicate satisfaction or stream end it transitions
// the handle to Stopped and deregisters it.
func (e *Engine) pump(ctx context.Context, h *Handle, def Definition, stream <-chan tick.Tick, sink tick.Sink) {
	var count int64

	for {
		select {
		case t, ok := <-stream:
			if !ok {
				e.finish(h)
				return
			}
			count++
			if err := sink.Deliver(ctx, t); err != nil {
				e.log.Warn("backtest: sink delivery failed", zap.String("id", h.ID.String()), zap.Error(err))
			}
			if checkEarlyExit(t, def, count) {
				e.finish(h)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// finish transitions h to Stopped and removes it from the engine's map,
// mirroring what an externally delivered Stop does.
func (e *Engine) finish(h *Handle) {
	select {
	case h.control <- tick.ControlEvent{Kind: tick.Stop}:
	default:
	}
	h.cancel()
	h.setState(StateStopped)

	e.mu.Lock()
	delete(e.handles, h.ID)
	e.mu.Unlock()
}

// Send forwards a control event to the backtest identified by id. Stop
// additionally removes the handle from the map after forwarding and joins
// its pump task; Pause/Resume leave it in place.
func (e *Engine) Send(id uuid.UUID, ev tick.ControlEvent) error {
	e.mu.RLock()
	h, ok := e.handles[id]
	e.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	select {
	case h.control <- ev:
	default:
	}

	switch ev.Kind {
	case tick.Pause:
		h.setState(StatePaused)
	case tick.Resume:
		h.setState(StateRunning)
	case tick.Stop:
		h.cancel()
		if h.group != nil {
			_ = h.group.Wait()
		}
		h.setState(StateStopped)
		e.mu.Lock()
		delete(e.handles, id)
		e.mu.Unlock()
	}

	return nil
}

// List returns a snapshot view of every live backtest handle.
func (e *Engine) List() []View {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]View, 0, len(e.handles))
	for _, h := range e.handles {
		out = append(out, View{
			ID:           h.ID,
			Symbol:       h.Symbol,
			BacktestType: h.BacktestType,
			DataSource:   h.DataSource,
			DataDest:     h.DataDest,
			State:        h.State(),
		})
	}
	return out
}
