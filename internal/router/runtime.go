package router

import (
	"sync/atomic"

	"github.com/blueberrycongee/llmcore/internal/queuegate"
	"github.com/blueberrycongee/llmcore/internal/strategy"
)

// State is a StrategyRuntime lifecycle state (§4.9).
type State int

const (
	StateActive State = iota
	StateDraining
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateRetired:
		return "RETIRED"
	default:
		return "UNKNOWN"
	}
}

// StrategyRuntime binds one Strategy instance to one pool, with its own
// queue gate, lifecycle state, and reject-queue-full counter. A DRAINING
// runtime's Gate doubles as its live refcount: it is retired only once
// Gate.Depth() reaches zero. Once RETIRED it is dropped from the registry
// and never observed again.
type StrategyRuntime struct {
	RuntimeID     string
	PoolKey       string
	AlgorithmTag  string
	ActivatedAtMs int64
	DrainStartMs  int64

	state atomic.Int32

	Gate     *queuegate.Gate
	Strategy strategy.Strategy

	rejectQueueFull atomic.Int64
}

func newStrategyRuntime(id, poolKey, algorithmTag string, queueCapacity int, s strategy.Strategy, nowMs int64) *StrategyRuntime {
	rt := &StrategyRuntime{
		RuntimeID:     id,
		PoolKey:       poolKey,
		AlgorithmTag:  algorithmTag,
		ActivatedAtMs: nowMs,
		Gate:          queuegate.New(queueCapacity),
		Strategy:      s,
	}
	rt.state.Store(int32(StateActive))
	s.OnActivate()
	return rt
}

func (rt *StrategyRuntime) State() State { return State(rt.state.Load()) }

func (rt *StrategyRuntime) setState(s State) { rt.state.Store(int32(s)) }

// Status is the admin-facing read model for one runtime (§6).
type Status struct {
	RuntimeID       string
	AlgorithmTag    string
	State           string
	ActivatedAtMs   int64
	QueueDepth      int
	QueueCapacity   int
	RejectQueueFull int64
	RejectBudget    int64
	RejectSampling  int64
	Boundaries      []int
	Weights         []int
	DrainDurationMs int64
}
