// Package router implements the strategy-runtime lifecycle, pool
// ordering, and hot-swap orchestration described in §4.1 and §4.9: the
// single entry point client handlers call to obtain an admitted
// instance.
package router

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/blueberrycongee/llmcore/internal/bucket"
	"github.com/blueberrycongee/llmcore/internal/metrics"
	"github.com/blueberrycongee/llmcore/internal/strategy"
	"github.com/blueberrycongee/llmcore/pkg/types"
)

// InstanceStore is the external configuration-store boundary (§6): the
// core only consumes a list of instance records, reloadable at any time.
type InstanceStore interface {
	Load(ctx context.Context) ([]*types.ModelInstance, error)
}

// ClientManager is notified of the current active instance ID set after
// every refresh so it can dispose pools for departed instances (§4.6).
type ClientManager interface {
	Refresh(activeIDs map[string]struct{})
}

// StrategyFactory builds a fresh Strategy for a given algorithm tag, used
// whenever a new ACTIVE runtime is created during a hot-swap.
type StrategyFactory func(tag string, s types.Settings) strategy.Strategy

// Option configures a Router at construction time.
type Option func(*Router)

// WithLogger attaches a structured logger; nil falls back to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() int64) Option {
	return func(r *Router) { r.now = now }
}

// Router owns the set of strategy runtimes keyed by pool, the shared
// bucket manager, and the current settings snapshot. A single mutex
// serializes UpdateSettings and Refresh; Acquire reads the latest
// published runtime map without taking that lock.
type Router struct {
	mu sync.Mutex

	settingsMu sync.RWMutex
	settings   types.Settings

	runtimes atomic.Pointer[runtimeTable]

	bucketMgr *bucket.Manager

	store      InstanceStore
	clientMgr  ClientManager
	newStrategy StrategyFactory

	shutdown atomic.Bool

	log *slog.Logger
	now func() int64
}

// runtimeTable is the immutable published view of active + draining
// runtimes; Acquire reads this pointer without locking.
type runtimeTable struct {
	byPool   map[string]*StrategyRuntime
	draining []*StrategyRuntime
}

// New constructs a Router. store and clientMgr may be nil in tests that
// only exercise Acquire against a pre-populated runtime set via Refresh
// with an in-memory store.
func New(initial types.Settings, store InstanceStore, clientMgr ClientManager, newStrategy StrategyFactory, opts ...Option) *Router {
	r := &Router{
		settings:    initial,
		store:       store,
		clientMgr:   clientMgr,
		newStrategy: newStrategy,
		now:         types.NowMs,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.bucketMgr = bucket.New(initial, r.now)
	r.initRuntimes(initial)
	return r
}

// Acquisition is returned by Acquire on success; Release must be called
// exactly once when the downstream call completes, fails, or is
// cancelled.
type Acquisition struct {
	Instance    *types.ModelInstance
	BucketIndex int
	runtime     *StrategyRuntime
}

// Release returns the queue slot held by this acquisition and, for
// strategies that track per-instance in-flight state beyond the gate
// (Scored), releases that too.
func (a *Acquisition) Release() {
	if a == nil || a.runtime == nil {
		return
	}
	if rel, ok := a.runtime.Strategy.(strategy.Releaser); ok {
		rel.Release(a.Instance.ID)
	}
	a.runtime.Gate.Leave()
}

// Acquire resolves a bucket index for tokens, then walks the configured
// pool order attempting queue-gate entry followed by strategy-level
// sampling and budget acquisition. It returns nil if every pool is
// exhausted or the router is shutting down.
func (r *Router) Acquire(tokens int) *Acquisition {
	if r.shutdown.Load() {
		return nil
	}
	if tokens < 1 {
		tokens = 1
	}

	settings := r.Settings()
	r.bucketMgr.RecordAndMaybeAdapt(tokens, settings)
	bucketIndex := r.bucketMgr.ResolveBucketIndex(tokens)

	table := r.runtimes.Load()
	order := types.ParsePoolOrdering(settings.PoolOrderingCSV)

	for _, poolKey := range order {
		rt, ok := table.byPool[poolKey]
		if !ok || rt.State() != StateActive {
			continue
		}
		if !rt.Gate.Enter() {
			rt.rejectQueueFull.Add(1)
			metrics.RejectsTotal.WithLabelValues(poolKey, "queue_full").Inc()
			continue
		}
		before := rt.Strategy.GetStats()
		inst := rt.Strategy.Acquire(tokens, bucketIndex)
		if inst != nil {
			metrics.QueueDepth.WithLabelValues(poolKey).Set(float64(rt.Gate.Depth()))
			return &Acquisition{Instance: inst, BucketIndex: bucketIndex, runtime: rt}
		}
		after := rt.Strategy.GetStats()
		switch {
		case after.RejectBudget > before.RejectBudget:
			metrics.RejectsTotal.WithLabelValues(poolKey, "budget").Inc()
		case after.RejectSampling > before.RejectSampling:
			metrics.RejectsTotal.WithLabelValues(poolKey, "sampling").Inc()
		}
		rt.Gate.Leave()
	}
	return nil
}

// Settings returns a copy of the currently published settings.
func (r *Router) Settings() types.Settings {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.settings
}

// Shutdown marks the router as draining all future Acquire calls to nil.
func (r *Router) Shutdown() { r.shutdown.Store(true) }

// Statuses returns the admin-facing view of every ACTIVE and DRAINING
// runtime (§6).
func (r *Router) Statuses() []Status {
	table := r.runtimes.Load()
	ranges, weights := r.bucketMgr.Boundaries()
	now := r.now()

	var out []Status
	add := func(rt *StrategyRuntime) {
		stats := rt.Strategy.GetStats()
		drainDuration := int64(0)
		if rt.State() == StateDraining {
			drainDuration = now - rt.DrainStartMs
		}
		out = append(out, Status{
			RuntimeID:       rt.RuntimeID,
			AlgorithmTag:    rt.AlgorithmTag,
			State:           rt.State().String(),
			ActivatedAtMs:   rt.ActivatedAtMs,
			QueueDepth:      rt.Gate.Depth(),
			QueueCapacity:   rt.Gate.Capacity(),
			RejectQueueFull: rt.rejectQueueFull.Load(),
			RejectBudget:    stats.RejectBudget,
			RejectSampling:  stats.RejectSampling,
			Boundaries:      ranges,
			Weights:         weights,
			DrainDurationMs: drainDuration,
		})
		metrics.QueueDepth.WithLabelValues(rt.PoolKey).Set(float64(rt.Gate.Depth()))
		metrics.QueueCapacity.WithLabelValues(rt.PoolKey).Set(float64(rt.Gate.Capacity()))
		metrics.RuntimeState.WithLabelValues(rt.RuntimeID, rt.PoolKey).Set(float64(rt.State()))
	}
	for _, rt := range table.byPool {
		add(rt)
	}
	for _, rt := range table.draining {
		add(rt)
	}
	for i, upper := range ranges {
		metrics.BucketBoundary.WithLabelValues(strconv.Itoa(i)).Set(float64(upper))
	}
	return out
}

func newRuntimeID() string { return uuid.NewString() }
