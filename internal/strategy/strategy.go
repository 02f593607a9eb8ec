// Package strategy implements the sample→score→attempt-acquire instance
// selection algorithm from §4.4, plus the lifecycle hooks a
// StrategyRuntime drives a strategy through.
package strategy

import (
	"sync"
	"sync/atomic"

	"github.com/blueberrycongee/llmcore/internal/budget"
	"github.com/blueberrycongee/llmcore/pkg/types"
)

// Strategy is the minimal interface a StrategyRuntime drives. Two
// concrete implementations are provided: Traditional (power-of-K
// sampling with shuffle) and Scored (composite pressure-score ordering).
// Both share instanceSet for bookkeeping; prefer composition over an
// inheritance hierarchy.
type Strategy interface {
	OnActivate()
	OnDeactivate()
	OnSettingsChanged(s types.Settings)
	RefreshInstances(instances []*types.ModelInstance)
	Acquire(tokens, bucketIndex int) *types.ModelInstance
	SnapshotMetrics() Metrics
	GetStats() Stats
	// Instances returns the currently owned instances, for the router's
	// snapshot step during refresh (§4.8).
	Instances() []*types.ModelInstance
}

// Releaser is implemented by strategies that track per-instance
// in-flight state beyond the queue gate (currently only Scored). The
// router calls Release after the downstream call completes.
type Releaser interface {
	Release(instanceID string)
}

// Metrics is the per-runtime reject-reason counter snapshot consulted by
// the admin status surface.
type Metrics struct {
	RejectBudget   int64
	RejectSampling int64
}

// Stats extends Metrics with a point-in-time view of instance count, for
// admin/debug use.
type Stats struct {
	Metrics
	InstanceCount int
}

// wrapper pairs one instance with its admission budget and a live
// in-flight counter (consulted by the Scored variant's pressure score).
type wrapper struct {
	instance *types.ModelInstance
	budget   *budget.InstanceBudget
	inflight atomic.Int64
}

// instanceSet is the shared bookkeeping both strategy implementations
// embed: a mutex-guarded slice of wrappers, rebuilt wholesale on every
// RefreshInstances, with per-instance budgets carried forward by ID so a
// refresh does not reset an in-progress rolling window.
type instanceSet struct {
	mu          sync.RWMutex
	wrappers    []*wrapper
	byID        map[string]*wrapper
	rejectBudget   atomic.Int64
	rejectSampling atomic.Int64
	now         func() int64
}

func newInstanceSet(now func() int64) *instanceSet {
	if now == nil {
		now = types.NowMs
	}
	return &instanceSet{byID: make(map[string]*wrapper), now: now}
}

func (s *instanceSet) refresh(instances []*types.ModelInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]*wrapper, 0, len(instances))
	nextByID := make(map[string]*wrapper, len(instances))
	for _, inst := range instances {
		if w, ok := s.byID[inst.ID]; ok {
			w.instance = inst
			next = append(next, w)
			nextByID[inst.ID] = w
			continue
		}
		w := &wrapper{instance: inst, budget: budget.New(s.now)}
		next = append(next, w)
		nextByID[inst.ID] = w
	}
	s.wrappers = next
	s.byID = nextByID
}

func (s *instanceSet) snapshot() []*wrapper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*wrapper, len(s.wrappers))
	copy(out, s.wrappers)
	return out
}

func (s *instanceSet) metrics() Metrics {
	return Metrics{
		RejectBudget:   s.rejectBudget.Load(),
		RejectSampling: s.rejectSampling.Load(),
	}
}

func (s *instanceSet) instanceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wrappers)
}

func (s *instanceSet) instances() []*types.ModelInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.ModelInstance, len(s.wrappers))
	for i, w := range s.wrappers {
		out[i] = w.instance
	}
	return out
}
