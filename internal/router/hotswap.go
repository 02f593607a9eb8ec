package router

import (
	"context"

	"github.com/blueberrycongee/llmcore/internal/settings"
	"github.com/blueberrycongee/llmcore/pkg/types"
)

// initRuntimes builds one ACTIVE runtime per pool key in s, used only at
// construction time (no prior table to drain).
func (r *Router) initRuntimes(s types.Settings) {
	byPool := make(map[string]*StrategyRuntime)
	for _, poolKey := range types.ParsePoolOrdering(s.PoolOrderingCSV) {
		byPool[poolKey] = r.createRuntime(poolKey, s)
	}
	r.runtimes.Store(&runtimeTable{byPool: byPool})
}

func (r *Router) createRuntime(poolKey string, s types.Settings) *StrategyRuntime {
	strat := r.newStrategy(s.AlgorithmTag, s)
	return newStrategyRuntime(newRuntimeID(), poolKey, s.AlgorithmTag, s.QueueCapacity, strat, r.now())
}

// UpdateSettings implements §4.1's contract: normalize via clamping
// setters, and if the algorithm tag or pool ordering changed, hot-swap
// every runtime (old DRAINING, new ACTIVE) and repopulate instances;
// otherwise just propagate the new settings to existing runtimes. The
// whole operation is serialized by r.mu.
func (r *Router) UpdateSettings(ctx context.Context, newSettings types.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	normalized := settings.Normalize(newSettings)
	old := r.Settings()
	changed := normalized.AlgorithmTag != old.AlgorithmTag || normalized.PoolOrderingCSV != old.PoolOrderingCSV

	r.settingsMu.Lock()
	r.settings = normalized
	r.settingsMu.Unlock()

	table := r.runtimes.Load()

	if !changed {
		for _, rt := range table.byPool {
			rt.Strategy.OnSettingsChanged(normalized)
			rt.Gate.SetCapacity(normalized.QueueCapacity)
		}
		return nil
	}

	now := r.now()
	draining := append([]*StrategyRuntime(nil), table.draining...)
	for _, rt := range table.byPool {
		rt.setState(StateDraining)
		rt.DrainStartMs = now
		draining = append(draining, rt)
	}

	newByPool := make(map[string]*StrategyRuntime)
	for _, poolKey := range types.ParsePoolOrdering(normalized.PoolOrderingCSV) {
		newByPool[poolKey] = r.createRuntime(poolKey, normalized)
	}
	r.runtimes.Store(&runtimeTable{byPool: newByPool, draining: draining})

	if err := r.refreshLocked(ctx); err != nil {
		r.log.Error("refresh during hot-swap failed", "error", err)
	}
	return nil
}

// cleanupDrainingRuntimes implements the DRAINING → RETIRED transition as
// a refcounted drain: a draining runtime's Gate.Depth() is its live
// refcount, and it is only retired once that count reaches zero — any
// request still in flight against it keeps it alive. Runtimes that have
// not yet drained are kept in the draining list for the next call (the
// next Refresh or UpdateSettings) to retry.
func (r *Router) cleanupDrainingRuntimes() {
	table := r.runtimes.Load()
	var stillDraining []*StrategyRuntime
	for _, rt := range table.draining {
		if rt.Gate.Depth() > 0 {
			stillDraining = append(stillDraining, rt)
			continue
		}
		rt.Strategy.OnDeactivate()
		rt.setState(StateRetired)
	}
	r.runtimes.Store(&runtimeTable{byPool: table.byPool, draining: stillDraining})
}

// Refresh reloads the instance list from the external store, restores
// runtime counters onto unchanged IDs, hands the grouped list to every
// runtime's strategy, and notifies the client manager of the active ID
// set (§4.1, §4.8).
func (r *Router) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx)
}

func (r *Router) refreshLocked(ctx context.Context) error {
	var instances []*types.ModelInstance
	if r.store != nil {
		loaded, err := r.store.Load(ctx)
		if err != nil {
			r.log.Error("failed to load instances, treating as empty", "error", err)
		} else {
			instances = loaded
		}
	}

	table := r.runtimes.Load()

	// Snapshot runtime counters keyed by instance ID across every runtime
	// this router currently owns, active or draining (§4.8).
	snapshots := make(map[string]types.RuntimeSnapshot)
	collect := func(rt *StrategyRuntime) {
		for _, inst := range rt.Strategy.Instances() {
			if inst.Runtime != nil {
				snapshots[inst.ID] = inst.Runtime.Snapshot()
			}
		}
	}
	for _, rt := range table.byPool {
		collect(rt)
	}
	for _, rt := range table.draining {
		collect(rt)
	}

	grouped := make(map[string][]*types.ModelInstance)
	activeIDs := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		if inst.Runtime == nil {
			inst.Runtime = types.NewInstanceRuntime()
		}
		if snap, ok := snapshots[inst.ID]; ok {
			inst.Runtime.Restore(snap)
		}
		key := inst.EffectivePoolKey()
		grouped[key] = append(grouped[key], inst)
		activeIDs[inst.ID] = struct{}{}
	}

	for poolKey, rt := range table.byPool {
		rt.Strategy.RefreshInstances(grouped[poolKey])
	}

	if r.clientMgr != nil {
		r.clientMgr.Refresh(activeIDs)
	}
	r.cleanupDrainingRuntimes()
	return nil
}
