package strategy

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

// Traditional implements §4.4's canonical power-of-K sampling with
// multi-round retry and Fisher-Yates shuffled attempt order. This is the
// "simpler shuffle path" the spec designates as canonical for
// budget-based selection.
type Traditional struct {
	*instanceSet

	mu             sync.RWMutex
	samplingCount  int
	samplingRounds int
	preferWeighted bool
}

// NewTraditional returns a Traditional strategy seeded from settings.
// now is forwarded to per-instance budgets; nil uses the wall clock.
func NewTraditional(s types.Settings, now func() int64) *Traditional {
	t := &Traditional{instanceSet: newInstanceSet(now)}
	t.applySettings(s)
	return t
}

func (t *Traditional) OnActivate()   {}
func (t *Traditional) OnDeactivate() {}

func (t *Traditional) OnSettingsChanged(s types.Settings) {
	t.applySettings(s)
}

func (t *Traditional) applySettings(s types.Settings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samplingCount = s.SamplingCount
	if t.samplingCount < 1 {
		t.samplingCount = 1
	}
	t.samplingRounds = s.SamplingRounds
	if t.samplingRounds < 1 {
		t.samplingRounds = 1
	}
	// PreferWeighted is the SPEC_FULL-supplemented knob adapted from the
	// teacher's weighted-shuffle fallback (routers/shuffle.go): when set,
	// higher-weight instances are biased toward the front of the sample
	// before the canonical shuffle-then-acquire loop runs.
	t.preferWeighted = s.AlgorithmTag == "weighted"
}

func (t *Traditional) RefreshInstances(instances []*types.ModelInstance) {
	t.instanceSet.refresh(instances)
}

func (t *Traditional) SnapshotMetrics() Metrics { return t.instanceSet.metrics() }

func (t *Traditional) Instances() []*types.ModelInstance { return t.instanceSet.instances() }

func (t *Traditional) GetStats() Stats {
	return Stats{Metrics: t.instanceSet.metrics(), InstanceCount: t.instanceSet.instanceCount()}
}

// Acquire runs the round loop: each round draws a uniform sample of
// distinct candidates, shuffles it, and attempts budget acquisition in
// shuffled order. bucketIndex is accepted to satisfy the Strategy
// interface; neither Traditional nor Scored uses it to filter or weight
// candidates.
func (t *Traditional) Acquire(tokens, bucketIndex int) *types.ModelInstance {
	_ = bucketIndex

	all := t.instanceSet.snapshot()
	if len(all) == 0 {
		t.instanceSet.rejectSampling.Add(1)
		return nil
	}

	t.mu.RLock()
	rounds := t.samplingRounds
	k := t.samplingCount
	weighted := t.preferWeighted
	t.mu.RUnlock()

	if k > len(all) {
		k = len(all)
	}

	var sawSample, sawBudgetReject bool

	for round := 0; round < rounds; round++ {
		candidates := append([]*wrapper(nil), all...)
		shuffleWrappers(candidates)
		if weighted {
			// Stable sort after the shuffle: higher-weight instances lead
			// the sample, equal weights keep their shuffled order.
			sortByWeightDescending(candidates)
		}
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		if len(candidates) == 0 {
			continue
		}
		sawSample = true
		// Shuffle again post-sample per the canonical contract: the
		// sample itself must not carry residual weighting bias into
		// tie-break order.
		shuffleWrappers(candidates)

		for _, w := range candidates {
			if w.budget.TryAcquire(w.instance, tokens) {
				return w.instance
			}
			sawBudgetReject = true
		}
	}

	if !sawSample {
		t.instanceSet.rejectSampling.Add(1)
	} else if sawBudgetReject {
		t.instanceSet.rejectBudget.Add(1)
	} else {
		t.instanceSet.rejectSampling.Add(1)
	}
	return nil
}

func shuffleWrappers(ws []*wrapper) {
	rand.Shuffle(len(ws), func(i, j int) { ws[i], ws[j] = ws[j], ws[i] })
}

func sortByWeightDescending(ws []*wrapper) {
	sort.SliceStable(ws, func(i, j int) bool {
		return instanceWeight(ws[i].instance) > instanceWeight(ws[j].instance)
	})
}

// instanceWeight derives a crude weight from effective RPM when no
// explicit weight field exists on ModelInstance; higher RPM instances
// are assumed to tolerate a larger share of traffic.
func instanceWeight(inst *types.ModelInstance) int {
	return inst.EffectiveRPM()
}
