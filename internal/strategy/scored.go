package strategy

import (
	"sort"
	"sync"

	"github.com/blueberrycongee/llmcore/internal/metrics"
	"github.com/blueberrycongee/llmcore/pkg/types"
)

// Scored is the "object-pool" alternative noted in §4.4/§9: instead of a
// uniform shuffle, candidates are sorted by a composite pressure score
// and tried lowest-pressure first. Ties are broken by insertion order
// after the shuffle (§9's open-question decision), so candidates are
// shuffled once before the stable sort.
type Scored struct {
	*instanceSet

	mu             sync.RWMutex
	samplingCount  int
	samplingRounds int
}

// NewScored returns a Scored strategy seeded from settings.
func NewScored(s types.Settings, now func() int64) *Scored {
	sc := &Scored{instanceSet: newInstanceSet(now)}
	sc.OnSettingsChanged(s)
	return sc
}

func (s *Scored) OnActivate()   {}
func (s *Scored) OnDeactivate() {}

func (s *Scored) OnSettingsChanged(set types.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samplingCount = set.SamplingCount
	if s.samplingCount < 1 {
		s.samplingCount = 1
	}
	s.samplingRounds = set.SamplingRounds
	if s.samplingRounds < 1 {
		s.samplingRounds = 1
	}
}

func (s *Scored) RefreshInstances(instances []*types.ModelInstance) {
	s.instanceSet.refresh(instances)
}

func (s *Scored) SnapshotMetrics() Metrics { return s.instanceSet.metrics() }

func (s *Scored) Instances() []*types.ModelInstance { return s.instanceSet.instances() }

func (s *Scored) GetStats() Stats {
	return Stats{Metrics: s.instanceSet.metrics(), InstanceCount: s.instanceSet.instanceCount()}
}

// Acquire samples candidates the same way Traditional does, but within
// each round orders the sample by ascending pressure score instead of a
// final shuffle.
func (s *Scored) Acquire(tokens, bucketIndex int) *types.ModelInstance {
	_ = bucketIndex

	all := s.instanceSet.snapshot()
	if len(all) == 0 {
		s.instanceSet.rejectSampling.Add(1)
		return nil
	}

	s.mu.RLock()
	rounds := s.samplingRounds
	k := s.samplingCount
	s.mu.RUnlock()
	if k > len(all) {
		k = len(all)
	}

	var sawSample, sawBudgetReject bool

	for round := 0; round < rounds; round++ {
		candidates := append([]*wrapper(nil), all...)
		shuffleWrappers(candidates)
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		if len(candidates) == 0 {
			continue
		}
		sawSample = true

		sort.SliceStable(candidates, func(i, j int) bool {
			return pressureScore(candidates[i]) < pressureScore(candidates[j])
		})

		for _, w := range candidates {
			w.inflight.Add(1)
			if w.budget.TryAcquire(w.instance, tokens) {
				return w.instance
			}
			w.inflight.Add(-1)
			sawBudgetReject = true
		}
	}

	if !sawSample {
		s.instanceSet.rejectSampling.Add(1)
	} else if sawBudgetReject {
		s.instanceSet.rejectBudget.Add(1)
	} else {
		s.instanceSet.rejectSampling.Add(1)
	}
	return nil
}

// Release decrements the in-flight counter for an instance admitted by
// Acquire. Callers release exactly once the downstream call completes or
// fails, mirroring the queue gate's enter/leave discipline.
func (s *Scored) Release(instanceID string) {
	s.instanceSet.mu.RLock()
	w, ok := s.instanceSet.byID[instanceID]
	s.instanceSet.mu.RUnlock()
	if !ok {
		return
	}
	for {
		cur := w.inflight.Load()
		if cur <= 0 {
			return
		}
		if w.inflight.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// pressureScore computes (inflight/(inflight+8))*0.60 +
// (1-rpmHeadroomFrac)*0.20 + (1-tpmHeadroomFrac)*0.20, per the §4.4
// alternative-variant note.
func pressureScore(w *wrapper) float64 {
	inflight := float64(w.inflight.Load())
	concurrencyTerm := inflight / (inflight + 8)

	availRPM, availTPM := w.budget.Headroom(w.instance)
	metrics.InstanceBudgetHeadroomRPM.WithLabelValues(w.instance.ID).Set(float64(availRPM))
	metrics.InstanceBudgetHeadroomTPM.WithLabelValues(w.instance.ID).Set(float64(availTPM))
	rpmFrac := safeDiv(float64(availRPM), float64(w.instance.EffectiveRPM()))
	tpmFrac := safeDiv(float64(availTPM), float64(w.instance.EffectiveTPM()))

	return concurrencyTerm*0.60 + (1-rpmFrac)*0.20 + (1-tpmFrac)*0.20
}

func safeDiv(a, b float64) float64 {
	if b <= 0 {
		return 1
	}
	v := a / b
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
