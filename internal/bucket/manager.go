package bucket

import (
	"sync"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

const (
	minBoundaryFloor  = 64
	minHistogramSize  = 32
)

// Manager translates estimated token counts into a bucket index and
// periodically recomputes its boundaries from the observed distribution
// of recent requests.
type Manager struct {
	mu sync.RWMutex

	ranges  []int
	weights []int

	histogram *Histogram

	dynamicBucketing bool
	minIntervalSec   int
	maxIntervalSec   int

	lastBoundaryUpdateMs int64
	prevDistribution     []float64

	now func() int64
}

// New builds a Manager from a Settings snapshot. now defaults to
// types.NowMs when nil (tests may inject a fake clock).
func New(s types.Settings, now func() int64) *Manager {
	if now == nil {
		now = types.NowMs
	}
	ranges, weights := initBoundaries(s)
	return &Manager{
		ranges:           ranges,
		weights:          weights,
		histogram:        NewHistogram(sampleSizeOrDefault(s.HistogramSampleSize)),
		dynamicBucketing: s.DynamicBucketing,
		minIntervalSec:   clampPositive(s.BoundaryMinIntervalSec, 30),
		maxIntervalSec:   clampPositive(s.BoundaryMaxIntervalSec, 300),
		now:              now,
	}
}

func sampleSizeOrDefault(n int) int {
	if n < 1 {
		return 600
	}
	return n
}

func clampPositive(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// initBoundaries implements the §4.2 initialization contract: use the
// settings-provided ranges/weights when they parse cleanly against
// bucketCount, else synthesize defaults from maxContextK.
func initBoundaries(s types.Settings) (ranges, weights []int) {
	n := s.BucketCount
	if n < 1 {
		n = 5
	}
	if len(s.BucketRanges) == n && allPositive(s.BucketRanges) && strictlyIncreasing(s.BucketRanges) {
		ranges = append([]int(nil), s.BucketRanges...)
	} else {
		ranges = defaultRanges(n, s.MaxContextK)
	}
	if len(s.BucketWeights) == n && allPositive(s.BucketWeights) {
		weights = append([]int(nil), s.BucketWeights...)
	} else {
		weights = defaultWeights(n)
	}
	return ranges, weights
}

func allPositive(xs []int) bool {
	for _, x := range xs {
		if x <= 0 {
			return false
		}
	}
	return true
}

func strictlyIncreasing(xs []int) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return false
		}
	}
	return true
}

func defaultRanges(n, maxContextK int) []int {
	if maxContextK < 1 {
		maxContextK = 8
	}
	top := maxContextK * 1024
	out := make([]int, n)
	for i := 0; i < n; i++ {
		v := top * (i + 1) / n
		if v < minBoundaryFloor {
			v = minBoundaryFloor
		}
		out[i] = v
	}
	for i := 1; i < n; i++ {
		if out[i] <= out[i-1] {
			out[i] = out[i-1] + 1
		}
	}
	return out
}

// defaultWeights produces a monotone-decreasing split summing to 100: the
// smallest (cheapest, most common) bucket gets the largest share.
func defaultWeights(n int) []int {
	out := make([]int, n)
	remaining := 100
	for i := 0; i < n; i++ {
		share := remaining / (n - i)
		if share < 1 {
			share = 1
		}
		out[i] = share
		remaining -= share
	}
	// Reverse so index 0 (smallest range) carries the largest weight.
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ResolveBucketIndex returns the lowest index i such that tokens <=
// ranges[i], or the last index if tokens exceeds every boundary.
func (m *Manager) ResolveBucketIndex(tokens int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return resolveIndex(tokens, m.ranges)
}

// Boundaries returns a snapshot copy of the current ranges and weights,
// for admin status reporting.
func (m *Manager) Boundaries() (ranges, weights []int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.ranges...), append([]int(nil), m.weights...)
}

// RecordAndMaybeAdapt appends an observed token estimate to the
// histogram and, if dynamic bucketing is enabled and enough samples have
// accumulated, recomputes the boundaries per the §4.2 adaptive-interval
// contract.
func (m *Manager) RecordAndMaybeAdapt(tokens int, s types.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.histogram.Append(tokens)
	m.dynamicBucketing = s.DynamicBucketing
	m.minIntervalSec = clampPositive(s.BoundaryMinIntervalSec, m.minIntervalSec)
	m.maxIntervalSec = clampPositive(s.BoundaryMaxIntervalSec, m.maxIntervalSec)

	if !m.dynamicBucketing || m.histogram.Len() < minHistogramSize {
		return
	}

	n := len(m.ranges)
	target := normalizeWeights(m.weights)
	observedCounts := m.histogram.Distribution(m.ranges)
	observed := normalizeCounts(observedCounts, m.histogram.Len())

	distToTarget := l1Distance(observed, target)
	shiftFromPrev := 0.0
	if m.prevDistribution != nil {
		shiftFromPrev = l1Distance(observed, m.prevDistribution)
	}
	score := clamp01((distToTarget + shiftFromPrev) / 2)

	adaptiveIntervalSec := float64(m.maxIntervalSec) - score*float64(m.maxIntervalSec-m.minIntervalSec)
	adaptiveIntervalMs := int64(adaptiveIntervalSec * 1000)

	now := m.now()
	if now-m.lastBoundaryUpdateMs < adaptiveIntervalMs {
		return
	}

	sorted := m.histogram.Sorted()
	newRanges := make([]int, n)
	prev := 0
	for i := 1; i <= n; i++ {
		idx := ((len(sorted) - 1) * i) / n
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		v := sorted[idx]
		if v < prev+1 {
			v = prev + 1
		}
		if v < minBoundaryFloor {
			v = minBoundaryFloor
		}
		newRanges[i-1] = v
		prev = v
	}
	m.ranges = newRanges
	m.lastBoundaryUpdateMs = now
	m.prevDistribution = observed

	if len(s.BucketWeights) == n && allPositive(s.BucketWeights) {
		m.weights = append([]int(nil), s.BucketWeights...)
	}
}

func normalizeWeights(weights []int) []float64 {
	total := 0
	for _, w := range weights {
		total += w
	}
	out := make([]float64, len(weights))
	if total == 0 {
		for i := range out {
			out[i] = 1.0 / float64(len(weights))
		}
		return out
	}
	for i, w := range weights {
		out[i] = float64(w) / float64(total)
	}
	return out
}

func normalizeCounts(counts []int, total int) []float64 {
	out := make([]float64, len(counts))
	if total == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = float64(c) / float64(total)
	}
	return out
}

func l1Distance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
