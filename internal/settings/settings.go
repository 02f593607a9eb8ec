// Package settings owns the Settings value type's clamping rules and a
// file-backed hot-reload manager, grounded in the teacher's
// internal/config.Manager pattern (atomic.Pointer snapshot + fsnotify
// watch + debounce).
package settings

import "github.com/blueberrycongee/llmcore/pkg/types"

// Range bounds for each numeric Settings field. Values outside range are
// clamped on ingestion, never rejected.
var (
	samplingCountRange  = [2]int{1, 32}
	samplingRoundsRange = [2]int{1, 8}
	perRoundSizeRange   = [2]int{1, 64}

	bucketCountRange       = [2]int{5, 6}
	maxContextKRange       = [2]int{1, 2048}
	histogramSampleRange   = [2]int{32, 10000}
	boundaryMinSecRange    = [2]int{5, 3600}
	boundaryMaxSecRange    = [2]int{5, 3600}
	queueCapacityRange     = [2]int{1, 100000}
	instanceTimeoutSecRange = [2]int{1, 3600}
)

// Normalize clamps every numeric field of s into its documented range
// and returns the result. It never mutates s.
func Normalize(s types.Settings) types.Settings {
	out := s

	out.SamplingCount = clamp(s.SamplingCount, samplingCountRange)
	out.SamplingRounds = clamp(s.SamplingRounds, samplingRoundsRange)
	out.PerRoundSize = clamp(s.PerRoundSize, perRoundSizeRange)

	out.BucketCount = clamp(s.BucketCount, bucketCountRange)
	out.MaxContextK = clamp(s.MaxContextK, maxContextKRange)
	out.HistogramSampleSize = clamp(s.HistogramSampleSize, histogramSampleRange)

	minSec := clamp(s.BoundaryMinIntervalSec, boundaryMinSecRange)
	maxSec := clamp(s.BoundaryMaxIntervalSec, boundaryMaxSecRange)
	if minSec > maxSec {
		minSec, maxSec = maxSec, minSec
	}
	out.BoundaryMinIntervalSec = minSec
	out.BoundaryMaxIntervalSec = maxSec

	out.QueueCapacity = clamp(s.QueueCapacity, queueCapacityRange)
	out.InstanceTimeoutSec = clamp(s.InstanceTimeoutSec, instanceTimeoutSecRange)

	if out.AlgorithmTag == "" {
		out.AlgorithmTag = "traditional"
	}
	if out.PoolOrderingCSV == "" {
		out.PoolOrderingCSV = "default"
	}

	return out
}

func clamp(v int, r [2]int) int {
	if v < r[0] {
		return r[0]
	}
	if v > r[1] {
		return r[1]
	}
	return v
}

// Default returns a conservative baseline Settings value, already
// normalized.
func Default() types.Settings {
	return Normalize(types.Settings{
		AlgorithmTag:           "traditional",
		SamplingCount:          3,
		SamplingRounds:         2,
		PerRoundSize:           3,
		BucketCount:            5,
		MaxContextK:            32,
		HistogramSampleSize:    600,
		BoundaryMinIntervalSec: 30,
		BoundaryMaxIntervalSec: 300,
		DynamicBucketing:       true,
		PoolOrderingCSV:        "default",
		QueueCapacity:          256,
		InstanceTimeoutSec:     60,
	})
}
