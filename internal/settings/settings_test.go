package settings

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

func TestNormalize_ClampsOutOfRangeFieldsToBounds(t *testing.T) {
	s := types.Settings{
		SamplingCount:          0,
		SamplingRounds:         100,
		PerRoundSize:           -5,
		BucketCount:            1,
		MaxContextK:            999999,
		HistogramSampleSize:    1,
		BoundaryMinIntervalSec: -1,
		BoundaryMaxIntervalSec: 99999,
		QueueCapacity:          0,
		InstanceTimeoutSec:     0,
	}
	out := Normalize(s)

	require.Equal(t, samplingCountRange[0], out.SamplingCount)
	require.Equal(t, samplingRoundsRange[1], out.SamplingRounds)
	require.Equal(t, perRoundSizeRange[0], out.PerRoundSize)
	require.Equal(t, bucketCountRange[0], out.BucketCount)
	require.Equal(t, maxContextKRange[1], out.MaxContextK)
	require.Equal(t, histogramSampleRange[0], out.HistogramSampleSize)
	require.Equal(t, boundaryMinSecRange[0], out.BoundaryMinIntervalSec)
	require.Equal(t, boundaryMaxSecRange[1], out.BoundaryMaxIntervalSec)
	require.Equal(t, queueCapacityRange[0], out.QueueCapacity)
	require.Equal(t, instanceTimeoutSecRange[0], out.InstanceTimeoutSec)
}

func TestNormalize_SwapsInvertedBoundaryInterval(t *testing.T) {
	s := types.Settings{BoundaryMinIntervalSec: 300, BoundaryMaxIntervalSec: 30}
	out := Normalize(s)
	require.LessOrEqual(t, out.BoundaryMinIntervalSec, out.BoundaryMaxIntervalSec)
	require.Equal(t, 30, out.BoundaryMinIntervalSec)
	require.Equal(t, 300, out.BoundaryMaxIntervalSec)
}

func TestNormalize_FillsDefaultAlgorithmAndPoolOrdering(t *testing.T) {
	out := Normalize(types.Settings{})
	require.Equal(t, "traditional", out.AlgorithmTag)
	require.Equal(t, "default", out.PoolOrderingCSV)
}

func TestNormalize_PreservesValidValuesAndDoesNotMutateInput(t *testing.T) {
	s := types.Settings{
		AlgorithmTag:    "scored",
		SamplingCount:   4,
		PoolOrderingCSV: "fast,slow",
	}
	out := Normalize(s)
	require.Equal(t, "scored", out.AlgorithmTag)
	require.Equal(t, 4, out.SamplingCount)
	require.Equal(t, "fast,slow", out.PoolOrderingCSV)

	// Normalize must not mutate its argument.
	require.Equal(t, "scored", s.AlgorithmTag)
}

func TestDefault_IsAlreadyNormalized(t *testing.T) {
	d := Default()
	require.Equal(t, Normalize(d), d)
}
