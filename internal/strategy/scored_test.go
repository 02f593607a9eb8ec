package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

func TestScored_Acquire_PrefersLowerInFlightInstance(t *testing.T) {
	sc := NewScored(settingsFixture(), func() int64 { return 0 })
	a := instanceFixture("a", 1000, 1000000)
	sc.RefreshInstances([]*types.ModelInstance{a})

	// Drive up instance a's in-flight count without releasing, before b
	// ever exists in the set, so the comparison below is deterministic
	// rather than depending on how a shuffle-driven tie resolves.
	for i := 0; i < 5; i++ {
		got := sc.Acquire(10, 0)
		require.NotNil(t, got)
		require.Equal(t, "a", got.ID)
	}

	b := instanceFixture("b", 1000, 1000000)
	sc.RefreshInstances([]*types.ModelInstance{a, b})

	got := sc.Acquire(10, 0)
	require.NotNil(t, got)
	require.Equal(t, "b", got.ID, "b should be preferred once a's in-flight count dominates its pressure score")
}

func TestScored_Release_DecrementsInFlightAndIsIdempotentAtZero(t *testing.T) {
	sc := NewScored(settingsFixture(), func() int64 { return 0 })
	sc.RefreshInstances([]*types.ModelInstance{instanceFixture("a", 1000, 1000000)})

	got := sc.Acquire(10, 0)
	require.NotNil(t, got)

	sc.Release("a")
	sc.Release("a") // releasing twice must not underflow
	sc.Release("unknown-id")
}

func TestScored_Acquire_NoInstancesReturnsNil(t *testing.T) {
	sc := NewScored(settingsFixture(), func() int64 { return 0 })
	require.Nil(t, sc.Acquire(10, 0))
}
