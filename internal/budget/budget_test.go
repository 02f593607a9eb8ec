package budget

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

func newHealthyInstance(rpm, tpm int) *types.ModelInstance {
	return &types.ModelInstance{ID: "inst-1", Active: true, RPMLimit: rpm, TPMLimit: tpm}
}

func TestInstanceBudget_TryAcquire_RejectsOverRPM(t *testing.T) {
	now := int64(0)
	b := New(func() int64 { return now })
	inst := newHealthyInstance(2, 0)

	require.True(t, b.TryAcquire(inst, 10))
	require.True(t, b.TryAcquire(inst, 10))
	require.False(t, b.TryAcquire(inst, 10), "third request exceeds rpmLimit=2")
}

func TestInstanceBudget_TryAcquire_RejectsOverTPM(t *testing.T) {
	now := int64(0)
	b := New(func() int64 { return now })
	inst := newHealthyInstance(0, 100)

	require.True(t, b.TryAcquire(inst, 60))
	require.False(t, b.TryAcquire(inst, 60), "cumulative tokens exceed tpmLimit=100")
}

func TestInstanceBudget_TryAcquire_WindowRollsAfter60Seconds(t *testing.T) {
	now := int64(0)
	b := New(func() int64 { return now })
	inst := newHealthyInstance(1, 0)

	require.True(t, b.TryAcquire(inst, 1))
	require.False(t, b.TryAcquire(inst, 1))

	now = 60_001
	require.True(t, b.TryAcquire(inst, 1), "window should have rolled")
}

func TestInstanceBudget_TryAcquire_ClockGoingBackwardRollsWindow(t *testing.T) {
	now := int64(100_000)
	b := New(func() int64 { return now })
	inst := newHealthyInstance(1, 0)

	require.True(t, b.TryAcquire(inst, 1))

	now = 50_000 // clock regression
	require.True(t, b.TryAcquire(inst, 1), "a clock regression must roll the window, not wedge it shut")
}

func TestInstanceBudget_TryAcquire_UnhealthyInstanceAlwaysRejected(t *testing.T) {
	b := New(func() int64 { return 0 })
	inst := newHealthyInstance(100, 100000)
	inst.Active = false

	require.False(t, b.TryAcquire(inst, 1))
}

func TestInstanceBudget_TryAcquire_ZeroLimitFallsBackToPackageDefault(t *testing.T) {
	b := New(func() int64 { return 0 })
	inst := &types.ModelInstance{ID: "inst-1", Active: true, RPMLimit: 0, TPMLimit: 0}

	// Default effective RPM is 600 and default effective TPM is 600000;
	// at 1000 tokens/request the two ceilings coincide at exactly the
	// 600th request.
	for i := 0; i < 600; i++ {
		require.True(t, b.TryAcquire(inst, 1000), "rpmLimit=0/tpmLimit=0 must fall back to the package default budget, not reject everything or admit unboundedly")
	}
	require.False(t, b.TryAcquire(inst, 1000), "the 601st request must exceed the default effective RPM/TPM ceiling")
}

func TestInstanceBudget_Headroom_DoesNotConsumeBudget(t *testing.T) {
	b := New(func() int64 { return 0 })
	inst := newHealthyInstance(5, 500)

	before1, before2 := b.Headroom(inst)
	require.Equal(t, 5, before1)
	require.Equal(t, 500, before2)

	require.True(t, b.TryAcquire(inst, 100))

	after1, after2 := b.Headroom(inst)
	require.Equal(t, 4, after1)
	require.Equal(t, 400, after2)

	// Reading headroom again must not itself consume anything further.
	again1, again2 := b.Headroom(inst)
	require.Equal(t, after1, again1)
	require.Equal(t, after2, again2)
}
