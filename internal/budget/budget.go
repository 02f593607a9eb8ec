// Package budget implements the per-instance rolling-minute admission
// counter described in §4.3: a coarse window counter, not a token
// bucket. A successful acquire debits the window for up to the next
// 60 seconds; there is no explicit release.
package budget

import (
	"sync"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

const windowMs = 60_000

// InstanceBudget gates admission for one instance against its effective
// RPM/TPM using a single mutex around the window-and-counters block.
type InstanceBudget struct {
	mu sync.Mutex

	windowStartMs int64
	usedRPM       int
	usedTPM       int

	now func() int64
}

// New returns a budget gate with its window anchored at construction
// time. now defaults to types.NowMs.
func New(now func() int64) *InstanceBudget {
	if now == nil {
		now = types.NowMs
	}
	return &InstanceBudget{windowStartMs: now(), now: now}
}

// TryAcquire attempts to admit one request estimated at tokens against
// the instance's effective limits. It returns false without debiting
// the window when the instance is unhealthy or either limit would be
// breached; an expired window is still rolled over before the check.
func (b *InstanceBudget) TryAcquire(inst *types.ModelInstance, tokens int) bool {
	if inst == nil || !inst.Healthy() {
		return false
	}
	effRPM := inst.EffectiveRPM()
	effTPM := inst.EffectiveTPM()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now-b.windowStartMs >= windowMs || now < b.windowStartMs {
		b.windowStartMs = now
		b.usedRPM = 0
		b.usedTPM = 0
	}

	if tokens < 0 {
		tokens = 0
	}
	nextRPM := b.usedRPM + 1
	nextTPM := b.usedTPM + tokens

	if effRPM > 0 && nextRPM > effRPM {
		return false
	}
	if effTPM > 0 && nextTPM > effTPM {
		return false
	}

	b.usedRPM = nextRPM
	b.usedTPM = nextTPM
	return true
}

// Headroom reports advisory available RPM/TPM after rolling the window
// if needed, without consuming any budget. Used only by monitoring.
func (b *InstanceBudget) Headroom(inst *types.ModelInstance) (availableRPM, availableTPM int) {
	effRPM := inst.EffectiveRPM()
	effTPM := inst.EffectiveTPM()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	usedRPM, usedTPM := b.usedRPM, b.usedTPM
	if now-b.windowStartMs >= windowMs || now < b.windowStartMs {
		usedRPM, usedTPM = 0, 0
	}

	availableRPM = effRPM - usedRPM
	if availableRPM < 0 {
		availableRPM = 0
	}
	availableTPM = effTPM - usedTPM
	if availableTPM < 0 {
		availableTPM = 0
	}
	return availableRPM, availableTPM
}
