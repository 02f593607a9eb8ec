package strategy

import "github.com/blueberrycongee/llmcore/pkg/types"

// NewByTag builds the concrete Strategy matching an algorithm tag.
// "scored" selects the composite pressure-score variant; any other tag
// (including "traditional" and the SPEC_FULL-supplemented "weighted")
// selects Traditional, which is the canonical budget-based path.
func NewByTag(tag string, s types.Settings, now func() int64) Strategy {
	switch tag {
	case "scored":
		return NewScored(s, now)
	default:
		return NewTraditional(s, now)
	}
}
