package api

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

func TestEstimateTokens_FloorsAtOneForEmptyRequest(t *testing.T) {
	require.Equal(t, 1, estimateTokens(types.ChatRequest{}))
}

func TestEstimateTokens_GrowsWithMessageLength(t *testing.T) {
	short := estimateTokens(types.ChatRequest{Message: "hi"})
	long := estimateTokens(types.ChatRequest{Message: "this is a much longer message body than the short one"})
	require.Less(t, short, long)
}

func TestEstimateTokens_IncludesMaxTokensBudget(t *testing.T) {
	maxTokens := 1000
	withBudget := estimateTokens(types.ChatRequest{Message: "hi", MaxTokens: &maxTokens})
	withoutBudget := estimateTokens(types.ChatRequest{Message: "hi"})
	require.Greater(t, withBudget, withoutBudget)
}

func TestEstimateTokens_SumsAcrossMultipleMessages(t *testing.T) {
	tokens := estimateTokens(types.ChatRequest{
		Messages: []types.ChatMessage{
			{Role: "user", Content: "aaaaaaaaaa"},
			{Role: "assistant", Content: "bbbbbbbbbb"},
		},
	})
	require.Equal(t, 5, tokens)
}
