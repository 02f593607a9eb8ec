package api

import "github.com/blueberrycongee/llmcore/pkg/types"

// estimateTokens gives a cheap, deterministic pre-admission token estimate:
// roughly four characters per token, summed across the request's messages.
// This is intentionally crude — accurate accounting happens downstream via
// the provider's own usage fields — it only needs to be good enough to bias
// admission toward the right bucket (§4.2, §4.3).
func estimateTokens(req types.ChatRequest) int {
	chars := len(req.Message)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		chars += *req.MaxTokens * 4
	}
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
