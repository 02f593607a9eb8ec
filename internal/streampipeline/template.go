// Package streampipeline builds the downstream request payload from an
// instance's template, normalizes the upstream SSE stream, and extracts
// a homogeneous chunk from each upstream JSON object (§4.7).
//
// Template rewriting is expressed as a tagged sum over JSON node kinds
// (object/array/string/number/bool/null) with a single recursive
// rewrite function, per §9's "visitor vs. class hierarchy" note — no
// subclass dispatch, no per-placeholder type.
package streampipeline

import (
	json "github.com/goccy/go-json"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

// RenderContext carries the caller-supplied values a template placeholder
// may be substituted with.
type RenderContext struct {
	Model            string
	Messages         []types.ChatMessage
	Stream           bool
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	User             string
	Stop             []string
	Extra            map[string]any
	IdempotencyKey   string
}

// placeholderValue resolves a $token to its value from ctx. It reports
// false for an unknown token and for an optional placeholder the caller
// left unset; rewrite then keeps the template string unchanged.
func placeholderValue(token string, ctx RenderContext) (any, bool) {
	switch token {
	case "$model":
		return ctx.Model, true
	case "$messages":
		return messagesToAny(ctx.Messages), true
	case "$stream":
		return ctx.Stream, true
	case "$temperature":
		return derefOrNil(ctx.Temperature), ctx.Temperature != nil
	case "$max_tokens":
		return derefIntOrNil(ctx.MaxTokens), ctx.MaxTokens != nil
	case "$top_p":
		return derefOrNil(ctx.TopP), ctx.TopP != nil
	case "$frequency_penalty":
		return derefOrNil(ctx.FrequencyPenalty), ctx.FrequencyPenalty != nil
	case "$presence_penalty":
		return derefOrNil(ctx.PresencePenalty), ctx.PresencePenalty != nil
	case "$user":
		return ctx.User, ctx.User != ""
	case "$stop":
		return stopToAny(ctx.Stop), len(ctx.Stop) > 0
	case "$extra":
		return ctx.Extra, len(ctx.Extra) > 0
	case "$idempotency_key":
		return ctx.IdempotencyKey, ctx.IdempotencyKey != ""
	default:
		return nil, false
	}
}

func messagesToAny(msgs []types.ChatMessage) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}

func stopToAny(stop []string) []any {
	out := make([]any, len(stop))
	for i, s := range stop {
		out[i] = s
	}
	return out
}

func derefOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func derefIntOrNil(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

// RenderPayload builds the outbound JSON payload for one request. If
// instanceTemplate parses as a JSON object, placeholders are rewritten
// recursively; otherwise a minimal default payload is constructed. The
// instance's configured model name always overwrites "model" last,
// regardless of template content.
func RenderPayload(instanceTemplate string, instanceModel string, ctx RenderContext) ([]byte, error) {
	var node any
	useTemplate := false
	if instanceTemplate != "" {
		if err := json.Unmarshal([]byte(instanceTemplate), &node); err == nil {
			if _, ok := node.(map[string]any); ok {
				useTemplate = true
			}
		}
	}

	var payload map[string]any
	if useTemplate {
		rewritten := rewrite(node, ctx)
		payload, _ = rewritten.(map[string]any)
	}
	if payload == nil {
		payload = defaultPayload(ctx)
	}
	payload["model"] = instanceModel

	return json.Marshal(payload)
}

func defaultPayload(ctx RenderContext) map[string]any {
	content := ""
	if len(ctx.Messages) > 0 {
		content = ctx.Messages[len(ctx.Messages)-1].Content
	}
	return map[string]any{
		"stream": true,
		"model":  ctx.Model,
		"messages": []any{
			map[string]any{"role": "user", "content": content},
		},
	}
}

// rewrite is the single recursive tagged-sum walk: a node is exactly one
// of object/array/string/number/bool/null, dispatched by a type switch
// rather than polymorphic subclasses.
func rewrite(node any, ctx RenderContext) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = rewrite(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = rewrite(val, ctx)
		}
		return out
	case string:
		if resolved, ok := placeholderValue(v, ctx); ok {
			return resolved
		}
		return v
	default:
		// number, bool, nil pass through unchanged.
		return v
	}
}
