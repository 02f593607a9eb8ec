package streampipeline

import (
	"bytes"
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

func TestExtractPath_WalksObjectAndArrayIndices(t *testing.T) {
	data := map[string]any{
		"choices": []any{
			map[string]any{"delta": map[string]any{"content": "hi"}, "index": float64(0)},
		},
	}
	v, ok := ExtractPath(data, "choices.0.delta.content")
	require.True(t, ok)
	require.Equal(t, "hi", v)
}

func TestExtractPath_MissingSegmentReturnsNotOK(t *testing.T) {
	data := map[string]any{"choices": []any{}}
	_, ok := ExtractPath(data, "choices.0.delta.content")
	require.False(t, ok)
}

func TestExtractPath_EmptyPathReturnsNotOK(t *testing.T) {
	_, ok := ExtractPath(map[string]any{"a": 1}, "")
	require.False(t, ok)
}

func TestNormalizeChunk_StripsRepeatedDataPrefixes(t *testing.T) {
	lines := NormalizeChunk(`data: data: {"a":1}`)
	require.Len(t, lines, 1)
	require.Equal(t, LineJSON, lines[0].Kind)
	require.Equal(t, `{"a":1}`, lines[0].JSON)
}

func TestNormalizeChunk_DetectsDoneCaseInsensitively(t *testing.T) {
	lines := NormalizeChunk("data: [done]")
	require.Len(t, lines, 1)
	require.Equal(t, LineDone, lines[0].Kind)
}

func TestNormalizeChunk_DropsNonObjectNonDoneContent(t *testing.T) {
	lines := NormalizeChunk("data: keep-alive")
	require.Empty(t, lines)
}

func TestNormalizeChunk_SkipsBlankLines(t *testing.T) {
	lines := NormalizeChunk("data: {\"a\":1}\n\n\ndata: [DONE]")
	require.Len(t, lines, 2)
	require.Equal(t, LineJSON, lines[0].Kind)
	require.Equal(t, LineDone, lines[1].Kind)
}

func TestExtractNormalizedChunk_FillsDefaultsForMissingFields(t *testing.T) {
	var seq atomic.Int64
	obj := map[string]any{}
	chunk := ExtractNormalizedChunk(obj, types.DefaultResponseFieldPaths(), "gpt-x", "req-1", &seq)

	require.Equal(t, "req-1", chunk.ID)
	require.Equal(t, "gpt-x", chunk.Model)
	require.Len(t, chunk.Choices, 1)
	require.Equal(t, "", chunk.Choices[0].Delta.Content)
	require.Equal(t, 0, chunk.Choices[0].Index)

	// A second call without an explicit sequence path advances the
	// fallback counter rather than repeating the same index.
	chunk2 := ExtractNormalizedChunk(obj, types.DefaultResponseFieldPaths(), "gpt-x", "req-1", &seq)
	require.Equal(t, 1, chunk2.Choices[0].Index)
}

func TestExtractNormalizedChunk_PrefersObjectFieldsOverDefaults(t *testing.T) {
	var seq atomic.Int64
	obj := map[string]any{
		"id": "upstream-id",
		"choices": []any{
			map[string]any{"delta": map[string]any{"content": "hello"}, "index": float64(3)},
		},
	}
	chunk := ExtractNormalizedChunk(obj, types.DefaultResponseFieldPaths(), "gpt-x", "req-1", &seq)
	require.Equal(t, "upstream-id", chunk.ID)
	require.Equal(t, "hello", chunk.Choices[0].Delta.Content)
	require.Equal(t, 3, chunk.Choices[0].Index)
}

func TestRenderPayload_SubstitutesPlaceholdersAndOverwritesModel(t *testing.T) {
	tmpl := `{"model":"$model","stream":"$stream","messages":"$messages","other_model":"should-not-change"}`
	ctx := RenderContext{
		Model:    "ignored-in-template",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
		Stream:   true,
	}
	out, err := RenderPayload(tmpl, "actual-instance-model", ctx)
	require.NoError(t, err)
	require.Contains(t, string(out), `"model":"actual-instance-model"`)
	require.Contains(t, string(out), `"stream":true`)
	require.Contains(t, string(out), `"other_model":"should-not-change"`)
}

func TestRenderPayload_LeavesUnsetOptionalPlaceholderLiteral(t *testing.T) {
	tmpl := `{"model":"$model","temperature":"$temperature"}`
	ctx := RenderContext{Model: "m"}
	out, err := RenderPayload(tmpl, "m", ctx)
	require.NoError(t, err)
	// temperature placeholder had no value, so it passes through as the
	// literal token rather than being resolved.
	require.Contains(t, string(out), `"temperature":"$temperature"`)
}

func TestRenderPayload_FallsBackToDefaultPayloadOnInvalidTemplate(t *testing.T) {
	out, err := RenderPayload("not-json", "m", RenderContext{
		Messages: []types.ChatMessage{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	require.Contains(t, string(out), `"model":"m"`)
	require.Contains(t, string(out), `"hello"`)
}

func TestRenderPayload_FallsBackWhenTemplateIsNotAnObject(t *testing.T) {
	out, err := RenderPayload(`["a","b"]`, "m", RenderContext{})
	require.NoError(t, err)
	require.Contains(t, string(out), `"model":"m"`)
}

func TestForwarder_ForwardsNormalizedChunksAndDone(t *testing.T) {
	upstream := bytes.NewBufferString(
		"data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"a\"},\"index\":0}]}\n" +
			"data: [DONE]\n",
	)
	rec := httptest.NewRecorder()
	f := &Forwarder{
		Instance: &types.ModelInstance{
			Model:              "m",
			ResponseFieldPaths: types.DefaultResponseFieldPaths(),
		},
		DefaultRequestID: "fallback-id",
	}

	err := f.Forward(context.Background(), upstream, rec)
	require.NoError(t, err)

	body := rec.Body.String()
	require.Contains(t, body, `"content":"a"`)
	require.Contains(t, body, types.Done)
	require.NotContains(t, body, "data:", "client-facing output must not carry SSE data: framing")
}

func TestForwarder_RawPassthroughForwardsObjectUnmodified(t *testing.T) {
	upstream := bytes.NewBufferString(`data: {"custom":"shape"}` + "\n")
	rec := httptest.NewRecorder()
	f := &Forwarder{
		Instance:         &types.ModelInstance{Model: "m", RawPassthrough: true},
		DefaultRequestID: "fallback-id",
		RawPassthrough:   true,
	}

	err := f.Forward(context.Background(), upstream, rec)
	require.NoError(t, err)
	require.Contains(t, rec.Body.String(), `{"custom":"shape"}`)
}

func TestForwarder_StopsOnContextCancellation(t *testing.T) {
	upstream := bytes.NewBufferString(
		"data: {\"id\":\"x\"}\n" + "data: {\"id\":\"y\"}\n",
	)
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &Forwarder{
		Instance:         &types.ModelInstance{Model: "m", ResponseFieldPaths: types.DefaultResponseFieldPaths()},
		DefaultRequestID: "fallback-id",
	}
	err := f.Forward(ctx, upstream, rec)
	require.Error(t, err)
}
