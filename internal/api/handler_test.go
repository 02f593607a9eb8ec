package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmcore/internal/idempotency"
	"github.com/blueberrycongee/llmcore/internal/router"
	"github.com/blueberrycongee/llmcore/internal/strategy"
	"github.com/blueberrycongee/llmcore/pkg/types"
)

type fakeInstanceStore struct {
	instances []*types.ModelInstance
}

func (s *fakeInstanceStore) Load(context.Context) ([]*types.ModelInstance, error) {
	return s.instances, nil
}

type fakeClientMgr struct{}

func (c *fakeClientMgr) Refresh(map[string]struct{}) {}

type staticClientGetter struct {
	client *http.Client
}

func (g *staticClientGetter) Get(*types.ModelInstance) *http.Client { return g.client }

func baseSettings() types.Settings {
	return types.Settings{
		AlgorithmTag:    "traditional",
		SamplingCount:   2,
		SamplingRounds:  2,
		BucketCount:     5,
		MaxContextK:     8,
		QueueCapacity:   4,
		PoolOrderingCSV: "default",
	}
}

func newTestRouter(t *testing.T, inst *types.ModelInstance) *router.Router {
	t.Helper()
	store := &fakeInstanceStore{instances: []*types.ModelInstance{inst}}
	r := router.New(baseSettings(), store, &fakeClientMgr{}, func(tag string, s types.Settings) strategy.Strategy {
		return strategy.NewByTag(tag, s, func() int64 { return 0 })
	})
	require.NoError(t, r.Refresh(context.Background()))
	return r
}

func TestChatHandler_RejectsNonPostMethod(t *testing.T) {
	h := &ChatHandler{}
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChatHandler_RejectsMalformedJSON(t *testing.T) {
	h := &ChatHandler{Idempotency: idempotency.NewMemoryStore(0)}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatHandler_RejectsEmptyMessage(t *testing.T) {
	h := &ChatHandler{Idempotency: idempotency.NewMemoryStore(0)}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatHandler_RejectsDuplicateIdempotencyKey(t *testing.T) {
	idem := idempotency.NewMemoryStore(0)
	ok, err := idem.TryAcquire(context.Background(), "dup-key", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	h := &ChatHandler{Idempotency: idem}
	body := `{"message":"hi","idempotencyKey":"dup-key"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestChatHandler_ReturnsServiceUnavailableWhenNoInstanceAvailable(t *testing.T) {
	rtr := newTestRouter(t, &types.ModelInstance{ID: "a", Active: false, RPMLimit: 10, TPMLimit: 10000})

	h := &ChatHandler{
		Router:      rtr,
		Idempotency: idempotency.NewMemoryStore(0),
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChatHandler_StreamsNormalizedChunksOnSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"id\":\"up-1\",\"choices\":[{\"delta\":{\"content\":\"hello\"},\"index\":0}]}\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	inst := &types.ModelInstance{
		ID:                 "a",
		Active:             true,
		RPMLimit:           100,
		TPMLimit:           100000,
		BaseURL:            upstream.URL,
		Model:              "gpt-test",
		ResponseFieldPaths: types.DefaultResponseFieldPaths(),
	}
	rtr := newTestRouter(t, inst)

	h := &ChatHandler{
		Router:       rtr,
		Idempotency:  idempotency.NewMemoryStore(0),
		ClientGetter: &staticClientGetter{client: upstream.Client()},
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"content":"hello"`)
	require.Contains(t, rec.Body.String(), types.Done)
	require.Equal(t, int64(1), inst.Runtime.Snapshot().RequestCount)
}

func TestChatHandler_PassesThroughDownstreamErrorStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer upstream.Close()

	inst := &types.ModelInstance{
		ID: "a", Active: true, RPMLimit: 100, TPMLimit: 100000,
		BaseURL: upstream.URL, Model: "gpt-test",
		ResponseFieldPaths: types.DefaultResponseFieldPaths(),
	}
	rtr := newTestRouter(t, inst)

	h := &ChatHandler{
		Router:       rtr,
		Idempotency:  idempotency.NewMemoryStore(0),
		ClientGetter: &staticClientGetter{client: upstream.Client()},
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, int64(1), inst.Runtime.Snapshot().FailureCount)
}
