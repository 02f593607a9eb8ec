// Package api implements the client-facing HTTP boundary: the inbound
// chat-completions endpoint (§6) and the admin status/settings surface
// (SPEC_FULL §4 supplemented admin surface).
package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	llmerrors "github.com/blueberrycongee/llmcore/pkg/errors"
	"github.com/blueberrycongee/llmcore/internal/idempotency"
	"github.com/blueberrycongee/llmcore/internal/router"
	"github.com/blueberrycongee/llmcore/internal/streampipeline"
	"github.com/blueberrycongee/llmcore/pkg/types"
)

// ClientGetter hands back a pooled *http.Client for an instance; satisfied
// by *httpclient.Manager without this package importing it directly.
type ClientGetter interface {
	Get(inst *types.ModelInstance) *http.Client
}

// ChatHandler implements POST /v1/chat/completions: admission, payload
// rendering, the outbound call, and stream forwarding.
type ChatHandler struct {
	Router       *router.Router
	Idempotency  idempotency.Store
	ClientGetter ClientGetter
	Log          *slog.Logger
}

func (h *ChatHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req types.ChatRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeReasonError(w, llmerrors.ReasonBadRequest, "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Messages) == 0 {
		writeReasonError(w, llmerrors.ReasonBadRequest, "message or messages is required")
		return
	}

	ctx := r.Context()
	requestID := req.IdempotencyKey
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ok, err := h.Idempotency.TryAcquire(ctx, req.IdempotencyKey, idempotency.DefaultTTL)
	if err != nil {
		h.logger().Error("idempotency store error, admitting request", "error", err)
	} else if !ok {
		writeReasonError(w, llmerrors.ReasonDuplicateRequest, "duplicate idempotency key")
		return
	}

	tokens := estimateTokens(req)
	acq := h.Router.Acquire(tokens)
	if acq == nil {
		_ = h.Idempotency.Release(ctx, req.IdempotencyKey)
		writeReasonError(w, llmerrors.ReasonNoInstanceOrLimit, "no instance available under current budget or queue capacity")
		return
	}
	inst := acq.Instance

	var released bool
	release := func() {
		if released {
			return
		}
		released = true
		acq.Release()
		_ = h.Idempotency.Release(ctx, req.IdempotencyKey)
	}
	defer release()

	renderCtx := streampipeline.RenderContext{
		Model:            inst.Model,
		Messages:         req.Messages,
		Stream:           true,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		User:             req.User,
		Stop:             req.Stop,
		Extra:            req.Extra,
		IdempotencyKey:   requestID,
	}
	if len(renderCtx.Messages) == 0 && req.Message != "" {
		renderCtx.Messages = []types.ChatMessage{{Role: "user", Content: req.Message}}
	}

	payload, err := streampipeline.RenderPayload(inst.RequestTemplate, inst.Model, renderCtx)
	if err != nil {
		inst.Runtime.RecordFailure(types.NowMs())
		writeReasonError(w, llmerrors.ReasonUnexpectedError, "failed to render downstream payload")
		return
	}

	outReq, err := http.NewRequestWithContext(ctx, http.MethodPost, inst.BaseURL, bytes.NewReader(payload))
	if err != nil {
		inst.Runtime.RecordFailure(types.NowMs())
		writeReasonError(w, llmerrors.ReasonUnexpectedError, "failed to build downstream request")
		return
	}
	outReq.Header.Set("Content-Type", "application/json")
	outReq.Header.Set("Authorization", "Bearer "+inst.APIKey)
	if strings.EqualFold(inst.Provider, "azure") {
		outReq.Header.Set("api-key", inst.APIKey)
	}
	outReq.Header.Set("X-Request-Id", requestID)
	outReq.Header.Set("Idempotency-Key", requestID)

	client := h.ClientGetter.Get(inst)
	start := time.Now()
	resp, err := client.Do(outReq)
	if err != nil {
		inst.Runtime.RecordFailure(types.NowMs())
		if ctx.Err() != nil {
			// Client disconnected before any response; nothing useful to
			// write back, headers are still unsent.
			return
		}
		writeReasonError(w, llmerrors.ReasonNoInstanceOrLimit, "downstream request failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		llmErr := classifyDownstreamError(inst, resp.StatusCode, string(body))

		// Only a cooldown-worthy status (rate limit, auth, timeout, not
		// found, 5xx) counts against the instance's circuit breaker; a
		// plain 400 is the caller's payload, not a backend health signal.
		if llmerrors.IsCooldownRequired(resp.StatusCode) {
			inst.Runtime.RecordFailure(types.NowMs())
		}
		h.logger().Warn("downstream error response", "instance_id", inst.ID, "status", resp.StatusCode, "error_type", llmErr.Type, "retryable", llmErr.Retryable)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(body)
		return
	}

	// Headers flush with the stream starting; from here on, a downstream
	// failure is a mid-flight abort with no further HTTP status to give
	// the client (§7 DOWNSTREAM_ERROR / CLIENT_CANCELLED).
	w.WriteHeader(http.StatusOK)

	forwarder := &streampipeline.Forwarder{
		Instance:         inst,
		DefaultRequestID: requestID,
		RawPassthrough:   inst.RawPassthrough,
	}
	ferr := forwarder.Forward(ctx, resp.Body, w)
	latencyMs := time.Since(start).Milliseconds()

	if ferr != nil {
		inst.Runtime.RecordFailure(types.NowMs())
		if ctx.Err() != nil {
			h.logger().Debug("stream cancelled by client", "instance_id", inst.ID)
		} else {
			h.logger().Warn("stream aborted mid-flight", "instance_id", inst.ID, "error", ferr)
		}
		return
	}
	inst.Runtime.RecordSuccess(latencyMs, types.NowMs())
}
