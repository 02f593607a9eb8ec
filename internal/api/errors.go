package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	llmerrors "github.com/blueberrycongee/llmcore/pkg/errors"
	"github.com/blueberrycongee/llmcore/pkg/types"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// writeReasonError writes the §7 synchronous error envelope for a reject
// reason with a defined HTTP status. Reasons with no synchronous status
// (stream already started) must not reach this helper.
func writeReasonError(w http.ResponseWriter, reason llmerrors.Reason, message string) {
	status := llmerrors.HTTPStatusForReason(reason)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, err := json.Marshal(errorBody{Error: errorDetail{Reason: string(reason), Message: message}})
	if err != nil {
		return
	}
	_, _ = w.Write(body)
}

// classifyDownstreamError maps a >=400 downstream response to the
// teacher's LLMError provider-error taxonomy, so callers get a
// Type/Retryable classification instead of a bare status code.
func classifyDownstreamError(inst *types.ModelInstance, statusCode int, message string) *llmerrors.LLMError {
	switch statusCode {
	case http.StatusUnauthorized:
		return llmerrors.NewAuthenticationError(inst.Provider, inst.Model, message)
	case http.StatusTooManyRequests:
		return llmerrors.NewRateLimitError(inst.Provider, inst.Model, message)
	case http.StatusBadRequest:
		return llmerrors.NewInvalidRequestError(inst.Provider, inst.Model, message)
	case http.StatusNotFound:
		return llmerrors.NewNotFoundError(inst.Provider, inst.Model, message)
	case http.StatusRequestTimeout:
		return llmerrors.NewTimeoutError(inst.Provider, inst.Model, message)
	case http.StatusServiceUnavailable:
		return llmerrors.NewServiceUnavailableError(inst.Provider, inst.Model, message)
	default:
		if statusCode >= 500 {
			return llmerrors.NewInternalError(inst.Provider, inst.Model, message)
		}
		return &llmerrors.LLMError{
			StatusCode: statusCode,
			Message:    message,
			Type:       llmerrors.TypeInvalidRequest,
			Provider:   inst.Provider,
			Model:      inst.Model,
		}
	}
}
