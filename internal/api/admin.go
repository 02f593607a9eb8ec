package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/blueberrycongee/llmcore/internal/router"
	"github.com/blueberrycongee/llmcore/internal/settings"
	"github.com/blueberrycongee/llmcore/pkg/types"
)

// AdminHandler exposes the read/write status surface SPEC_FULL §4 adds on
// top of the core spec's "status must be observable" requirement: a
// snapshot of every runtime's lifecycle state and counters, and a
// settings-update endpoint that drives the same hot-swap path config-file
// reloads do.
type AdminHandler struct {
	Router          *router.Router
	SettingsManager *settings.Manager
}

// Strategies handles GET /admin/strategies: the per-runtime status list
// (§6's admin-observable ACTIVE/DRAINING/RETIRED lifecycle).
func (h *AdminHandler) Strategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	statuses := h.Router.Statuses()
	writeJSON(w, http.StatusOK, statuses)
}

// Settings handles GET/PUT /admin/settings: read the active settings
// snapshot, or push a new one through the same UpdateSettings contract a
// config-file reload uses.
func (h *AdminHandler) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Router.Settings())
	case http.MethodPut:
		var s types.Settings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := h.Router.UpdateSettings(r.Context(), s); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if h.SettingsManager != nil {
			_ = settings.SaveToFile(h.SettingsManager.Status().Path, s)
		}
		writeJSON(w, http.StatusOK, h.Router.Settings())
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
