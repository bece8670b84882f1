package httpapi

import (
	"net/http"

	"wotnode-gateway/internal/utils"
)

type healthchecker struct {
	deps Deps
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		if err := h.deps.DB.PingContext(r.Context()); err != nil {
			h.deps.Logger.Error("healthz: database unreachable", "error", err)
			utils.WriteError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	if h.deps.Session != nil && !h.deps.Session.Running() {
		utils.WriteError(w, http.StatusServiceUnavailable, "session not running")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux, d Deps) {
	h := &healthchecker{deps: d}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
