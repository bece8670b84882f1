package httpapi

import (
	"errors"
	"net/http"

	"wotnode-gateway/internal/session"
	"wotnode-gateway/internal/telemetry"
	"wotnode-gateway/internal/utils"
)

type snapshotResponse struct {
	NodeID string `json:"node_id"`
	telemetry.Snapshot
	Stale      bool    `json:"stale"`
	AgeSeconds float64 `json:"age_seconds"`
}

type snapshotController struct {
	deps Deps
}

func (c *snapshotController) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := c.deps.Latest.Get()
	if !ok {
		utils.WriteError(w, http.StatusNotFound, "no snapshot received yet")
		return
	}
	now := c.deps.Now()
	utils.WriteJSON(w, http.StatusOK, snapshotResponse{
		NodeID:     c.deps.NodeID,
		Snapshot:   snap,
		Stale:      snap.StaleAt(now, c.deps.StaleAfter),
		AgeSeconds: snap.AgeAt(now).Seconds(),
	})
}

// handleRefresh sends one request now. The reply, if any, arrives through
// the normal receive path.
func (c *snapshotController) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := c.deps.Session.Refresh(r.Context())
	switch {
	case err == nil:
		utils.WriteJSON(w, http.StatusAccepted, map[string]bool{"requested": true})
	case errors.Is(err, session.ErrSuspended):
		utils.WriteError(w, http.StatusConflict, "session suspended")
	case !c.deps.Session.Running():
		utils.WriteError(w, http.StatusServiceUnavailable, "session not running")
	default:
		c.deps.Logger.Warn("refresh: request not sent", "error", err)
		utils.WriteError(w, http.StatusBadGateway, err.Error())
	}
}

func registerSnapshot(mux *http.ServeMux, d Deps) {
	c := &snapshotController{deps: d}
	mux.HandleFunc("GET /api/snapshot", c.handleSnapshot)
	mux.HandleFunc("POST /api/refresh", c.handleRefresh)
}
