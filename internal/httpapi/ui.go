package httpapi

import (
	"bytes"
	"net/http"

	"wotnode-gateway/internal/utils"
	"wotnode-gateway/internal/views"
)

type uiController struct {
	deps Deps
}

func (c *uiController) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	data := views.StatusData{
		NodeID:         c.deps.NodeID,
		Running:        c.deps.Session.Running(),
		Suspended:      c.deps.Session.Suspended(),
		RefreshSeconds: c.deps.PageRefreshSeconds,
	}
	if snap, ok := c.deps.Latest.Get(); ok {
		data.Snapshot = &snap
		data.Stale = snap.StaleAt(c.deps.Now(), c.deps.StaleAfter)
	}

	var buf bytes.Buffer
	if err := views.RenderStatus(&buf, data); err != nil {
		c.deps.Logger.Error("status page render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		c.deps.Logger.Debug("status page: write failed", "error", err)
	}
}

// handleRefreshButton fires a one-shot poll and sends the browser back to
// the status page; the reply shows up on a later reload.
func (c *uiController) handleRefreshButton(w http.ResponseWriter, r *http.Request) {
	if !c.deps.Session.TriggerManualRefresh(r.Context()) {
		c.deps.Logger.Info("refresh button ignored", "suspended", c.deps.Session.Suspended())
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func registerUI(mux *http.ServeMux, d Deps) {
	c := &uiController{deps: d}
	mux.HandleFunc("GET /{$}", c.handleStatusPage)
	mux.HandleFunc("POST /refresh", c.handleRefreshButton)
}
