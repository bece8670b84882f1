package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"wotnode-gateway/internal/session"
	"wotnode-gateway/internal/utils"
)

type sessionStatus struct {
	NodeID    string        `json:"node_id"`
	Running   bool          `json:"running"`
	Suspended bool          `json:"suspended"`
	Stats     session.Stats `json:"stats"`
}

type sessionController struct {
	deps Deps
}

func (c *sessionController) status() sessionStatus {
	s := c.deps.Session
	return sessionStatus{
		NodeID:    c.deps.NodeID,
		Running:   s.Running(),
		Suspended: s.Suspended(),
		Stats:     s.Stats(),
	}
}

func (c *sessionController) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, c.status())
}

func (c *sessionController) handleSuspend(w http.ResponseWriter, r *http.Request) {
	c.deps.Session.Suspend()
	utils.WriteJSON(w, http.StatusOK, c.status())
}

func (c *sessionController) handleResume(w http.ResponseWriter, r *http.Request) {
	c.deps.Session.Resume()
	utils.WriteJSON(w, http.StatusOK, c.status())
}

func (c *sessionController) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := c.deps.Events.RecentEvents(r.Context(), c.deps.NodeID, limit)
	if err != nil {
		c.deps.Logger.Error("events: query failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load session events")
		return
	}
	utils.WriteJSON(w, http.StatusOK, events)
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 20, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 || n > 500 {
		return 0, errors.New("'limit' must be in 1..500")
	}
	return n, nil
}

func registerSession(mux *http.ServeMux, d Deps) {
	c := &sessionController{deps: d}
	mux.HandleFunc("GET /api/session", c.handleStatus)
	mux.HandleFunc("POST /api/session/suspend", c.handleSuspend)
	mux.HandleFunc("POST /api/session/resume", c.handleResume)
	if d.Events != nil {
		mux.HandleFunc("GET /api/session/events", c.handleEvents)
	}
}
