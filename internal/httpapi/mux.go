// Package httpapi exposes the latest snapshot and session control over HTTP.
// The status page needs views.LoadTemplates to have been called.
package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"wotnode-gateway/internal/session"
	"wotnode-gateway/internal/snapshot/repository"
	"wotnode-gateway/internal/telemetry"
)

// SessionController is the part of *session.Session the handlers drive.
type SessionController interface {
	Running() bool
	Suspended() bool
	Suspend()
	Resume()
	Refresh(ctx context.Context) error
	TriggerManualRefresh(ctx context.Context) bool
	Stats() session.Stats
}

type Deps struct {
	DB      *sql.DB
	Session SessionController
	Latest  *telemetry.Latest
	// Events is optional; without it /api/session/events is not served.
	Events     repository.SnapshotRepository
	NodeID     string
	StaleAfter time.Duration
	// PageRefreshSeconds is the status page reload interval.
	PageRefreshSeconds int
	Logger             *slog.Logger
	Now                func() time.Time
}

func NewMux(d Deps) *http.ServeMux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	mux := http.NewServeMux()
	registerHealthcheck(mux, d)
	registerSnapshot(mux, d)
	registerSession(mux, d)
	registerUI(mux, d)
	return mux
}
