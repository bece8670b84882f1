// Package repository persists the most recent snapshot per node and a short
// log of session state changes.
package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"wotnode-gateway/internal/telemetry"
)

//go:embed sql/upsert-latest.sql
var upsertLatestSQL string

//go:embed sql/get-latest.sql
var getLatestSQL string

//go:embed sql/insert-event.sql
var insertEventSQL string

//go:embed sql/prune-events.sql
var pruneEventsSQL string

// DefaultEventRetention is how many session events are kept per node.
const DefaultEventRetention = 500

//go:embed sql/get-recent-events.sql
var getRecentEventsSQL string

// Event is one recorded session transition (started, suspended, ...).
type Event struct {
	Name string    `json:"event"`
	At   time.Time `json:"at"`
}

type SnapshotRepository interface {
	SaveLatest(ctx context.Context, nodeID string, snap telemetry.Snapshot) error
	// GetLatest returns false when nothing has been stored for nodeID.
	GetLatest(ctx context.Context, nodeID string) (telemetry.Snapshot, bool, error)
	RecordEvent(ctx context.Context, nodeID, name string, at time.Time) error
	RecentEvents(ctx context.Context, nodeID string, limit int) ([]Event, error)
}

type repositoryImpl struct {
	db         *sql.DB
	keepEvents int
}

func NewRepository(db *sql.DB) SnapshotRepository {
	return &repositoryImpl{db: db, keepEvents: DefaultEventRetention}
}

func (r *repositoryImpl) SaveLatest(ctx context.Context, nodeID string, s telemetry.Snapshot) error {
	_, err := r.db.ExecContext(ctx, upsertLatestSQL,
		nodeID,
		s.Temperature,
		s.AverageTemperature,
		s.Humidity,
		s.AverageHumidity,
		s.Voltage,
		s.FreeMemoryBytes,
		formatTime(s.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("save latest snapshot: %w", err)
	}
	return nil
}

func (r *repositoryImpl) GetLatest(ctx context.Context, nodeID string) (telemetry.Snapshot, bool, error) {
	var (
		s  telemetry.Snapshot
		ts string
	)
	err := r.db.QueryRowContext(ctx, getLatestSQL, nodeID).Scan(
		&s.Temperature,
		&s.AverageTemperature,
		&s.Humidity,
		&s.AverageHumidity,
		&s.Voltage,
		&s.FreeMemoryBytes,
		&ts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return telemetry.Snapshot{}, false, nil
	}
	if err != nil {
		return telemetry.Snapshot{}, false, fmt.Errorf("get latest snapshot: %w", err)
	}
	if s.ReceivedAt, err = parseTime(ts); err != nil {
		return telemetry.Snapshot{}, false, err
	}
	return s, true, nil
}

// RecordEvent stores one event and drops the node's events beyond the
// newest keepEvents.
func (r *repositoryImpl) RecordEvent(ctx context.Context, nodeID, name string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record session event: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertEventSQL, nodeID, name, formatTime(at)); err != nil {
		return fmt.Errorf("record session event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, pruneEventsSQL, nodeID, nodeID, r.keepEvents); err != nil {
		return fmt.Errorf("prune session events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record session event: %w", err)
	}
	return nil
}

func (r *repositoryImpl) RecentEvents(ctx context.Context, nodeID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, getRecentEventsSQL, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Event{}
	for rows.Next() {
		var (
			e  Event
			ts string
		)
		if err := rows.Scan(&e.Name, &ts); err != nil {
			return nil, err
		}
		if e.At, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
