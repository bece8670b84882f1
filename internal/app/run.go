package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"wotnode-gateway/internal/config"
	"wotnode-gateway/internal/db"
	"wotnode-gateway/internal/httpapi"
	"wotnode-gateway/internal/migrate"
	"wotnode-gateway/internal/mqtt"
	"wotnode-gateway/internal/session"
	"wotnode-gateway/internal/snapshot/repository"
	"wotnode-gateway/internal/telemetry"
	"wotnode-gateway/internal/views"
)

const (
	mqttConnectTimeout = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
	storeTimeout       = 2 * time.Second
	minStaleCheck      = 10 * time.Millisecond
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	return run(ctx, cfg, logger, nil)
}

// run is Run with a hook that receives the HTTP listen address once the
// gateway is serving.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, ready func(httpAddr net.Addr)) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing gateway",
		"node_id", cfg.NodeID,
		"udp_bind", cfg.UDPBindAddr,
		"udp_local_port", cfg.UDPLocalPort,
		"udp_remote_port", cfg.UDPRemotePort,
		"broadcast_addr", cfg.BroadcastAddr,
		"net_interface", cfg.NetInterface,
		"poll_interval", cfg.PollInterval.String(),
		"http_addr", cfg.HTTPAddr,
		"sqlite_path", cfg.SQLitePath,
		"mqtt_enabled", cfg.MQTTEnabled,
	)

	if err := views.LoadTemplates(); err != nil {
		return err
	}

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(dbConn); err != nil {
			logger.Error("db close", "error", err)
		}
	}()
	if _, err := migrate.Run(ctx, dbConn, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	repo := repository.NewRepository(dbConn)

	latest := telemetry.NewLatest()
	if snap, ok, err := repo.GetLatest(ctx, cfg.NodeID); err != nil {
		logger.Warn("could not restore last snapshot", "error", err)
	} else if ok {
		latest.Set(snap)
		logger.Info("restored last snapshot", "received_at", snap.ReceivedAt)
	}

	// A socket that cannot be bound ends the run.
	sess, err := session.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var mqttClient *mqtt.Client
	defer func() {
		var pub disconnecter
		if mqttClient != nil {
			pub = mqttClient
		}
		stopSession(sess, pub, logger)
		recordEvent(repo, cfg.NodeID, "stopped", logger)
	}()

	sess.OnStateChange(func(suspended bool) {
		name := "resumed"
		if suspended {
			name = "suspended"
		}
		recordEvent(repo, cfg.NodeID, name, logger)
	})
	sess.OnSnapshot(latest.Set)
	sess.OnSnapshot(func(snap telemetry.Snapshot) {
		storeCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := repo.SaveLatest(storeCtx, cfg.NodeID, snap); err != nil {
			logger.Warn("could not persist snapshot", "error", err)
		}
	})

	if cfg.MQTTEnabled {
		mqttClient, err = mqtt.NewClient(cfg, logger)
		if err != nil {
			return err
		}
		connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		if err := mqttClient.Connect(connectCtx); err != nil {
			logger.Warn("mqtt connection failed (continuing, client keeps retrying)", "error", err)
		}
		cancel()
		sess.OnSnapshot(mqttClient.Consumer())
	}

	if err := sess.Start(ctx); err != nil {
		return err
	}
	recordEvent(repo, cfg.NodeID, "started", logger)

	go watchStaleness(ctx, cfg, latest, mqttClient, logger)

	mux := httpapi.NewMux(httpapi.Deps{
		DB:                 dbConn,
		Session:            sess,
		Latest:             latest,
		Events:             repo,
		NodeID:             cfg.NodeID,
		StaleAfter:         cfg.StaleAfter,
		PageRefreshSeconds: pageRefreshSeconds(cfg.PollInterval),
		Logger:             logger,
	})
	srv := httpapi.NewServer(cfg.HTTPAddr, mux, logger)
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", cfg.HTTPAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	logger.Info("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if mqttClient != nil {
		if snap, ok := latest.Get(); ok {
			_ = mqttClient.PublishHealth(false, snap.ReceivedAt)
		}
	}
	return ctx.Err()
}

type stopper interface {
	Stop() error
}

type disconnecter interface {
	Disconnect()
}

// stopSession stops the session before disconnecting pub so the dispatcher
// never hands a snapshot to a closed client. pub may be nil.
func stopSession(sess stopper, pub disconnecter, logger *slog.Logger) {
	if err := sess.Stop(); err != nil {
		logger.Warn("session stop", "error", err)
	}
	if pub != nil {
		pub.Disconnect()
	}
}

// pageRefreshSeconds reloads the status page once per poll, at least every second.
func pageRefreshSeconds(poll time.Duration) int {
	if n := int(poll / time.Second); n > 1 {
		return n
	}
	return 1
}

func recordEvent(repo repository.SnapshotRepository, nodeID, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := repo.RecordEvent(ctx, nodeID, name, time.Now()); err != nil {
		logger.Warn("could not record session event", "event", name, "error", err)
	}
}

// staleCheckInterval checks twice per STALE_AFTER, never faster than
// minStaleCheck.
func staleCheckInterval(staleAfter time.Duration) time.Duration {
	return max(staleAfter/2, minStaleCheck)
}

// watchStaleness logs, and reports over MQTT, when the node stops
// answering for longer than STALE_AFTER.
func watchStaleness(ctx context.Context, cfg config.Config, latest *telemetry.Latest, pub *mqtt.Client, logger *slog.Logger) {
	if cfg.StaleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(staleCheckInterval(cfg.StaleAfter))
	defer ticker.Stop()

	stale := false
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap, ok := latest.Get()
			isStale := !ok || snap.StaleAt(now, cfg.StaleAfter)
			if isStale == stale {
				continue
			}
			stale = isStale
			if stale {
				logger.Warn("node: no fresh snapshot", "stale_after", cfg.StaleAfter.String(), "last_received_at", snap.ReceivedAt)
			} else {
				logger.Info("node: snapshots fresh again", "received_at", snap.ReceivedAt)
			}
			if pub != nil {
				if err := pub.PublishHealth(!stale, snap.ReceivedAt); err != nil {
					logger.Debug("mqtt: health not published", "error", err)
				}
			}
		}
	}
}
