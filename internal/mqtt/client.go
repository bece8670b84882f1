// Package mqtt publishes decoded node snapshots and node health to a broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wotnode-gateway/internal/config"
	"wotnode-gateway/internal/telemetry"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt client stopped")
)

const (
	qosAtLeastOnce = 1
	publishTimeout = 5 * time.Second
)

type Client struct {
	client  mqtt.Client
	prefix  string
	nodeID  string
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Telemetry is the JSON body published on the telemetry topic.
type Telemetry struct {
	NodeID             string    `json:"node_id"`
	Timestamp          time.Time `json:"timestamp"`
	Temperature        float64   `json:"temperature_c"`
	AverageTemperature float64   `json:"avg_temperature_c"`
	Humidity           float64   `json:"humidity_pct"`
	AverageHumidity    float64   `json:"avg_humidity_pct"`
	Voltage            float64   `json:"voltage_v"`
	FreeMemoryBytes    int64     `json:"free_ram_bytes"`
}

// NodeHealth is retained on the health topic.
type NodeHealth struct {
	NodeID   string    `json:"node_id"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

func TelemetryTopic(prefix, nodeID string) string {
	return joinTopic(prefix, nodeID, "telemetry")
}

func HealthTopic(prefix, nodeID string) string {
	return joinTopic(prefix, nodeID, "health")
}

func joinTopic(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if cfg.MQTTBroker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	c := newClient(nil, cfg.MQTTTopicPrefix, cfg.NodeID, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// The broker reports the gateway unhealthy if the connection drops.
	will, err := json.Marshal(NodeHealth{NodeID: cfg.NodeID, Healthy: false})
	if err != nil {
		return nil, fmt.Errorf("marshal will: %w", err)
	}
	opts.SetBinaryWill(HealthTopic(c.prefix, c.nodeID), will, qosAtLeastOnce, true)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt: connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt: connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

func newClient(client mqtt.Client, prefix, nodeID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:  client,
		prefix:  prefix,
		nodeID:  nodeID,
		logger:  logger,
		timeout: publishTimeout,
		stopCh:  make(chan struct{}),
	}
}

// Connect waits for the initial connection. It returns early when ctx ends
// or Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

// PublishSnapshot sends snap on the node's telemetry topic at QoS 1.
func (c *Client) PublishSnapshot(snap telemetry.Snapshot) error {
	ts := snap.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	body := Telemetry{
		NodeID:             c.nodeID,
		Timestamp:          ts,
		Temperature:        snap.Temperature,
		AverageTemperature: snap.AverageTemperature,
		Humidity:           snap.Humidity,
		AverageHumidity:    snap.AverageHumidity,
		Voltage:            snap.Voltage,
		FreeMemoryBytes:    snap.FreeMemoryBytes,
	}
	return c.publish(TelemetryTopic(c.prefix, c.nodeID), false, body)
}

// PublishHealth sends a retained health message for the node.
func (c *Client) PublishHealth(healthy bool, lastSeen time.Time) error {
	return c.publish(HealthTopic(c.prefix, c.nodeID), true, NodeHealth{
		NodeID:   c.nodeID,
		LastSeen: lastSeen,
		Healthy:  healthy,
	})
}

// Consumer publishes every snapshot followed by a healthy status. Errors
// are logged; the caller never sees them.
func (c *Client) Consumer() func(telemetry.Snapshot) {
	return func(snap telemetry.Snapshot) {
		if err := c.PublishSnapshot(snap); err != nil {
			c.logger.Warn("mqtt: snapshot not published", "error", err)
			return
		}
		if err := c.PublishHealth(true, snap.ReceivedAt); err != nil {
			c.logger.Warn("mqtt: health not published", "error", err)
		}
	}
}

func (c *Client) publish(topic string, retained bool, v any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := c.client.Publish(topic, qosAtLeastOnce, retained, data)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("mqtt: publish failed", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.logger.Debug("mqtt: published", "topic", topic, "retained", retained, "bytes", len(data))
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client != nil && c.client.IsConnected()
}

// Disconnect stops the client. Safe to call more than once; Connect
// returns ErrStopped afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.client != nil {
		c.client.Disconnect(250)
	}
	c.setConnected(false)
	c.logger.Info("mqtt: disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
