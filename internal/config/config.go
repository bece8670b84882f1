package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	AppEnv   string     `yaml:"app_env"`
	LogLevel slog.Level `yaml:"-"`
	LogFile  string     `yaml:"log_file"`

	// UDP request/response with the sensor node. The node answers on the
	// same port it was polled on, so local and remote default to the same value.
	UDPBindAddr    string        `yaml:"udp_bind_addr"`
	UDPLocalPort   int           `yaml:"udp_local_port"`
	UDPRemotePort  int           `yaml:"udp_remote_port"`
	BroadcastAddr  string        `yaml:"broadcast_addr"`
	NetInterface   string        `yaml:"net_interface"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	ReceiveBuffer  int           `yaml:"receive_buffer"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	StartSuspended bool          `yaml:"start_suspended"`

	HTTPAddr string `yaml:"http_addr"`

	SQLitePath string `yaml:"sqlite_path"`
	SQLiteDSN  string `yaml:"sqlite_dsn"`
	SQLLog     bool   `yaml:"sql_log"`

	MQTTEnabled     bool   `yaml:"mqtt_enabled"`
	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTPort        int    `yaml:"mqtt_port"`
	MQTTClientID    string `yaml:"mqtt_client_id"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
	NodeID          string `yaml:"node_id"`
}

// fileConfig mirrors Config for YAML files; LogLevel is carried as text.
type fileConfig struct {
	Config   `yaml:",inline"`
	LogLevel string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		AppEnv:          "dev",
		LogLevel:        slog.LevelInfo,
		UDPBindAddr:     "0.0.0.0",
		UDPLocalPort:    1025,
		UDPRemotePort:   1025,
		PollInterval:    10 * time.Second,
		ReceiveTimeout:  time.Second,
		ReceiveBuffer:   1024,
		StaleAfter:      30 * time.Second,
		HTTPAddr:        ":8080",
		SQLitePath:      "data/wotnode.db",
		MQTTBroker:      "localhost",
		MQTTPort:        1883,
		MQTTClientID:    "wotnode-gateway",
		MQTTTopicPrefix: "wotnode",
		NodeID:          "node",
	}
}

// LoadFromEnv builds the config from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func LoadFromEnv() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CONFIG_FILE %q: %w", path, err)
	}
	fc := fileConfig{Config: *cfg}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse CONFIG_FILE %q: %w", path, err)
	}
	if fc.LogLevel != "" {
		level, err := parseLogLevel(fc.LogLevel)
		if err != nil {
			return err
		}
		fc.Config.LogLevel = level
	}
	*cfg = fc.Config
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookup("APP_ENV"); ok {
		cfg.AppEnv = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		level, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if v, ok := lookup("LOG_FILE"); ok {
		cfg.LogFile = v
	}

	if v, ok := lookup("UDP_BIND_ADDR"); ok {
		cfg.UDPBindAddr = v
	}
	if err := envInt("UDP_LOCAL_PORT", &cfg.UDPLocalPort); err != nil {
		return err
	}
	if err := envInt("UDP_REMOTE_PORT", &cfg.UDPRemotePort); err != nil {
		return err
	}
	if v, ok := lookup("BROADCAST_ADDR"); ok {
		cfg.BroadcastAddr = v
	}
	if v, ok := lookup("NET_INTERFACE"); ok {
		cfg.NetInterface = v
	}
	if err := envDuration("POLL_INTERVAL", &cfg.PollInterval); err != nil {
		return err
	}
	if err := envDuration("RECEIVE_TIMEOUT", &cfg.ReceiveTimeout); err != nil {
		return err
	}
	if err := envInt("RECEIVE_BUFFER", &cfg.ReceiveBuffer); err != nil {
		return err
	}
	if err := envDuration("STALE_AFTER", &cfg.StaleAfter); err != nil {
		return err
	}
	if err := envBool("START_SUSPENDED", &cfg.StartSuspended); err != nil {
		return err
	}

	if v, ok := lookup("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}

	if v, ok := lookup("SQLITE_PATH"); ok {
		cfg.SQLitePath = v
	}
	if v, ok := lookup("SQLITE_DSN"); ok {
		cfg.SQLiteDSN = v
	}
	if err := envBool("SQL_LOG", &cfg.SQLLog); err != nil {
		return err
	}

	if err := envBool("MQTT_ENABLED", &cfg.MQTTEnabled); err != nil {
		return err
	}
	if v, ok := lookup("MQTT_BROKER"); ok {
		cfg.MQTTBroker = v
	}
	if err := envInt("MQTT_PORT", &cfg.MQTTPort); err != nil {
		return err
	}
	if v, ok := lookup("MQTT_CLIENT_ID"); ok {
		cfg.MQTTClientID = v
	}
	if v, ok := lookup("MQTT_TOPIC_PREFIX"); ok {
		cfg.MQTTTopicPrefix = strings.Trim(v, "/")
	}
	if v, ok := lookup("NODE_ID"); ok {
		cfg.NodeID = v
	}
	return nil
}

func validate(cfg Config) error {
	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}
	for name, port := range map[string]int{
		"UDP_LOCAL_PORT":  cfg.UDPLocalPort,
		"UDP_REMOTE_PORT": cfg.UDPRemotePort,
		"MQTT_PORT":       cfg.MQTTPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be in 1..65535, got %d", name, port)
		}
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %v", cfg.PollInterval)
	}
	if cfg.ReceiveTimeout <= 0 {
		return fmt.Errorf("RECEIVE_TIMEOUT must be positive, got %v", cfg.ReceiveTimeout)
	}
	if cfg.ReceiveBuffer <= 0 {
		return fmt.Errorf("RECEIVE_BUFFER must be positive, got %d", cfg.ReceiveBuffer)
	}
	if cfg.StaleAfter < 0 {
		return fmt.Errorf("STALE_AFTER must not be negative, got %v", cfg.StaleAfter)
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("NODE_ID must not be empty")
	}
	return nil
}

func lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

func envInt(name string, dst *int) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = d
	return nil
}

func envBool(name string, dst *bool) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = b
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
