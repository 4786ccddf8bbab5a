package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is resolved in three layers: built-in defaults, then the YAML file
// (RUGSTREAM_CONFIG, default config.yaml, missing file is fine), then
// environment variables.
type Config struct {
	UpstreamURL string `yaml:"upstream_url"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"log_level"`

	HistoryCollectionInterval int `yaml:"history_collection_interval"`
	StatsInterval             int `yaml:"stats_interval"`

	RawStorePath     string `yaml:"raw_store_path"`
	HistoryStorePath string `yaml:"history_store_path"`

	Broadcaster BroadcasterConfig `yaml:"broadcaster"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
}

type BroadcasterConfig struct {
	MaxQueueSize int `yaml:"max_queue_size"`
}

type UpstreamConfig struct {
	PingInterval          int `yaml:"ping_interval"`
	InitialReconnectDelay int `yaml:"initial_reconnect_delay"`
	MaxReconnectDelay     int `yaml:"max_reconnect_delay"`
}

func Default() *Config {
	return &Config{
		Host:                      "0.0.0.0",
		Port:                      9017,
		LogLevel:                  "INFO",
		HistoryCollectionInterval: 10,
		StatsInterval:             300,
		RawStorePath:              "data/rugs_ws.db",
		HistoryStorePath:          "data/history.db",
		Broadcaster:               BroadcasterConfig{MaxQueueSize: 1000},
		Upstream: UpstreamConfig{
			PingInterval:          20,
			InitialReconnectDelay: 1,
			MaxReconnectDelay:     30,
		},
	}
}

// Load resolves the effective configuration and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path := envStr("RUGSTREAM_CONFIG", "config.yaml")
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv layers environment overrides. LookupEnv, not Getenv: an empty
// value is a deliberate override (RAW_STORE_PATH="" disables the store).
func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("UPSTREAM_URL"); ok {
		c.UpstreamURL = v
	}
	if v, ok := os.LookupEnv("HOST"); ok {
		c.Host = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("HISTORY_COLLECTION_INTERVAL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.HistoryCollectionInterval = n
		}
	}
	if v, ok := os.LookupEnv("STATS_INTERVAL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.StatsInterval = n
		}
	}
	if v, ok := os.LookupEnv("RAW_STORE_PATH"); ok {
		c.RawStorePath = v
	}
	if v, ok := os.LookupEnv("HISTORY_STORE_PATH"); ok {
		c.HistoryStorePath = v
	}
	if v, ok := os.LookupEnv("BROADCASTER_MAX_QUEUE_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Broadcaster.MaxQueueSize = n
		}
	}
	if v, ok := os.LookupEnv("UPSTREAM_PING_INTERVAL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Upstream.PingInterval = n
		}
	}
	if v, ok := os.LookupEnv("UPSTREAM_INITIAL_RECONNECT_DELAY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Upstream.InitialReconnectDelay = n
		}
	}
	if v, ok := os.LookupEnv("UPSTREAM_MAX_RECONNECT_DELAY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Upstream.MaxReconnectDelay = n
		}
	}
}

// Validate fails fast before any socket is opened.
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return errors.New("config: upstream_url is required (set UPSTREAM_URL or upstream_url in config.yaml)")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Broadcaster.MaxQueueSize <= 0 {
		return fmt.Errorf("config: broadcaster.max_queue_size must be positive, got %d", c.Broadcaster.MaxQueueSize)
	}
	if c.Upstream.InitialReconnectDelay > c.Upstream.MaxReconnectDelay {
		return fmt.Errorf("config: upstream.initial_reconnect_delay %ds exceeds max_reconnect_delay %ds",
			c.Upstream.InitialReconnectDelay, c.Upstream.MaxReconnectDelay)
	}
	return nil
}

// Addr is the host:port the channel server binds.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
