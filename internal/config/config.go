// Package config handles configuration loading, validation, and persistence
// for RustPanel.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultBridgePort = 3050
	DefaultAPIPort    = 5080
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Bridge   BridgeConfig   `json:"bridge"`
	Polling  PollingConfig  `json:"polling"`
	Logging  LoggingConfig  `json:"logging"`
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Database DatabaseConfig `json:"database"`
}

// BridgeConfig describes the WebControlPanel endpoint and transport limits.
type BridgeConfig struct {
	Scheme       string `json:"scheme"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Password     string `json:"password"`
	SavePassword bool   `json:"save_password"`
	AutoConnect  bool   `json:"auto_connect"`

	ConnectTimeoutSec int `json:"connect_timeout_sec"`
	WriteTimeoutSec   int `json:"write_timeout_sec"`
	CloseTimeoutSec   int `json:"close_timeout_sec"`
	MaxMessageMB      int `json:"max_message_mb"`
	ReceiveBufferSize int `json:"receive_buffer_size"`
}

// PollingConfig holds request intervals.
type PollingConfig struct {
	ServerInfoIntervalSec int  `json:"server_info_interval_sec"`
	EntityIntervalMs      int  `json:"entity_interval_ms"`
	RequestMapOnConnect   bool `json:"request_map_on_connect"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Console    bool   `json:"console"`
}

// APIConfig holds the local REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	Token          string   `json:"token"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
}

// DatabaseConfig holds the history store settings.
type DatabaseConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	CleanupTime   string `json:"cleanup_time"`
}

// ConnectTimeout returns the dial timeout.
func (b BridgeConfig) ConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeoutSec) * time.Second
}

// WriteTimeout returns the per-frame write deadline.
func (b BridgeConfig) WriteTimeout() time.Duration {
	return time.Duration(b.WriteTimeoutSec) * time.Second
}

// CloseTimeout returns the close handshake deadline.
func (b BridgeConfig) CloseTimeout() time.Duration {
	return time.Duration(b.CloseTimeoutSec) * time.Second
}

// MaxMessageBytes returns the inbound message size limit.
func (b BridgeConfig) MaxMessageBytes() int64 {
	return int64(b.MaxMessageMB) << 20
}

// ServerInfoInterval returns the ServerInfo polling interval.
func (p PollingConfig) ServerInfoInterval() time.Duration {
	return time.Duration(p.ServerInfoIntervalSec) * time.Second
}

// EntityInterval returns the entity polling interval.
func (p PollingConfig) EntityInterval() time.Duration {
	return time.Duration(p.EntityIntervalMs) * time.Millisecond
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Scheme:            "ws",
			Host:              "",
			Port:              DefaultBridgePort,
			ConnectTimeoutSec: 10,
			WriteTimeoutSec:   10,
			CloseTimeoutSec:   2,
			MaxMessageMB:      16,
			ReceiveBufferSize: 8192,
		},
		Polling: PollingConfig{
			ServerInfoIntervalSec: 10,
			EntityIntervalMs:      2000,
			RequestMapOnConnect:   true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Console:    true,
		},
		API: APIConfig{
			Enabled:        true,
			Host:           "127.0.0.1",
			Port:           DefaultAPIPort,
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimitRPS:   100,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        8883,
			UseTLS:      true,
			TopicPrefix: "rustpanel",
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          filepath.Join("data", "rustpanel.db"),
			RetentionDays: 7,
			CleanupTime:   "04:00",
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults when
// it does not exist.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// persist fields added since the file was written
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk. The bridge password is
// omitted unless SavePassword is set.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := struct {
		Bridge   BridgeConfig   `json:"bridge"`
		Polling  PollingConfig  `json:"polling"`
		Logging  LoggingConfig  `json:"logging"`
		API      APIConfig      `json:"api"`
		MQTT     MQTTConfig     `json:"mqtt"`
		Database DatabaseConfig `json:"database"`
	}{c.Bridge, c.Polling, c.Logging, c.API, c.MQTT, c.Database}
	if !out.Bridge.SavePassword {
		out.Bridge.Password = ""
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetBridge returns a copy of the bridge configuration.
func (c *Config) GetBridge() BridgeConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bridge
}

// SetBridge updates the bridge configuration.
func (c *Config) SetBridge(b BridgeConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bridge = b
}

// GetPolling returns a copy of the polling configuration.
func (c *Config) GetPolling() PollingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Polling
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetDatabase returns a copy of the database configuration.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// UpdateField sets one JSON field of a section ("bridge", "polling", ...).
func (c *Config) UpdateField(section, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var target interface{}
	switch section {
	case "bridge":
		target = &c.Bridge
	case "polling":
		target = &c.Polling
	case "logging":
		target = &c.Logging
	case "api":
		target = &c.API
	case "mqtt":
		target = &c.MQTT
	case "database":
		target = &c.Database
	default:
		return fmt.Errorf("unknown config section %q", section)
	}

	data, _ := json.Marshal(target)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown field %s.%s", section, key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, target); err != nil {
		return fmt.Errorf("failed to update field %s.%s: %w", section, key, err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if no bridge host has been configured yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bridge.Host == ""
}
