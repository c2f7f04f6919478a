package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks every configuration section.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateBridge(&cfg.Bridge, result)
	validatePolling(&cfg.Polling, result)
	validateLogging(&cfg.Logging, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)
	validateDatabase(&cfg.Database, result)

	return result
}

func validateBridge(b *BridgeConfig, result *ValidationResult) {
	if b.Scheme != "ws" && b.Scheme != "wss" {
		result.AddError("bridge.scheme", fmt.Sprintf("unsupported scheme %q (must be ws or wss)", b.Scheme))
	}
	if strings.TrimSpace(b.Host) == "" {
		if b.AutoConnect {
			result.AddError("bridge.host", "host is required when auto_connect is enabled")
		} else {
			result.AddWarning("bridge.host", "no bridge host configured")
		}
	} else if strings.Contains(b.Host, "/") {
		result.AddError("bridge.host", "host must not contain a scheme or path")
	}
	validatePort(b.Port, "bridge.port", result)

	if b.ConnectTimeoutSec < 1 {
		result.AddError("bridge.connect_timeout_sec", "must be at least 1 second")
	}
	if b.WriteTimeoutSec < 1 {
		result.AddError("bridge.write_timeout_sec", "must be at least 1 second")
	}
	if b.MaxMessageMB < 1 {
		result.AddError("bridge.max_message_mb", "must be at least 1 MB")
	} else if b.MaxMessageMB < 8 {
		result.AddWarning("bridge.max_message_mb", "limits below 8 MB may reject map images")
	}
	if b.ReceiveBufferSize < 512 {
		result.AddError("bridge.receive_buffer_size", "must be at least 512 bytes")
	}
}

func validatePolling(p *PollingConfig, result *ValidationResult) {
	if p.ServerInfoIntervalSec < 1 {
		result.AddError("polling.server_info_interval_sec", "must be at least 1 second")
	}
	if p.EntityIntervalMs < 250 {
		result.AddError("polling.entity_interval_ms", "must be at least 250 ms")
	} else if p.EntityIntervalMs < 1000 {
		result.AddWarning("polling.entity_interval_ms",
			"entity polling faster than once per second may load the game server")
	}
}

func validateLogging(l *LoggingConfig, result *ValidationResult) {
	if _, err := zerolog.ParseLevel(l.Level); err != nil {
		result.AddWarning("logging.level", fmt.Sprintf("unknown level %q, info will be used", l.Level))
	}
	if l.MaxSizeMB < 1 {
		result.AddError("logging.max_size_mb", "must be at least 1 MB")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)

	if a.TLSEnabled {
		if strings.TrimSpace(a.TLSCertFile) == "" {
			result.AddError("api.tls_cert_file", "TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(a.TLSKeyFile) == "" {
			result.AddError("api.tls_key_file", "TLS key file is required when TLS is enabled")
		}
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if ip := net.ParseIP(a.Host); ip != nil && !ip.IsLoopback() && a.Token == "" {
		result.AddWarning("api.token",
			"API listens on a non-loopback address without a token, console access is unauthenticated")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		result.AddError("mqtt.topic_prefix", "topic prefix is required")
	}
}

func validateDatabase(d *DatabaseConfig, result *ValidationResult) {
	if !d.Enabled {
		return
	}
	if strings.TrimSpace(d.Path) == "" {
		result.AddError("database.path", "database path is required when enabled")
	}
	if d.RetentionDays < 1 {
		result.AddError("database.retention_days", "retention days must be at least 1")
	}
	if _, err := time.Parse("15:04", d.CleanupTime); err != nil {
		result.AddError("database.cleanup_time", fmt.Sprintf("invalid time %q (expected HH:MM)", d.CleanupTime))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
