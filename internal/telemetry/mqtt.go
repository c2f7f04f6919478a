// Package telemetry publishes bridge state to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/config"
	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicServerStatus = "server/status"
	TopicMapInfo      = "map/info"
	TopicMapEntities  = "map/entities"
	TopicPlayers      = "players"
	TopicConnection   = "connection"
	TopicAdmin        = "admin"
	TopicHeartbeat    = "heartbeat"
)

// brokerClient is the part of mqtt.Client the handler uses.
type brokerClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler publishes bus events as JSON messages.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	client   brokerClient
	prefix   string

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	mqttCfg := cfg.GetMQTT()

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := newHandler(cfg, eventBus, mqttCfg.TopicPrefix, map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"platform":    sysInfo.Platform,
		"app_version": version,
	})

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("rustpanel-%s", sysInfo.Hostname))
	}
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetWill(handler.topic(TopicAdmin), `{"event":"offline"}`, 1, false)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

func newHandler(cfg *config.Config, bus *events.EventBus, prefix string, metadata map[string]interface{}) *MQTTHandler {
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: bus,
		prefix:   strings.Trim(prefix, "/"),
		metadata: metadata,
	}
}

func buildTLSConfig(mqttCfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if mqttCfg.CAFile != "" {
		pem, err := os.ReadFile(mqttCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", mqttCfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS: load client certificate
	if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Start connects to the MQTT broker, subscribes to events and blocks until
// ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetMQTT()
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	client, ok := h.client.(mqtt.Client)
	if !ok {
		return fmt.Errorf("MQTT client not configured")
	}

	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.unsubscribeEvents()
	h.PublishShutdown()
	client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventServerInfo, "mqtt.serverInfo", h.onServerInfo)
	h.eventBus.Subscribe(events.EventMapInfo, "mqtt.mapInfo", h.onMapInfo)
	h.eventBus.Subscribe(events.EventMapEntities, "mqtt.mapEntities", h.onMapEntities)
	h.eventBus.Subscribe(events.EventPlayersUpdated, "mqtt.players", h.onPlayers)
	h.eventBus.Subscribe(events.EventConnectionState, "mqtt.connection", h.onConnectionState)
	h.eventBus.Subscribe(events.EventBridgeError, "mqtt.bridgeError", h.onBridgeError)
	h.eventBus.Subscribe(events.EventNotifyMQTT, "mqtt.notify", h.onNotify)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.Unsubscribe(events.EventServerInfo, "mqtt.serverInfo")
	h.eventBus.Unsubscribe(events.EventMapInfo, "mqtt.mapInfo")
	h.eventBus.Unsubscribe(events.EventMapEntities, "mqtt.mapEntities")
	h.eventBus.Unsubscribe(events.EventPlayersUpdated, "mqtt.players")
	h.eventBus.Unsubscribe(events.EventConnectionState, "mqtt.connection")
	h.eventBus.Unsubscribe(events.EventBridgeError, "mqtt.bridgeError")
	h.eventBus.Unsubscribe(events.EventNotifyMQTT, "mqtt.notify")
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.prefix == "" {
		return suffix
	}
	return h.prefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(suffix string, qos byte, payload interface{}) {
	if h.client == nil || !h.client.IsConnected() {
		return
	}
	topic := h.topic(suffix)

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	h.mu.Lock()
	token := h.client.Publish(topic, qos, false, data)
	h.mu.Unlock()

	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onServerInfo(_ context.Context, event events.Event) error {
	h.publish(TopicServerStatus, 1, event.Payload)
	return nil
}

func (h *MQTTHandler) onMapInfo(_ context.Context, event events.Event) error {
	info, ok := event.Payload.(events.MapInfo)
	if !ok {
		return nil
	}
	// the image stays local; its size is enough for dashboards
	h.publish(TopicMapInfo, 1, map[string]interface{}{
		"world_size":   info.WorldSize,
		"image_width":  info.ImageWidth,
		"image_height": info.ImageHeight,
		"image_bytes":  len(info.Image),
		"monuments":    info.Monuments,
	})
	return nil
}

func (h *MQTTHandler) onMapEntities(_ context.Context, event events.Event) error {
	list, ok := event.Payload.([]events.MapEntity)
	if !ok {
		return nil
	}
	h.publish(TopicMapEntities, 0, summarizeEntities(list))
	return nil
}

func (h *MQTTHandler) onPlayers(_ context.Context, event events.Event) error {
	h.publish(TopicPlayers, 0, event.Payload)
	return nil
}

func (h *MQTTHandler) onConnectionState(_ context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ConnectionStatePayload)
	if !ok {
		return nil
	}
	h.publish(TopicConnection, 1, map[string]interface{}{
		"event":    "state",
		"state":    p.State,
		"previous": p.Previous,
		"address":  p.Address,
	})
	return nil
}

func (h *MQTTHandler) onBridgeError(_ context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ErrorPayload)
	if !ok {
		return nil
	}
	h.publish(TopicConnection, 1, map[string]interface{}{
		"event":   "error",
		"message": p.Message,
		"address": p.Address,
	})
	return nil
}

func (h *MQTTHandler) onNotify(_ context.Context, event events.Event) error {
	p, ok := event.Payload.(events.MQTTPayload)
	if !ok || p.Topic == "" {
		return nil
	}
	h.publish(p.Topic, 1, p.Data)
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, 1, map[string]interface{}{
		"event": "shutdown",
	})
}

// EntitySummary is the per-snapshot digest published instead of the full
// entity list.
type EntitySummary struct {
	Total         int            `json:"total"`
	ByType        map[string]int `json:"by_type"`
	PlayersOnline int            `json:"players_online"`
	PlayersDead   int            `json:"players_dead"`
}

func summarizeEntities(list []events.MapEntity) EntitySummary {
	s := EntitySummary{Total: len(list), ByType: make(map[string]int)}
	for _, e := range list {
		s.ByType[e.Type.String()]++
		if e.Type.IsPlayer() {
			if e.Online {
				s.PlayersOnline++
			}
			if e.Dead {
				s.PlayersDead++
			}
		}
	}
	return s
}
