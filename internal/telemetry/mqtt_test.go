package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rustpanel-project/rustpanel/internal/config"
	"github.com/rustpanel-project/rustpanel/internal/events"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic string
	qos   byte
	body  map[string]interface{}
}

type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func (f *fakeBroker) IsConnected() bool { return f.connected }

func (f *fakeBroker) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	var body map[string]interface{}
	json.Unmarshal(payload.([]byte), &body)
	f.mu.Lock()
	f.messages = append(f.messages, published{topic: topic, qos: qos, body: body})
	f.mu.Unlock()
	return doneToken{}
}

func (f *fakeBroker) last(t *testing.T) published {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatal("nothing published")
	}
	return f.messages[len(f.messages)-1]
}

func newTestHandler(t *testing.T, connected bool) (*MQTTHandler, *fakeBroker, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	broker := &fakeBroker{connected: connected}
	h := newHandler(config.DefaultConfig(), bus, "rustpanel/", map[string]interface{}{"hostname": "box"})
	h.client = broker
	h.subscribeEvents()
	return h, broker, bus
}

func TestServerInfoPublished(t *testing.T) {
	_, broker, bus := newTestHandler(t, true)

	bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventServerInfo,
		Payload: events.ServerInfo{Hostname: "srv", PlayerCount: 7},
	})

	msg := broker.last(t)
	if msg.topic != "rustpanel/server/status" || msg.qos != 1 {
		t.Fatalf("topic %q qos %d", msg.topic, msg.qos)
	}
	if msg.body["hostname"] != "box" || msg.body["timestamp"] == nil {
		t.Fatalf("metadata missing: %v", msg.body)
	}
	payload := msg.body["payload"].(map[string]interface{})
	if payload["hostname"] != "srv" || payload["player_count"] != float64(7) {
		t.Fatalf("payload = %v", payload)
	}
}

func TestEntitiesPublishedAsSummary(t *testing.T) {
	_, broker, bus := newTestHandler(t, true)

	bus.EmitSync(context.Background(), events.Event{
		Type: events.EventMapEntities,
		Payload: []events.MapEntity{
			{Type: events.EntityActivePlayer, Online: true},
			{Type: events.EntitySleepingPlayer, Dead: true},
			{Type: events.EntityCargoShip},
			{Type: events.EntityCargoShip},
		},
	})

	msg := broker.last(t)
	if msg.topic != "rustpanel/map/entities" || msg.qos != 0 {
		t.Fatalf("topic %q qos %d", msg.topic, msg.qos)
	}
	payload := msg.body["payload"].(map[string]interface{})
	byType := payload["by_type"].(map[string]interface{})
	if payload["total"] != float64(4) || byType["cargo_ship"] != float64(2) ||
		payload["players_online"] != float64(1) || payload["players_dead"] != float64(1) {
		t.Fatalf("summary = %v", payload)
	}
}

func TestMapInfoOmitsImage(t *testing.T) {
	_, broker, bus := newTestHandler(t, true)

	bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventMapInfo,
		Payload: events.MapInfo{ImageWidth: 2, ImageHeight: 2, Image: make([]byte, 16), WorldSize: 3000},
	})

	payload := broker.last(t).body["payload"].(map[string]interface{})
	if payload["image_bytes"] != float64(16) || payload["world_size"] != float64(3000) {
		t.Fatalf("payload = %v", payload)
	}
	if _, ok := payload["image"]; ok {
		t.Fatal("image bytes published")
	}
}

func TestConnectionAndNotifyTopics(t *testing.T) {
	_, broker, bus := newTestHandler(t, true)
	ctx := context.Background()

	bus.EmitSync(ctx, events.Event{
		Type:    events.EventConnectionState,
		Payload: events.ConnectionStatePayload{State: events.StateConnected, Previous: events.StateConnecting, Address: "ws://h:3050"},
	})
	msg := broker.last(t)
	payload := msg.body["payload"].(map[string]interface{})
	if msg.topic != "rustpanel/connection" || payload["state"] != "connected" || payload["previous"] != "connecting" {
		t.Fatalf("connection message = %+v", msg)
	}

	bus.EmitSync(ctx, events.Event{
		Type:    events.EventNotifyMQTT,
		Payload: events.MQTTPayload{Topic: TopicAdmin, Data: map[string]interface{}{"action": "history_cleanup"}},
	})
	if msg := broker.last(t); msg.topic != "rustpanel/admin" {
		t.Fatalf("notify topic = %q", msg.topic)
	}
}

func TestNothingPublishedWhileOffline(t *testing.T) {
	_, broker, bus := newTestHandler(t, false)

	bus.EmitSync(context.Background(), events.Event{Type: events.EventServerInfo, Payload: events.ServerInfo{}})

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.messages) != 0 {
		t.Fatalf("published %d messages while offline", len(broker.messages))
	}
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.DefaultConfig(), events.NewEventBus(), "test"); err == nil {
		t.Fatal("expected error when MQTT is disabled")
	}
}
