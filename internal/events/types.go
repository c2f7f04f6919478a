// Package events defines event types and payloads for the RustPanel event system.
package events

import "fmt"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Bridge connection events
	EventConnectionState EventType = "connection_state"
	EventBridgeError     EventType = "bridge_error"

	// Decoded bridge payloads
	EventServerInfo  EventType = "server_info"
	EventMapInfo     EventType = "map_info"
	EventMapEntities EventType = "map_entities"

	// Derived state
	EventPlayersUpdated EventType = "players_updated"

	// Notification events
	EventNotifyMQTT EventType = "notify_mqtt"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// ConnectionState is the lifecycle state of the bridge connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// connectionStateStrings maps ConnectionState values to their JSON string representation.
var connectionStateStrings = map[ConnectionState]string{
	StateDisconnected:  "disconnected",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
}

// String returns the string representation of ConnectionState.
func (s ConnectionState) String() string {
	if str, ok := connectionStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes ConnectionState as a JSON string (e.g. "connected").
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// EntityType is the kind of a map entity as reported by the bridge.
// Unknown values are preserved as-is.
type EntityType byte

const (
	EntityActivePlayer EntityType = iota
	EntitySleepingPlayer
	EntityPatrolHelicopter
	EntityChinook
	EntityCargoShip
	EntityBradley
	EntityAirdrop
	EntityLockedCrate
	EntityMinicopter
	EntityScrapHelicopter
	EntityRHIB
	EntityModularCar
)

var entityTypeStrings = map[EntityType]string{
	EntityActivePlayer:     "active_player",
	EntitySleepingPlayer:   "sleeping_player",
	EntityPatrolHelicopter: "patrol_helicopter",
	EntityChinook:          "chinook",
	EntityCargoShip:        "cargo_ship",
	EntityBradley:          "bradley",
	EntityAirdrop:          "airdrop",
	EntityLockedCrate:      "locked_crate",
	EntityMinicopter:       "minicopter",
	EntityScrapHelicopter:  "scrap_helicopter",
	EntityRHIB:             "rhib",
	EntityModularCar:       "modular_car",
}

// String returns the string representation of EntityType.
func (t EntityType) String() string {
	if str, ok := entityTypeStrings[t]; ok {
		return str
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// MarshalJSON serializes EntityType as a JSON string (e.g. "cargo_ship").
func (t EntityType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// IsPlayer reports whether the entity represents a player (awake or sleeping).
func (t EntityType) IsPlayer() bool {
	return t == EntityActivePlayer || t == EntitySleepingPlayer
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionStatePayload is emitted exactly once per state transition.
type ConnectionStatePayload struct {
	State    ConnectionState `json:"state"`
	Previous ConnectionState `json:"previous"`
	Address  string          `json:"address"`
}

// ErrorPayload carries a transport failure.
type ErrorPayload struct {
	Err     error  `json:"-"`
	Message string `json:"message"`
	Address string `json:"address,omitempty"`
}

// ServerInfo is a decoded ServerInfo reply.
type ServerInfo struct {
	Hostname       string  `json:"hostname"`
	MaxPlayers     int32   `json:"max_players"`
	PlayerCount    int32   `json:"player_count"`
	QueuedPlayers  int32   `json:"queued_players"`
	JoiningPlayers int32   `json:"joining_players"`
	EntityCount    int32   `json:"entity_count"`
	GameTime       string  `json:"game_time"`
	Uptime         int32   `json:"uptime_seconds"`
	MapName        string  `json:"map_name"`
	FPS            float32 `json:"fps"`
}

// Monument is a named map landmark at a normalized (0..1) position.
type Monument struct {
	Name string  `json:"name"`
	X    float32 `json:"x"`
	Y    float32 `json:"y"`
}

// MapInfo is a decoded LoadMapInfo reply.
type MapInfo struct {
	ImageWidth  int32      `json:"image_width"`
	ImageHeight int32      `json:"image_height"`
	Image       []byte     `json:"-"`
	WorldSize   uint32     `json:"world_size"`
	Monuments   []Monument `json:"monuments"`
}

// DefaultWorldSize is used until the first map info arrives.
const DefaultWorldSize uint32 = 4000

// MapEntity is one entry of a RequestMapEntities reply.
type MapEntity struct {
	EntityID uint64     `json:"entity_id"`
	SteamID  uint64     `json:"steam_id"`
	Type     EntityType `json:"type"`
	Label    string     `json:"label"`
	X        float32    `json:"x"`
	Y        float32    `json:"y"`
	Rotation float32    `json:"rotation"`
	Online   bool       `json:"online"`
	Dead     bool       `json:"dead"`
}

// Player is derived from player entities and keyed by SteamID.
type Player struct {
	SteamID     uint64  `json:"steam_id"`
	EntityID    uint64  `json:"entity_id"`
	DisplayName string  `json:"display_name"`
	Online      bool    `json:"online"`
	Dead        bool    `json:"dead"`
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	Rotation    float32 `json:"rotation"`
}

// MQTTPayload is published verbatim by the telemetry component.
type MQTTPayload struct {
	Topic string
	Data  map[string]interface{}
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
