// Package monitor keeps the latest view of the connected game server:
// status, map, entities and the player list derived from them. It also owns
// the connect/disconnect flow used by the API and the console.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/bridge"
	"github.com/rustpanel-project/rustpanel/internal/config"
	"github.com/rustpanel-project/rustpanel/internal/db"
	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/rpc"
)

// ErrNotConnected is returned by request helpers when no bridge connection
// is up.
var ErrNotConnected = errors.New("not connected to a server")

// Bridge is the transport the manager drives.
type Bridge interface {
	Connect(ctx context.Context, address, credential string) error
	Disconnect()
	Send(ctx context.Context, data []byte) error
	State() events.ConnectionState
	Address() string
}

// ServerStore persists saved servers and status history. The manager works
// without one.
type ServerStore interface {
	SaveServer(ctx context.Context, srv db.Server) (int64, error)
	TouchServer(ctx context.Context, host string, port int, at time.Time) error
	RecordSample(ctx context.Context, info events.ServerInfo, at time.Time) error
}

// Target identifies the server a connection was made to.
type Target struct {
	Name         string `json:"name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	SavePassword bool   `json:"save_password"`
	password     string
}

// Status is a point-in-time summary for display.
type Status struct {
	State     events.ConnectionState `json:"state"`
	Address   string                 `json:"address"`
	Target    *Target                `json:"target,omitempty"`
	Server    *events.ServerInfo     `json:"server,omitempty"`
	GameTime  string                 `json:"game_time,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	UpdatedAt time.Time              `json:"updated_at,omitempty"`
	Entities  int                    `json:"tracked_entities"`
	Players   int                    `json:"tracked_players"`
	LastError string                 `json:"last_error,omitempty"`
}

// Manager aggregates decoded bridge events into queryable state.
type Manager struct {
	cfg    *config.Config
	bus    *events.EventBus
	bridge Bridge
	store  ServerStore
	now    func() time.Time
	logger zerolog.Logger

	mu         sync.RWMutex
	state      events.ConnectionState
	target     *Target
	info       events.ServerInfo
	infoAt     time.Time
	hasInfo    bool
	mapInfo    events.MapInfo
	hasMap     bool
	entities   []events.MapEntity
	entitiesAt time.Time
	players    []events.Player
	lastError  string
}

// NewManager creates a manager and subscribes it to bus. store may be nil.
func NewManager(cfg *config.Config, bus *events.EventBus, b Bridge, store ServerStore) *Manager {
	m := &Manager{
		cfg:    cfg,
		bus:    bus,
		bridge: b,
		store:  store,
		now:    time.Now,
		state:  events.StateDisconnected,
		logger: log.With().Str("component", "monitor").Logger(),
	}

	bus.Subscribe(events.EventConnectionState, "monitor", m.onConnectionState)
	bus.Subscribe(events.EventBridgeError, "monitor", m.onBridgeError)
	bus.Subscribe(events.EventServerInfo, "monitor", m.onServerInfo)
	bus.Subscribe(events.EventMapInfo, "monitor", m.onMapInfo)
	bus.Subscribe(events.EventMapEntities, "monitor", m.onMapEntities)

	return m
}

// Connect opens the bridge to host:port. When save is set the server is
// remembered, with its password only if the configuration allows it.
func (m *Manager) Connect(ctx context.Context, host string, port int, password string, save bool) error {
	bc := m.cfg.GetBridge()
	if port <= 0 {
		port = bridge.DefaultPort
	}

	address := bridge.Address(bc.Scheme, host, port)
	if err := m.bridge.Connect(ctx, address, password); err != nil {
		m.mu.Lock()
		m.target = nil
		m.mu.Unlock()
		return err
	}

	target := &Target{Host: host, Port: port, SavePassword: save && bc.SavePassword, password: password}
	m.mu.Lock()
	m.target = target
	m.mu.Unlock()

	at := m.now()
	if m.store != nil {
		if err := m.store.TouchServer(ctx, host, port, at); err != nil {
			m.logger.Warn().Err(err).Msg("failed to record connection")
		}
		if save {
			srv := db.Server{Host: host, Port: port, Password: password, SavePassword: target.SavePassword}
			if _, err := m.store.SaveServer(ctx, srv); err != nil {
				m.logger.Warn().Err(err).Msg("failed to save server")
			}
		}
	}

	if bc.Host != host || bc.Port != port {
		bc.Host, bc.Port = host, port
		if bc.SavePassword {
			bc.Password = password
		}
		m.cfg.SetBridge(bc)
		if err := m.cfg.Save(); err != nil {
			m.logger.Warn().Err(err).Msg("failed to persist last server")
		}
	}

	return nil
}

// ConnectConfigured connects to the server named in the configuration.
func (m *Manager) ConnectConfigured(ctx context.Context) error {
	bc := m.cfg.GetBridge()
	if bc.Host == "" {
		return fmt.Errorf("no bridge host configured")
	}
	return m.Connect(ctx, bc.Host, bc.Port, bc.Password, false)
}

// Disconnect closes the bridge connection.
func (m *Manager) Disconnect() {
	m.bridge.Disconnect()
}

// IsConnected reports whether the bridge is connected.
func (m *Manager) IsConnected() bool {
	return m.bridge.State() == events.StateConnected
}

// Send forwards a prebuilt request frame.
func (m *Manager) Send(ctx context.Context, frame []byte) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	return m.bridge.Send(ctx, frame)
}

// RequestMapInfo asks the server for map info.
func (m *Manager) RequestMapInfo(ctx context.Context) error {
	m.logger.Debug().Msg("requesting map info")
	return m.Send(ctx, rpc.LoadMapInfoRequest())
}

// RequestEntities asks the server for a map entity snapshot.
func (m *Manager) RequestEntities(ctx context.Context) error {
	m.logger.Debug().Msg("requesting map entities")
	return m.Send(ctx, rpc.MapEntitiesRequest())
}

// Console runs a server console command.
func (m *Manager) Console(ctx context.Context, command string) error {
	if command == "" {
		return fmt.Errorf("empty console command")
	}
	m.logger.Info().Str("command", command).Msg("sending console command")
	return m.Send(ctx, rpc.ConsoleInputRequest(command))
}

// Chat broadcasts a chat message as the server.
func (m *Manager) Chat(ctx context.Context, message string) error {
	if message == "" {
		return fmt.Errorf("empty chat message")
	}
	return m.Send(ctx, rpc.ChatInputRequest(message))
}

// ServerInfo returns the latest status reply and when it arrived.
func (m *Manager) ServerInfo() (events.ServerInfo, time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info, m.infoAt, m.hasInfo
}

// MapInfo returns the current map. Before any map info arrives the world
// size is DefaultWorldSize.
func (m *Manager) MapInfo() (events.MapInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasMap {
		return events.MapInfo{WorldSize: events.DefaultWorldSize}, false
	}
	return m.mapInfo, true
}

// Entities returns a copy of the latest entity snapshot.
func (m *Manager) Entities() []events.MapEntity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]events.MapEntity, len(m.entities))
	copy(out, m.entities)
	return out
}

// Players returns a copy of the tracked player list.
func (m *Manager) Players() []events.Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]events.Player, len(m.players))
	copy(out, m.players)
	return out
}

// Status summarizes the connection and the latest server status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		State:     m.state,
		Address:   m.bridge.Address(),
		Entities:  len(m.entities),
		Players:   len(m.players),
		LastError: m.lastError,
	}
	if m.target != nil {
		t := *m.target
		if m.hasInfo {
			t.Name = m.info.Hostname
		}
		st.Target = &t
	}
	if m.hasInfo {
		info := m.info
		st.Server = &info
		st.GameTime = FormatGameTime(info.GameTime)
		st.Uptime = FormatUptime(info.Uptime)
		st.UpdatedAt = m.infoAt
	}
	return st
}

// LastUpdate returns when the most recent status reply arrived.
func (m *Manager) LastUpdate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.infoAt
}

func (m *Manager) onConnectionState(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.ConnectionStatePayload)
	if !ok {
		return nil
	}

	m.mu.Lock()
	m.state = p.State
	if p.State == events.StateConnected {
		m.lastError = ""
	}
	m.mu.Unlock()

	switch p.State {
	case events.StateConnected:
		if m.cfg.GetPolling().RequestMapOnConnect {
			m.logger.Info().Str("address", p.Address).Msg("connected, loading map")
			if err := m.RequestMapInfo(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("map info request failed")
			}
		}
	case events.StateDisconnected:
		m.logger.Info().Msg("disconnected, clearing server state")
		m.clear()
	}
	return nil
}

func (m *Manager) onBridgeError(_ context.Context, e events.Event) error {
	if p, ok := e.Payload.(events.ErrorPayload); ok {
		m.mu.Lock()
		m.lastError = p.Message
		m.mu.Unlock()
	}
	return nil
}

func (m *Manager) onServerInfo(ctx context.Context, e events.Event) error {
	info, ok := e.Payload.(events.ServerInfo)
	if !ok {
		return nil
	}
	at := m.now()

	m.mu.Lock()
	m.info = info
	m.infoAt = at
	m.hasInfo = true
	target := m.target
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if m.cfg.GetDatabase().Enabled {
		if err := m.store.RecordSample(ctx, info, at); err != nil {
			m.logger.Warn().Err(err).Msg("failed to record status sample")
		}
	}
	// keep the saved display name in step with the server's hostname
	if target != nil && target.SavePassword && info.Hostname != "" && target.Name != info.Hostname {
		m.mu.Lock()
		target.Name = info.Hostname
		m.mu.Unlock()
		srv := db.Server{
			Name:         info.Hostname,
			Host:         target.Host,
			Port:         target.Port,
			Password:     target.password,
			SavePassword: true,
		}
		if _, err := m.store.SaveServer(ctx, srv); err != nil {
			m.logger.Warn().Err(err).Msg("failed to update saved server name")
		}
	}
	return nil
}

func (m *Manager) onMapInfo(ctx context.Context, e events.Event) error {
	info, ok := e.Payload.(events.MapInfo)
	if !ok {
		return nil
	}
	if info.WorldSize == 0 {
		info.WorldSize = events.DefaultWorldSize
	}

	m.mu.Lock()
	m.mapInfo = info
	m.hasMap = true
	m.mu.Unlock()

	m.logger.Info().
		Uint32("world_size", info.WorldSize).
		Int("monuments", len(info.Monuments)).
		Msg("map loaded")

	if err := m.RequestEntities(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("initial entity request failed")
	}
	return nil
}

func (m *Manager) onMapEntities(ctx context.Context, e events.Event) error {
	list, ok := e.Payload.([]events.MapEntity)
	if !ok {
		return nil
	}

	m.mu.Lock()
	m.entities = list
	m.entitiesAt = m.now()
	m.players = mergePlayers(m.players, list)
	players := make([]events.Player, len(m.players))
	copy(players, m.players)
	m.mu.Unlock()

	m.bus.EmitSync(ctx, events.Event{
		Type:    events.EventPlayersUpdated,
		Source:  "monitor",
		Payload: players,
	})
	return nil
}

func (m *Manager) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target = nil
	m.entities = nil
	m.entitiesAt = time.Time{}
	m.players = nil
	m.mapInfo = events.MapInfo{}
	m.hasMap = false
	m.info = events.ServerInfo{}
	m.infoAt = time.Time{}
	m.hasInfo = false
}

// mergePlayers updates players from the player entities in list. Known
// players keep their display name; players absent from list are dropped.
// Order of first appearance is preserved.
func mergePlayers(players []events.Player, list []events.MapEntity) []events.Player {
	seen := make(map[uint64]events.MapEntity)
	var order []uint64
	for _, ent := range list {
		if !ent.Type.IsPlayer() {
			continue
		}
		if _, dup := seen[ent.SteamID]; !dup {
			order = append(order, ent.SteamID)
		}
		seen[ent.SteamID] = ent
	}

	out := make([]events.Player, 0, len(seen))
	known := make(map[uint64]bool, len(players))
	for _, p := range players {
		ent, ok := seen[p.SteamID]
		if !ok {
			continue
		}
		known[p.SteamID] = true
		p.EntityID = ent.EntityID
		p.Online = ent.Online
		p.Dead = ent.Dead
		p.X, p.Y, p.Rotation = ent.X, ent.Y, ent.Rotation
		out = append(out, p)
	}
	for _, id := range order {
		if known[id] {
			continue
		}
		ent := seen[id]
		out = append(out, events.Player{
			SteamID:     ent.SteamID,
			EntityID:    ent.EntityID,
			DisplayName: ent.Label,
			Online:      ent.Online,
			Dead:        ent.Dead,
			X:           ent.X,
			Y:           ent.Y,
			Rotation:    ent.Rotation,
		})
	}
	return out
}
