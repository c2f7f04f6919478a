package rpc

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/protocol"
)

// Publisher delivers decoded values to subscribers, in order.
type Publisher interface {
	EmitSync(ctx context.Context, event events.Event) error
}

const eventSource = "rpc"

// ServerInfoHandler decodes ServerInfo replies and publishes EventServerInfo.
type ServerInfoHandler struct {
	pub Publisher
}

// NewServerInfoHandler returns a handler publishing to pub.
func NewServerInfoHandler(pub Publisher) *ServerInfoHandler {
	return &ServerInfoHandler{pub: pub}
}

// RPCName returns the ServerInfo operation name.
func (h *ServerInfoHandler) RPCName() string { return protocol.RPCServerInfo }

// Handle decodes one reply and publishes it.
func (h *ServerInfoHandler) Handle(ctx context.Context, r *protocol.Reader) error {
	info, err := DecodeServerInfo(r)
	if err != nil {
		return err
	}

	log.Debug().
		Str("hostname", info.Hostname).
		Int32("players", info.PlayerCount).
		Int32("max_players", info.MaxPlayers).
		Int32("queued", info.QueuedPlayers).
		Int32("joining", info.JoiningPlayers).
		Int32("entities", info.EntityCount).
		Str("game_time", info.GameTime).
		Int32("uptime", info.Uptime).
		Float32("fps", info.FPS).
		Msg("server info received")

	publish(ctx, h.pub, events.Event{Type: events.EventServerInfo, Source: eventSource, Payload: info})
	return nil
}

// MapInfoHandler decodes LoadMapInfo replies and publishes EventMapInfo.
type MapInfoHandler struct {
	pub Publisher
}

// NewMapInfoHandler returns a handler publishing to pub.
func NewMapInfoHandler(pub Publisher) *MapInfoHandler {
	return &MapInfoHandler{pub: pub}
}

// RPCName returns the LoadMapInfo operation name.
func (h *MapInfoHandler) RPCName() string { return protocol.RPCLoadMapInfo }

// Handle decodes one reply and publishes it.
func (h *MapInfoHandler) Handle(ctx context.Context, r *protocol.Reader) error {
	info, err := DecodeMapInfo(r)
	if err != nil {
		return err
	}

	log.Info().
		Uint32("world_size", info.WorldSize).
		Int("monuments", len(info.Monuments)).
		Int("image_bytes", len(info.Image)).
		Msg("map info received")

	publish(ctx, h.pub, events.Event{Type: events.EventMapInfo, Source: eventSource, Payload: info})
	return nil
}

// MapEntitiesHandler decodes RequestMapEntities replies and publishes
// EventMapEntities.
type MapEntitiesHandler struct {
	pub Publisher
}

// NewMapEntitiesHandler returns a handler publishing to pub.
func NewMapEntitiesHandler(pub Publisher) *MapEntitiesHandler {
	return &MapEntitiesHandler{pub: pub}
}

// RPCName returns the RequestMapEntities operation name.
func (h *MapEntitiesHandler) RPCName() string { return protocol.RPCRequestMapEntities }

// Handle decodes one reply and publishes it.
func (h *MapEntitiesHandler) Handle(ctx context.Context, r *protocol.Reader) error {
	list, err := DecodeMapEntities(r)
	if err != nil {
		return err
	}

	log.Debug().Int("entities", len(list)).Msg("map entities received")

	publish(ctx, h.pub, events.Event{Type: events.EventMapEntities, Source: eventSource, Payload: list})
	return nil
}

// publish hands e to pub. Subscriber failures are logged by the bus and do
// not fail the decode.
func publish(ctx context.Context, pub Publisher, e events.Event) {
	if err := pub.EmitSync(ctx, e); err != nil {
		log.Debug().Err(err).Str("event", string(e.Type)).Msg("subscriber error after decode")
	}
}

// RegisterDefaults installs the three payload decoders on rt.
func RegisterDefaults(rt *Router, pub Publisher) {
	rt.RegisterHandler(NewServerInfoHandler(pub))
	rt.RegisterHandler(NewMapInfoHandler(pub))
	rt.RegisterHandler(NewMapEntitiesHandler(pub))
}
