package rpc

import (
	"fmt"

	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/protocol"
)

// LayoutVersion identifies the field layouts decoded below. The bridge does
// not negotiate layouts; a plugin that changes them needs a matching client.
const LayoutVersion = 1

// maxListCount bounds monument and entity counts before allocation.
const maxListCount = 1 << 20

// DecodeServerInfo reads a ServerInfo reply.
// Format: [str hostname][i32 maxPlayers][i32 players][i32 queued][i32 joining]
// [i32 reserved][i32 entityCount][str gameTime][i32 uptime][str mapName][f32 fps]
func DecodeServerInfo(r *protocol.Reader) (events.ServerInfo, error) {
	var info events.ServerInfo
	var err error

	if info.Hostname, err = r.ReadString(); err != nil {
		return info, fmt.Errorf("failed to parse hostname: %w", err)
	}
	if info.MaxPlayers, err = r.ReadInt32(); err != nil {
		return info, fmt.Errorf("failed to parse max players: %w", err)
	}
	if info.PlayerCount, err = r.ReadInt32(); err != nil {
		return info, fmt.Errorf("failed to parse player count: %w", err)
	}
	if info.QueuedPlayers, err = r.ReadInt32(); err != nil {
		return info, fmt.Errorf("failed to parse queued players: %w", err)
	}
	if info.JoiningPlayers, err = r.ReadInt32(); err != nil {
		return info, fmt.Errorf("failed to parse joining players: %w", err)
	}
	if _, err = r.ReadInt32(); err != nil {
		return info, fmt.Errorf("failed to parse reserved field: %w", err)
	}
	if info.EntityCount, err = r.ReadInt32(); err != nil {
		return info, fmt.Errorf("failed to parse entity count: %w", err)
	}
	if info.GameTime, err = r.ReadString(); err != nil {
		return info, fmt.Errorf("failed to parse game time: %w", err)
	}
	if info.Uptime, err = r.ReadInt32(); err != nil {
		return info, fmt.Errorf("failed to parse uptime: %w", err)
	}
	if info.MapName, err = r.ReadString(); err != nil {
		return info, fmt.Errorf("failed to parse map name: %w", err)
	}
	if info.FPS, err = r.ReadFloat32(); err != nil {
		return info, fmt.Errorf("failed to parse fps: %w", err)
	}
	return info, nil
}

// DecodeMapInfo reads a LoadMapInfo reply.
// Format: [i32 width][i32 height][i32 imageLen][imageLen bytes][u32 worldSize]
// [i32 count] then count x [str name][f32 x][f32 y]
func DecodeMapInfo(r *protocol.Reader) (events.MapInfo, error) {
	var info events.MapInfo
	var err error

	if info.ImageWidth, err = r.ReadInt32(); err != nil {
		return info, fmt.Errorf("failed to parse image width: %w", err)
	}
	if info.ImageHeight, err = r.ReadInt32(); err != nil {
		return info, fmt.Errorf("failed to parse image height: %w", err)
	}
	imageLen, err := r.ReadInt32()
	if err != nil {
		return info, fmt.Errorf("failed to parse image length: %w", err)
	}
	if imageLen < 0 {
		return info, fmt.Errorf("invalid image length %d", imageLen)
	}
	if info.Image, err = r.ReadBytes(int(imageLen)); err != nil {
		return info, fmt.Errorf("failed to parse image data: %w", err)
	}
	if info.WorldSize, err = r.ReadUint32(); err != nil {
		return info, fmt.Errorf("failed to parse world size: %w", err)
	}

	count, err := r.ReadInt32()
	if err != nil {
		return info, fmt.Errorf("failed to parse monument count: %w", err)
	}
	if count < 0 || count > maxListCount {
		return info, fmt.Errorf("invalid monument count %d", count)
	}

	info.Monuments = make([]events.Monument, 0, count)
	for i := int32(0); i < count; i++ {
		var m events.Monument
		if m.Name, err = r.ReadString(); err != nil {
			return info, fmt.Errorf("failed to parse monument %d name: %w", i, err)
		}
		if m.X, err = r.ReadFloat32(); err != nil {
			return info, fmt.Errorf("failed to parse monument %d x: %w", i, err)
		}
		if m.Y, err = r.ReadFloat32(); err != nil {
			return info, fmt.Errorf("failed to parse monument %d y: %w", i, err)
		}
		info.Monuments = append(info.Monuments, m)
	}
	return info, nil
}

// DecodeMapEntities reads a RequestMapEntities reply.
// Format: [i32 count] then count x [u64 entityId][u64 steamId][u8 type]
// [str label][f32 x][f32 y][f32 rotation][bool online][bool dead]
func DecodeMapEntities(r *protocol.Reader) ([]events.MapEntity, error) {
	count, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("failed to parse entity count: %w", err)
	}
	if count < 0 || count > maxListCount {
		return nil, fmt.Errorf("invalid entity count %d", count)
	}

	list := make([]events.MapEntity, 0, count)
	for i := int32(0); i < count; i++ {
		e, err := decodeEntity(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entity %d: %w", i, err)
		}
		list = append(list, e)
	}
	return list, nil
}

func decodeEntity(r *protocol.Reader) (events.MapEntity, error) {
	var e events.MapEntity
	var err error

	if e.EntityID, err = r.ReadUint64(); err != nil {
		return e, err
	}
	if e.SteamID, err = r.ReadUint64(); err != nil {
		return e, err
	}
	t, err := r.ReadByte()
	if err != nil {
		return e, err
	}
	e.Type = events.EntityType(t)
	if e.Label, err = r.ReadString(); err != nil {
		return e, err
	}
	if e.X, err = r.ReadFloat32(); err != nil {
		return e, err
	}
	if e.Y, err = r.ReadFloat32(); err != nil {
		return e, err
	}
	if e.Rotation, err = r.ReadFloat32(); err != nil {
		return e, err
	}
	if e.Online, err = r.ReadBool(); err != nil {
		return e, err
	}
	if e.Dead, err = r.ReadBool(); err != nil {
		return e, err
	}
	return e, nil
}
