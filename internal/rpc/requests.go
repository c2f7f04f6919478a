package rpc

import "github.com/rustpanel-project/rustpanel/internal/protocol"

// Request builders for outbound operations. Replies, when the bridge sends
// any, are matched by rpc id only.

// ServerInfoRequest asks for a ServerInfo snapshot.
func ServerInfoRequest() []byte {
	return protocol.NewRequest(protocol.RPCServerInfo).Bytes()
}

// LoadMapInfoRequest asks for the map image, world size and monuments.
func LoadMapInfoRequest() []byte {
	return protocol.NewRequest(protocol.RPCLoadMapInfo).Bytes()
}

// MapEntitiesRequest asks for the current map entity list.
func MapEntitiesRequest() []byte {
	return protocol.NewRequest(protocol.RPCRequestMapEntities).Bytes()
}

// PlayersRequest asks for the player list.
func PlayersRequest() []byte {
	return protocol.NewRequest(protocol.RPCPlayers).Bytes()
}

// ConsoleTailRequest asks for recent console output.
func ConsoleTailRequest() []byte {
	return protocol.NewRequest(protocol.RPCConsoleTail).Bytes()
}

// ChatTailRequest asks for recent chat lines.
func ChatTailRequest() []byte {
	return protocol.NewRequest(protocol.RPCChatTail).Bytes()
}

// PluginsRequest asks for the loaded plugin list.
func PluginsRequest() []byte {
	return protocol.NewRequest(protocol.RPCPlugins).Bytes()
}

// ConsoleInputRequest runs a server console command.
func ConsoleInputRequest(command string) []byte {
	return protocol.NewRequest(protocol.RPCConsoleInput).WriteString(command).Bytes()
}

// ChatInputRequest broadcasts a chat message.
func ChatInputRequest(message string) []byte {
	return protocol.NewRequest(protocol.RPCChatInput).WriteString(message).Bytes()
}

// SearchEntitiesRequest searches server entities by query.
func SearchEntitiesRequest(query string) []byte {
	return protocol.NewRequest(protocol.RPCSearchEntities).WriteString(query).Bytes()
}

// PluginDetailsRequest asks for details on one plugin by name.
func PluginDetailsRequest(plugin string) []byte {
	return protocol.NewRequest(protocol.RPCPluginDetails).WriteString(plugin).Bytes()
}

// SendPlayerInventoryRequest asks for a player's inventory by Steam id.
func SendPlayerInventoryRequest(steamID uint64) []byte {
	return protocol.NewRequest(protocol.RPCSendPlayerInventory).WriteUint64(steamID).Bytes()
}

// argumentless maps operation names that take no arguments to their builders.
var argumentless = map[string]func() []byte{
	protocol.RPCServerInfo:         ServerInfoRequest,
	protocol.RPCLoadMapInfo:        LoadMapInfoRequest,
	protocol.RPCRequestMapEntities: MapEntitiesRequest,
	protocol.RPCPlayers:            PlayersRequest,
	protocol.RPCConsoleTail:        ConsoleTailRequest,
	protocol.RPCChatTail:           ChatTailRequest,
	protocol.RPCPlugins:            PluginsRequest,
}

// SimpleRequest builds an argument-less request by operation name.
func SimpleRequest(name string) ([]byte, bool) {
	build, ok := argumentless[name]
	if !ok {
		return nil, false
	}
	return build(), true
}
