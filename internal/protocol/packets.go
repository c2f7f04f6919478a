// Package protocol implements the binary framing used on the Carbon
// WebControlPanel bridge. Every frame starts with an 8-byte header
// ([int32 channel][uint32 rpc id]) followed by the operation's fields.
// All numeric values are little-endian and strings carry a 4-byte
// unsigned length prefix.
package protocol

// RPC operation names understood by the bridge.
const (
	RPCServerInfo          = "ServerInfo"
	RPCLoadMapInfo         = "LoadMapInfo"
	RPCPlayers             = "Players"
	RPCRequestMapEntities  = "RequestMapEntities"
	RPCSearchEntities      = "SearchEntities"
	RPCConsoleTail         = "ConsoleTail"
	RPCConsoleInput        = "ConsoleInput"
	RPCChatTail            = "ChatTail"
	RPCChatInput           = "ChatInput"
	RPCPlugins             = "Plugins"
	RPCPluginDetails       = "PluginDetails"
	RPCSendPlayerInventory = "SendPlayerInventory"
)

const (
	// HeaderSize is the size of the frame header (channel + rpc id).
	HeaderSize = 8

	// DefaultChannel is the only channel value written by this client.
	DefaultChannel int32 = 0

	// DumpLimit bounds how many payload bytes are included in diagnostics.
	DumpLimit = 64

	// rpcPrefix is prepended to an operation name before hashing.
	rpcPrefix = "RPC_"
)

// Header is the fixed prefix of every frame.
type Header struct {
	Channel int32
	RPCID   uint32
}
