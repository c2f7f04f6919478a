package protocol

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sync"
)

// RPCID returns the wire identifier for an operation name: the first four
// bytes (little-endian) of MD5("RPC_" + name).
func RPCID(name string) uint32 {
	sum := md5.Sum([]byte(rpcPrefix + name))
	return binary.LittleEndian.Uint32(sum[:4])
}

var knownNames = []string{
	RPCServerInfo,
	RPCLoadMapInfo,
	RPCPlayers,
	RPCRequestMapEntities,
	RPCSearchEntities,
	RPCConsoleTail,
	RPCConsoleInput,
	RPCChatTail,
	RPCChatInput,
	RPCPlugins,
	RPCPluginDetails,
	RPCSendPlayerInventory,
}

var (
	nameTableOnce sync.Once
	nameTable     map[uint32]string
)

// Names returns every operation name known to this client.
func Names() []string {
	out := make([]string, len(knownNames))
	copy(out, knownNames)
	return out
}

// NameOf reverse-maps a wire identifier to a known operation name.
func NameOf(id uint32) (string, bool) {
	nameTableOnce.Do(func() {
		nameTable = make(map[uint32]string, len(knownNames))
		for _, n := range knownNames {
			nameTable[RPCID(n)] = n
		}
	})
	name, ok := nameTable[id]
	return name, ok
}

// DescribeID formats an identifier for logs, including its name when known.
func DescribeID(id uint32) string {
	if name, ok := NameOf(id); ok {
		return fmt.Sprintf("%s (0x%08X)", name, id)
	}
	return fmt.Sprintf("0x%08X", id)
}
