package protocol

import (
	"encoding/hex"
	"strings"
)

// PayloadDump returns an uppercase, space-separated hex dump of at most
// DumpLimit bytes following the frame header.
func PayloadDump(data []byte) string {
	if len(data) <= HeaderSize {
		return ""
	}
	payload := data[HeaderSize:]
	if len(payload) > DumpLimit {
		payload = payload[:DumpLimit]
	}

	var sb strings.Builder
	for i, b := range payload {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{b})))
	}
	return sb.String()
}
