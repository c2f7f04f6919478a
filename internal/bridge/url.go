package bridge

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is the bridge's default listen port.
const DefaultPort = 3050

// Address formats host and port as a WebSocket URL.
func Address(scheme, host string, port int) string {
	if scheme == "" {
		scheme = "ws"
	}
	if port <= 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)))
}

// Target builds the dial URL for address, appending credential as a path
// segment. It also returns the URL with the credential omitted, for logs.
// An address without a scheme is treated as ws://.
func Target(address, credential string) (string, string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", "", fmt.Errorf("%w: empty address", ErrTransport)
	}
	if !strings.Contains(address, "://") {
		address = "ws://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("%w: invalid address %q: %v", ErrTransport, address, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", "", fmt.Errorf("%w: unsupported scheme %q", ErrTransport, u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("%w: address %q has no host", ErrTransport, address)
	}

	base := strings.TrimRight(u.String(), "/")
	if credential == "" {
		return base, base, nil
	}
	return base + "/" + url.PathEscape(credential), base, nil
}
