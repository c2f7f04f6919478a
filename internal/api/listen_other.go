//go:build !unix

package api

import "net"

// On Windows SO_REUSEADDR lets a second process steal a bound port, so the
// default listener is used.
func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
