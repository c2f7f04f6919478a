//go:build unix

package api

import (
	"net"
	"syscall"
)

// reuseAddrListenConfig sets SO_REUSEADDR so a restarted panel can rebind
// its API port while old sockets sit in TIME_WAIT.
func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
}
