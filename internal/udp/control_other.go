//go:build !unix

package udp

import "syscall"

// On non-unix platforms the runtime already enables broadcast on UDP sockets.
func broadcastControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
