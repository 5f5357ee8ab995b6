//go:build linux

package rtpsession

import (
	"net"

	"golang.org/x/sys/unix"
)

// configureSocket sets TTL=64 (also as the multicast TTL when the
// destination is within 224.0.0.0/4) and requests DSCP EF (46) via
// IP_TOS. No multicast interface is joined or selected
// (IP_MULTICAST_IF is not set).
func configureSocket(conn *net.UDPConn, dest net.IP) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, 64)
		// DSCP EF = 0b101110 in the high 6 bits of the TOS byte -> 0xB8.
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, 0xB8)
		if dest.IsMulticast() {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, 64)
		}
	})
}
