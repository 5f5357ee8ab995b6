//go:build linux

package sap

import (
	"net"

	"golang.org/x/sys/unix"
)

func setMulticastTTL(conn *net.UDPConn, ttl int) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl)
	})
}
