//go:build !linux

package rtpsession

import "net"

// configureSocket is a no-op on non-Linux platforms: DSCP marking is
// Linux-specific per spec.md §4.10, and TTL/multicast defaults are
// generally adequate elsewhere for this engine's purposes.
func configureSocket(conn *net.UDPConn, dest net.IP) {}
