//go:build !linux

package sap

import "net"

func setMulticastTTL(conn *net.UDPConn, ttl int) {}
