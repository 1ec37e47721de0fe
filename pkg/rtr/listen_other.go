//go:build !linux

package rtr

import (
	"fmt"
	"net"
)

// listenBacklog falls back to net.Listen on platforms without the
// raw-socket path in listen_linux.go: --rtr-backlog is ignored and
// the kernel's own default backlog applies. A non-empty md5Password
// always errors, matching tcpmd5_other.go.
func listenBacklog(addr string, backlog int, md5Password string) (net.Listener, error) {
	if md5Password != "" {
		return nil, fmt.Errorf("no TCP-MD5 support on this platform")
	}
	return net.Listen("tcp", addr)
}
