//go:build !linux

package rtr

import (
	"fmt"
	"syscall"
)

// tcpMD5 reports an error on platforms without TCP_MD5SIG support,
// matching stages/util_unsupported.go.
func tcpMD5(password string) func(network, addr string, c syscall.RawConn) error {
	return func(network, addr string, c syscall.RawConn) error {
		return fmt.Errorf("no TCP-MD5 support on this platform")
	}
}
