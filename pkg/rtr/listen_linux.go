//go:build linux

package rtr

import (
	"net"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// listenBacklog binds a TCP listener with an explicit accept backlog.
// net.ListenConfig always sizes the kernel backlog from
// /proc/sys/net/core/somaxconn and exposes no override, so honoring
// --rtr-backlog requires building the socket by hand: socket, optional
// TCP_MD5SIG_EXT (same sockopt tcpMD5 applies through
// net.ListenConfig.Control on the default path), bind, then
// listen(fd, backlog) before handing the fd to net.FileListener.
//
// An address with no host (":323") binds IPv4 wildcard rather than
// attempting Go's usual dual-stack IPv6 socket; operators who want
// IPv6 should give an explicit "[::]:323".
func listenBacklog(addr string, backlog int, md5Password string) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	if ip4 := tcpAddr.IP.To4(); tcpAddr.IP != nil && ip4 == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	closeOnErr := true
	defer func() {
		if closeOnErr {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, os.NewSyscallError("setsockopt(SO_REUSEADDR)", err)
	}

	if md5Password != "" {
		if err := setTCPMD5(fd, domain, md5Password); err != nil {
			return nil, err
		}
	}

	if domain == unix.AF_INET6 {
		var a unix.SockaddrInet6
		a.Port = tcpAddr.Port
		copy(a.Addr[:], tcpAddr.IP.To16())
		err = unix.Bind(fd, &a)
	} else {
		var a unix.SockaddrInet4
		a.Port = tcpAddr.Port
		if ip4 := tcpAddr.IP.To4(); ip4 != nil {
			copy(a.Addr[:], ip4)
		}
		err = unix.Bind(fd, &a)
	}
	if err != nil {
		return nil, os.NewSyscallError("bind", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		return nil, os.NewSyscallError("listen", err)
	}

	f := os.NewFile(uintptr(fd), "rtr-listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, err
	}
	closeOnErr = false
	return ln, nil
}

// setTCPMD5 mirrors tcpMD5's TCPMD5Sig sockopt, applied directly to a
// raw fd instead of through a syscall.RawConn's Control callback.
func setTCPMD5(fd, domain int, password string) error {
	var key [80]byte
	l := copy(key[:], password)
	sig := unix.TCPMD5Sig{
		Flags:     unix.TCP_MD5SIG_FLAG_PREFIX,
		Prefixlen: 0,
		Keylen:    uint16(l),
		Key:       key,
	}
	if domain == unix.AF_INET6 {
		sig.Addr.Family = unix.AF_INET6
	} else {
		sig.Addr.Family = unix.AF_INET
	}
	b := *(*[unsafe.Sizeof(sig)]byte)(unsafe.Pointer(&sig))
	if err := unix.SetsockoptString(fd, unix.IPPROTO_TCP, unix.TCP_MD5SIG_EXT, string(b[:])); err != nil {
		return os.NewSyscallError("setsockopt(TCP_MD5SIG_EXT)", err)
	}
	return nil
}
