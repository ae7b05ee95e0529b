// Package netutil builds the proxy's listening socket and resolves the
// upstream address once at startup, so the dispatcher itself only ever
// deals with already-open file descriptors.
package netutil

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

const listenBacklog = 25

// Listen creates a dual-stack IPv6 listener (IPV6_V6ONLY=0, SO_REUSEADDR=1)
// bound to [::1] by default, or [::] when acceptAll is set, and returns its
// raw, non-blocking file descriptor for registration with the dispatcher's
// epoll instance.
func Listen(port int, acceptAll bool) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return -1, fmt.Errorf("netutil: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
		return -1, fmt.Errorf("netutil: IPV6_V6ONLY: %w", err)
	}

	addr := unix.SockaddrInet6{Port: port}
	if !acceptAll {
		addr.Addr[15] = 1 // [::1]
	}
	if err := unix.Bind(fd, &addr); err != nil {
		return -1, fmt.Errorf("netutil: bind: %w", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return -1, fmt.Errorf("netutil: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, fmt.Errorf("netutil: set non-blocking: %w", err)
	}

	ok = true
	return fd, nil
}

// LocalPort returns the port a bound socket is listening on. Used to
// discover the OS-assigned port when Listen is called with port 0, as the
// TLS front end does for the dispatcher's internal loopback listener.
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("netutil: getsockname: %w", err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet6:
		return a.Port, nil
	case *unix.SockaddrInet4:
		return a.Port, nil
	default:
		return 0, fmt.Errorf("netutil: unexpected sockaddr type %T", sa)
	}
}

// ResolveUpstream resolves the configured upstream host:port once at
// startup; the dispatcher connects to the resulting address on every
// CONNECT_UPSTREAM without re-resolving. The config value is accepted in
// the same loose forms the original proxy allowed for its upstream
// setting: an optional http:// or https:// scheme (stripped, but lending
// its default port when none is given explicitly), an optional trailing
// slash, and an explicit ":port" suffix that always wins over the scheme.
func ResolveUpstream(upstream string) (*net.TCPAddr, error) {
	hostport, err := normalizeUpstream(upstream)
	if err != nil {
		return nil, fmt.Errorf("netutil: resolving upstream %s: %w", upstream, err)
	}
	addr, err := net.ResolveTCPAddr("tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("netutil: resolving upstream %s: %w", upstream, err)
	}
	return addr, nil
}

// normalizeUpstream turns a config upstream value into a bare "host:port"
// string suitable for net.ResolveTCPAddr.
func normalizeUpstream(upstream string) (string, error) {
	s := upstream
	defaultPort := "80"

	switch {
	case strings.HasPrefix(s, "https://"):
		s = strings.TrimPrefix(s, "https://")
		defaultPort = "443"
	case strings.HasPrefix(s, "http://"):
		s = strings.TrimPrefix(s, "http://")
		defaultPort = "80"
	}

	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return "", fmt.Errorf("empty upstream host")
	}

	if _, _, err := net.SplitHostPort(s); err == nil {
		return s, nil
	}
	return net.JoinHostPort(s, defaultPort), nil
}

// SetNonblock marks an already-open fd (e.g. one returned by accept or
// connect) non-blocking, for use by the dispatcher's handlers.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
