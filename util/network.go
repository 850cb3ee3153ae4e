package util

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"gotcp/internal/errors"
)

// ParseIPv4 converts a dotted-decimal string such as "192.168.1.10"
// into its four address bytes.  IPv6 and host names are rejected.
func ParseIPv4(s string) ([4]byte, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return [4]byte{}, fmt.Errorf("%q: %w", s, errors.ErrNotIPv4)
	}
	return addr.As4(), nil
}

// FormatIPv4 is the inverse of [ParseIPv4].
func FormatIPv4(b [4]byte) string {
	return netip.AddrFrom4(b).String()
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
