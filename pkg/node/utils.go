package node

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/ryandielhenn/zephyrchat/pkg/gossip"
)

var ErrInvalidEndpoint = errors.New("node: invalid endpoint")

// NormalizeHostPort cuts a udp:// prefix from the input address and adds a
// default port when none is given.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "udp://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(addr, defPort)
}

// ParseEndpoint resolves a rendezvous address given as host:port, a bare
// host, or a multiaddr such as /ip4/10.0.0.1/udp/1099 or /dns4/host/udp/1099.
func ParseEndpoint(s string, defPort int) (netip.AddrPort, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.AddrPort{}, fmt.Errorf("%w: empty address", ErrInvalidEndpoint)
	}
	if strings.HasPrefix(s, "/") {
		hp, err := hostPortFromMultiaddr(s)
		if err != nil {
			return netip.AddrPort{}, err
		}
		s = hp
	}
	return resolveHostPort(NormalizeHostPort(s, strconv.Itoa(defPort)))
}

func hostPortFromMultiaddr(s string) (string, error) {
	m, err := ma.NewMultiaddr(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	var host string
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS4, ma.P_DNS, ma.P_DNS6} {
		if v, err := m.ValueForProtocol(code); err == nil {
			host = v
			break
		}
	}
	if host == "" {
		return "", fmt.Errorf("%w: %s has no ip or dns component", ErrInvalidEndpoint, s)
	}
	port, err := m.ValueForProtocol(ma.P_UDP)
	if err != nil {
		return "", fmt.Errorf("%w: %s has no udp component", ErrInvalidEndpoint, s)
	}
	return net.JoinHostPort(host, port), nil
}

func resolveHostPort(hp string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(hp); err == nil {
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	}
	ua, err := net.ResolveUDPAddr("udp4", hp)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	ap := ua.AddrPort()
	if ap.Port() == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: %s has no port", ErrInvalidEndpoint, hp)
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// resolveEndpoint turns a gossiped endpoint into a socket address.
// Peers normally gossip IP literals; host names are resolved.
func resolveEndpoint(e gossip.Endpoint) (netip.AddrPort, error) {
	if ap, err := e.AddrPort(); err == nil {
		return ap, nil
	}
	return resolveHostPort(e.HostPort())
}
