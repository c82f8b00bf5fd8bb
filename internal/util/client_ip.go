package util

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is the set of front proxies whose forwarding headers are
// believed. Audit entries record the resolved client IP for every upload,
// analysis, and export, so spoofable headers are ignored unless the direct
// peer is on this list.
type TrustedProxies struct {
	nets []*net.IPNet
}

// NewTrustedProxies parses CIDR or bare-IP entries. All-blank input yields
// a nil set, which trusts no proxy and audits the direct peer address.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	var nets []*net.IPNet
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", raw)
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			entry = fmt.Sprintf("%s/%d", entry, bits)
		}
		_, cidr, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		nets = append(nets, cidr)
	}
	if len(nets) == 0 {
		return nil, nil
	}
	return &TrustedProxies{nets: nets}, nil
}

// Contains reports whether ip belongs to a trusted proxy. A nil set
// contains nothing.
func (t *TrustedProxies) Contains(ip net.IP) bool {
	if t == nil || ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP resolves the address recorded on audit entries. When the direct
// peer is untrusted its address is the answer, whatever the headers claim.
// Behind a trusted proxy, X-Forwarded-For is walked right to left and the
// first hop not operated by a trusted proxy wins.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer := remoteIP(r.RemoteAddr)
	if peer == nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !trusted.Contains(peer) {
		return peer.String()
	}
	hops := forwardedHops(r.Header.Get("X-Forwarded-For"))
	for i := len(hops) - 1; i >= 0; i-- {
		if !trusted.Contains(hops[i]) {
			return hops[i].String()
		}
	}
	if len(hops) > 0 {
		// Every listed hop is one of ours; the leftmost is the closest
		// thing to a client the chain recorded.
		return hops[0].String()
	}
	if realIP := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); realIP != nil {
		return realIP.String()
	}
	return peer.String()
}

func forwardedHops(raw string) []net.IP {
	var hops []net.IP
	for _, part := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			hops = append(hops, ip)
		}
	}
	return hops
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		host = strings.TrimSpace(addr)
	}
	return net.ParseIP(host)
}
