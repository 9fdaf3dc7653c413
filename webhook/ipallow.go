package webhook

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// trustedProxyHeaders are checked in order for the original client address
// when the service sits behind a known edge proxy. The first header carrying
// a parseable address wins; the transport peer address is the fallback.
var trustedProxyHeaders = []string{
	"x-nf-client-connection-ip",
	"x-vercel-proxy-ip",
	"cf-connecting-ip",
	"true-client-ip",
	"x-forwarded-for",
}

// ClientIP resolves the originating client address from proxy headers,
// falling back to the transport peer address.
func ClientIP(headers func(name string) string, remoteAddr string) netip.Addr {
	for _, header := range trustedProxyHeaders {
		value := strings.TrimSpace(headers(header))
		if value == "" {
			continue
		}

		// x-forwarded-for may carry a chain; the left-most entry is the client.
		if first, _, found := strings.Cut(value, ","); found {
			value = strings.TrimSpace(first)
		}

		if addr, err := netip.ParseAddr(value); err == nil {
			return addr.Unmap()
		}
	}

	host := remoteAddr
	if splitHost, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = splitHost
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(host)); err == nil {
		return addr.Unmap()
	}

	return netip.Addr{}
}

// IPAllowlist admits caller addresses matching configured single addresses or
// CIDR ranges.
type IPAllowlist struct {
	addrs    []netip.Addr
	prefixes []netip.Prefix
}

// NewIPAllowlist parses a list of entries, each a single IP or a CIDR range.
// An empty entry list yields a list that rejects every caller.
func NewIPAllowlist(entries []string) (*IPAllowlist, error) {
	allowlist := &IPAllowlist{}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("webhook: invalid allowlist CIDR %q: %w", entry, err)
			}

			allowlist.prefixes = append(allowlist.prefixes, prefix.Masked())

			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("webhook: invalid allowlist address %q: %w", entry, err)
		}

		allowlist.addrs = append(allowlist.addrs, addr.Unmap())
	}

	return allowlist, nil
}

// Allowed reports whether the address matches any allowlist entry. Invalid
// addresses are always rejected.
func (allowlist *IPAllowlist) Allowed(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}

	addr = addr.Unmap()

	for _, allowed := range allowlist.addrs {
		if allowed == addr {
			return true
		}
	}

	for _, prefix := range allowlist.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}
