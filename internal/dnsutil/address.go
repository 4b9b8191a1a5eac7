// Package dnsutil provides DNS helper functions shared by the rearview packages: canonical address
// handling, reverse-map owner names, TXT metadata encoding and compact message rendering.
package dnsutil

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// ParseAddr converts a literal address into its canonical netip form. IPv4 is dotted-quad, IPv6 is
// accepted in any textual form and canonicalized to RFC 5952 output. Ambiguous forms are rejected
// rather than guessed at: zoned addresses ("fe80::1%eth0") have no place in a reverse map and an
// IPv4-mapped IPv6 address is unmapped so that one host never appears under two keys.
func ParseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("dnsutil: invalid address '%s': %w", s, err)
	}
	if addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("dnsutil: zoned address '%s' is ambiguous in a reverse map", s)
	}

	return addr.Unmap(), nil
}

// ReverseName returns the reverse-map owner name for an address, e.g. 10.2.66.5 becomes
// "5.66.2.10.in-addr.arpa." and v6 addresses become the nibble form under ip6.arpa.
func ReverseName(addr netip.Addr) (string, error) {
	name, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", fmt.Errorf("dnsutil: no reverse name for '%s': %w", addr, err)
	}

	return name, nil
}

// ParseReverseName converts a reverse-map owner name back into an address. It is the inverse of
// ReverseName and accepts both in-addr.arpa. and ip6.arpa. owners. Names are matched without
// regard to case per DNS rules.
func ParseReverseName(name string) (netip.Addr, error) {
	lower := strings.ToLower(dns.Fqdn(name))

	if suffix := "in-addr.arpa."; strings.HasSuffix(lower, "."+suffix) {
		labels := strings.Split(strings.TrimSuffix(lower, "."+suffix), ".")
		if len(labels) != 4 {
			return netip.Addr{}, fmt.Errorf("dnsutil: '%s' does not have four octet labels", name)
		}
		// Octets appear in reverse order
		quad := labels[3] + "." + labels[2] + "." + labels[1] + "." + labels[0]
		addr, err := netip.ParseAddr(quad)
		if err != nil || !addr.Is4() {
			return netip.Addr{}, fmt.Errorf("dnsutil: '%s' is not a v4 reverse name", name)
		}
		return addr, nil
	}

	if suffix := "ip6.arpa."; strings.HasSuffix(lower, "."+suffix) {
		nibbles := strings.Split(strings.TrimSuffix(lower, "."+suffix), ".")
		if len(nibbles) != 32 {
			return netip.Addr{}, fmt.Errorf("dnsutil: '%s' does not have 32 nibble labels", name)
		}
		var sb strings.Builder
		for ix := 31; ix >= 0; ix-- { // Nibbles appear in reverse order
			if len(nibbles[ix]) != 1 {
				return netip.Addr{}, fmt.Errorf("dnsutil: bad nibble '%s' in '%s'", nibbles[ix], name)
			}
			sb.WriteString(nibbles[ix])
			if ix%4 == 0 && ix > 0 {
				sb.WriteByte(':')
			}
		}
		addr, err := netip.ParseAddr(sb.String())
		if err != nil || !addr.Is6() {
			return netip.Addr{}, fmt.Errorf("dnsutil: '%s' is not a v6 reverse name", name)
		}
		return addr, nil
	}

	return netip.Addr{}, fmt.Errorf("dnsutil: '%s' is not under in-addr.arpa or ip6.arpa", name)
}

// IsReverseName reports whether the owner name sits under one of the reverse-map domains.
func IsReverseName(name string) bool {
	lower := strings.ToLower(dns.Fqdn(name))

	return strings.HasSuffix(lower, ".in-addr.arpa.") || strings.HasSuffix(lower, ".ip6.arpa.")
}

// ValidateChain checks a forward-name chain as delivered by telemetry. The chain must contain at
// least one name and no empty labels. Names are returned fully qualified.
func ValidateChain(chain []string) ([]string, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("dnsutil: empty resolution chain")
	}
	out := make([]string, 0, len(chain))
	for _, name := range chain {
		if len(name) == 0 {
			return nil, fmt.Errorf("dnsutil: empty name in resolution chain")
		}
		fq := dns.Fqdn(name)
		if strings.Contains(fq, "..") {
			return nil, fmt.Errorf("dnsutil: empty label in chain name '%s'", name)
		}
		out = append(out, fq)
	}

	return out, nil
}

// Labels counts the dot-separated labels of a name with the trailing root label excluded, so
// "www.example.com." counts as three.
func Labels(name string) int {
	return dns.CountLabel(dns.Fqdn(name))
}
