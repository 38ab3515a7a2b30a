package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Hostnames that must never be dialed as the remote ledger, regardless
// of what they resolve to.
var blockedHosts = []string{
	"localhost",
	"metadata.google.internal",
	"metadata.google",
}

// ValidateRemoteURL checks that the configured remote ledger base URL is
// safe to dial from the server. The sync client makes outbound requests
// with this URL on every cycle, so a misconfigured value pointing at the
// metadata service or an internal address would turn the syncer into an
// SSRF primitive. Both IP literals and every DNS-resolved address are
// vetted.
func ValidateRemoteURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("remote ledger URL is malformed")
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("remote ledger URL scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("remote ledger URL must have a host")
	}

	host := u.Hostname()
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("remote ledger host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkDialable(ip)
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve remote ledger host %q", host)
	}
	for _, addr := range addrs {
		if ip := net.ParseIP(addr); ip != nil {
			if err := checkDialable(ip); err != nil {
				return fmt.Errorf("remote ledger host %q resolves to blocked address: %v", host, err)
			}
		}
	}
	return nil
}

func checkDialable(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private addresses are not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
