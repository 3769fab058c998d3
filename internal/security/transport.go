// Package security hardens outbound HTTP requests against SSRF.
//
// SafeTransport wraps http.Transport to enforce an IP blocklist at dial
// time, so no outbound request -- original or redirected -- can reach
// internal infrastructure such as the cloud metadata service
// (169.254.169.254), localhost, or private network ranges.
//
// The transfers and accounts endpoints are operator-configured and in most
// deployments resolve to exactly those private ranges, so their hostnames
// are allowlisted at startup: requests to an allowlisted host bypass the
// blocklist, while any other destination (a redirect off the configured
// host, a rebound name) stays subject to it.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// dnsTimeout is the maximum time allowed for DNS resolution.
const dnsTimeout = 500 * time.Millisecond

// ErrBlocked is returned when a request targets a blocked IP range.
var ErrBlocked = errors.New("ssrf: request to blocked IP range")

// ErrDNSTimeout is returned when DNS resolution exceeds the timeout.
var ErrDNSTimeout = errors.New("ssrf: DNS resolution timeout")

// ErrTooManyRedirects is returned when the redirect limit is exceeded.
var ErrTooManyRedirects = errors.New("ssrf: too many redirects")

// ErrDNSFailed is returned when DNS resolution fails entirely.
var ErrDNSFailed = errors.New("ssrf: DNS resolution failed")

// blockedCIDRs lists the network ranges outbound requests must never reach:
// loopback, RFC 1918 private ranges, link-local (cloud metadata), and
// carrier-grade NAT.
var blockedCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

// blockedNets holds the parsed CIDR blocks. Initialized once via sync.Once.
var (
	blockedNets []*net.IPNet
	initOnce    sync.Once
	initErr     error
)

func initBlockedNets() {
	initOnce.Do(func() {
		blockedNets = make([]*net.IPNet, 0, len(blockedCIDRs))
		for _, cidr := range blockedCIDRs {
			_, ipNet, err := net.ParseCIDR(cidr)
			if err != nil {
				initErr = fmt.Errorf("ssrf: failed to parse CIDR %q: %w", cidr, err)
				return
			}
			blockedNets = append(blockedNets, ipNet)
		}
	})
}

// isBlockedIP checks if the given IP falls within any blocked CIDR range.
func isBlockedIP(ip net.IP) bool {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// netResolver wraps net.Resolver to satisfy the Resolver interface.
type netResolver struct {
	r *net.Resolver
}

func (nr *netResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return nr.r.LookupIPAddr(ctx, host)
}

// SafeTransport wraps http.Transport and validates every resolved IP during
// connection establishment.
type SafeTransport struct {
	// Base is the underlying http.Transport used for actual connections.
	Base *http.Transport

	// Resolver is used for DNS lookups. If nil, net.DefaultResolver is used.
	// Exposed for testing.
	Resolver Resolver

	// allowedHosts are operator-configured endpoint hostnames exempt from
	// the blocklist. Keys are lower-cased hostnames or IP literals.
	allowedHosts map[string]struct{}
}

// NewSafeTransport creates a SafeTransport wrapping the provided base
// transport. If base is nil, a default http.Transport is used. allowedHosts
// names the operator-configured endpoints that may live on private ranges.
func NewSafeTransport(base *http.Transport, allowedHosts ...string) (*SafeTransport, error) {
	initBlockedNets()
	if initErr != nil {
		return nil, fmt.Errorf("ssrf: initialization failed: %w", initErr)
	}

	if base == nil {
		base = &http.Transport{}
	}

	st := &SafeTransport{
		Base:         base,
		allowedHosts: allowedHostSet(allowedHosts),
	}
	base.DialContext = st.safeDialContext

	return st, nil
}

// allowedHostSet normalizes an allowlist into a lookup set.
func allowedHostSet(hosts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}

func hostAllowed(set map[string]struct{}, host string) bool {
	_, ok := set[strings.ToLower(host)]
	return ok
}

// RoundTrip implements http.RoundTripper. It delegates to the base transport
// which has its DialContext overridden with SSRF validation.
func (st *SafeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return st.Base.RoundTrip(req)
}

// safeDialContext resolves the host to IP addresses, validates each against
// the blocked CIDR list, and only dials if all resolved IPs are safe.
func (st *SafeTransport) safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}

	// Operator-configured endpoints are dialed as-is.
	if hostAllowed(st.allowedHosts, host) {
		dialer := &net.Dialer{}
		return dialer.DialContext(ctx, network, addr)
	}

	// IP literals are validated directly.
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrBlocked, ip.String())
		}
		dialer := &net.Dialer{}
		return dialer.DialContext(ctx, network, addr)
	}

	resolver := st.getResolver()
	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, err := resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrDNSFailed, host, err)
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrDNSFailed, host)
	}

	// Validate ALL resolved IPs before connecting to any. This prevents DNS
	// rebinding attacks where one safe IP is mixed with a private IP.
	for _, ipAddr := range ips {
		if isBlockedIP(ipAddr.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrBlocked, ipAddr.IP.String(), host)
		}
	}

	// All IPs are safe. Dial the first one.
	target := net.JoinHostPort(ips[0].IP.String(), port)
	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, network, target)
}

// getResolver returns the configured Resolver, or the default net.Resolver.
func (st *SafeTransport) getResolver() Resolver {
	if st.Resolver != nil {
		return st.Resolver
	}
	return &netResolver{r: net.DefaultResolver}
}

// CheckRedirect returns an http.Client CheckRedirect function that validates
// redirect targets against the SSRF blocklist and enforces a maximum number
// of redirects. Redirects that stay on an allowlisted host are permitted.
//
// resolver is optional; if nil, net.DefaultResolver is used.
func CheckRedirect(maxRedirects int, resolver Resolver, allowedHosts ...string) func(req *http.Request, via []*http.Request) error {
	initBlockedNets()

	if resolver == nil {
		resolver = &netResolver{r: net.DefaultResolver}
	}
	allowed := allowedHostSet(allowedHosts)

	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}

		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrBlocked)
		}

		if hostAllowed(allowed, host) {
			return nil
		}

		if ip := net.ParseIP(host); ip != nil {
			if isBlockedIP(ip) {
				return fmt.Errorf("%w: redirect to %s", ErrBlocked, ip.String())
			}
			return nil
		}

		dnsCtx, cancel := context.WithTimeout(req.Context(), dnsTimeout)
		defer cancel()

		ips, err := resolver.LookupIPAddr(dnsCtx, host)
		if err != nil {
			if dnsCtx.Err() != nil {
				return fmt.Errorf("%w: redirect host %q", ErrDNSTimeout, host)
			}
			return fmt.Errorf("%w: redirect host %q: %v", ErrDNSFailed, host, err)
		}

		for _, ipAddr := range ips {
			if isBlockedIP(ipAddr.IP) {
				return fmt.Errorf("%w: redirect to %s (resolved from %s)", ErrBlocked, ipAddr.IP.String(), host)
			}
		}

		return nil
	}
}

// NewSafeHTTPClient creates an http.Client configured with SafeTransport and
// SSRF-aware redirect checking. This is the client the transfers and accounts
// integrations are built on; allowedHosts carries their configured hostnames
// so deployments on private networks keep working.
func NewSafeHTTPClient(timeout time.Duration, maxRedirects int, allowedHosts ...string) (*http.Client, error) {
	transport, err := NewSafeTransport(nil, allowedHosts...)
	if err != nil {
		return nil, err
	}

	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(maxRedirects, transport.Resolver, allowedHosts...),
	}, nil
}
