package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	goSession "github.com/MrEthical07/goSession"
)

// IPResolver derives the client address of a request. X-Forwarded-For is honored only
// when the direct peer is a trusted proxy, and then only up to the first hop that is not.
// A nil or empty resolver trusts no one and returns the peer address.
type IPResolver struct {
	trusted []netip.Prefix
}

// NewIPResolver parses the trusted proxies, each a CIDR ("10.0.0.0/8") or a bare address.
func NewIPResolver(trusted ...string) (*IPResolver, error) {
	r := &IPResolver{}
	for _, raw := range trusted {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			r.trusted = append(r.trusted, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

func (r *IPResolver) isTrusted(addr netip.Addr) bool {
	if r == nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the client address of req. Forwarded entries are walked right to left
// past trusted proxies; a malformed entry stops the walk at the last trusted hop.
func (r *IPResolver) ClientIP(req *http.Request) string {
	peer := peerAddr(req)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !r.isTrusted(addr) {
		return peer
	}

	hops := forwardedFor(req)
	client := addr
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(hops[i])
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !r.isTrusted(client) {
			break
		}
	}
	return client.String()
}

// Context stores the resolved client address in the request context.
func (r *IPResolver) Context(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := goSession.WithClientIP(req.Context(), r.ClientIP(req))
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// ClientIP returns the host part of RemoteAddr. Use an IPResolver to honor
// X-Forwarded-For from known proxies.
func ClientIP(r *http.Request) string {
	return peerAddr(r)
}

// ClientIPContext stores ClientIP(r) in the request context for the engine to pick up.
func ClientIPContext(next http.Handler) http.Handler {
	var none *IPResolver
	return none.Context(next)
}

// requestIP returns the address already resolved into the context, else the peer.
func requestIP(r *http.Request) string {
	if ip := goSession.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return peerAddr(r)
}

func peerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func forwardedFor(r *http.Request) []string {
	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(header, ",") {
			hops = append(hops, strings.TrimSpace(part))
		}
	}
	return hops
}
