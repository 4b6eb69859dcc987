// Package identity derives the anonymous fingerprint used to deduplicate
// votes and likes. It is deliberately coarse: one identity per network
// origin, optionally split by a client token, not an account.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const (
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
	HeaderClientToken  = "X-Client-Token"

	maxTokenLength = 128
)

var ErrNoOrigin = errors.New("request has no usable origin address")

// Resolver maps a request to a stable identity string.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// HashResolver keys an HMAC-SHA256 over the normalised origin address and,
// when enabled, the client token.
type HashResolver struct {
	secret      []byte
	trustProxy  bool
	clientToken bool
}

// NewHashResolver builds a resolver. With clientToken unset the
// X-Client-Token header is ignored, so rotating it cannot mint new
// identities from one origin.
func NewHashResolver(secret string, trustProxy, clientToken bool) *HashResolver {
	return &HashResolver{secret: []byte(secret), trustProxy: trustProxy, clientToken: clientToken}
}

func (h *HashResolver) Resolve(r *http.Request) (string, error) {
	origin := h.origin(r)
	if origin == "" {
		return "", ErrNoOrigin
	}
	var token string
	if h.clientToken {
		token = strings.TrimSpace(r.Header.Get(HeaderClientToken))
		if len(token) > maxTokenLength {
			token = token[:maxTokenLength]
		}
	}
	return Fingerprint(h.secret, origin, token), nil
}

func (h *HashResolver) origin(r *http.Request) string {
	if h.trustProxy {
		if xff := r.Header.Get(HeaderForwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if addr := NormalizeAddr(first); addr != "" {
				return addr
			}
		}
		if xri := r.Header.Get(HeaderRealIP); xri != "" {
			if addr := NormalizeAddr(xri); addr != "" {
				return addr
			}
		}
	}
	return NormalizeAddr(r.RemoteAddr)
}

// Fingerprint is the keyed hash behind HashResolver.
func Fingerprint(secret []byte, origin, token string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(origin))
	mac.Write([]byte{'|'})
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// NormalizeAddr strips ports, zones and the IPv4-mapped IPv6 prefix so
// the same client always yields the same string. Values that are not IP
// addresses are returned trimmed and lower-cased.
func NormalizeAddr(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	return strings.ToLower(s)
}
