package origin

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var (
	ErrMissingOrigin    = errors.New("missing Origin header")
	ErrMalformedOrigin  = errors.New("malformed Origin header")
	ErrOriginNotAllowed = errors.New("origin not allowed")
)

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port]) and the host[:port]
// portion used for same-host comparisons. Explicit ports are kept as written,
// so "https://a.example" and "https://a.example:443" are distinct origins.
//
// The special Origin value "null" is allowed and returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether the normalized origin may open a signaling
// connection on requestHost.
//
// A non-empty allowedOrigins list is authoritative; entries are "*" or
// normalized origins. Otherwise only same host[:port] is accepted. The scheme
// is ignored because TLS is usually terminated in front of this service.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	if !strings.HasPrefix(normalizedOrigin, "http://") && !strings.HasPrefix(normalizedOrigin, "https://") {
		return false
	}
	reqHost, ok := canonicalHost(strings.TrimSpace(requestHost))
	if !ok {
		return false
	}
	return originHost == reqHost
}

// Policy checks the Origin of incoming WebSocket upgrade requests.
type Policy struct {
	allowed []string
	// RequireHeader rejects requests without an Origin header. Non-browser
	// clients usually omit it.
	RequireHeader bool
}

func NewPolicy(allowedOrigins []string) *Policy {
	return &Policy{allowed: append([]string(nil), allowedOrigins...)}
}

// Check returns nil when r may proceed.
func (p *Policy) Check(r *http.Request) error {
	raw := r.Header.Get("Origin")
	if raw == "" {
		if p.RequireHeader {
			return ErrMissingOrigin
		}
		return nil
	}
	normalized, host, ok := NormalizeHeader(raw)
	if !ok {
		return ErrMalformedOrigin
	}
	if !IsAllowed(normalized, host, r.Host, p.allowed) {
		return ErrOriginNotAllowed
	}
	return nil
}

// canonicalHost lowercases an authority host[:port] and validates the port.
func canonicalHost(authority string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", false
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		host += ":" + strconv.FormatUint(n, 10)
	}
	return host, true
}

// splitHostPort splits an authority host[:port]. IPv6 literals come back
// without brackets; the port is not validated.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		h, p, _ := strings.Cut(rawHost, ":")
		if h == "" || p == "" {
			return "", "", false
		}
		return h, p, true
	default:
		return "", "", false
	}
}
