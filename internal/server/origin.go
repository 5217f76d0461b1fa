package server

import (
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the WebSocket origin allow-list.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	origins  []string
}

// newOriginPolicy normalizes the configured origins. Entries that are not
// scheme://host are returned in ignored.
func newOriginPolicy(origins []string) (policy *originPolicy, ignored []string) {
	normalized, allowAll, ignored := normalizeOrigins(origins)
	policy = &originPolicy{
		allowAll: allowAll,
		allowed:  make(map[string]struct{}, len(normalized)),
		origins:  normalized,
	}
	for _, origin := range normalized {
		policy.allowed[origin] = struct{}{}
	}
	return policy, ignored
}

func normalizeOrigins(origins []string) (normalized []string, allowAll bool, ignored []string) {
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			ignored = append(ignored, origin)
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll, ignored
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

func (p *originPolicy) allows(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if p.allowAll {
		return true
	}

	_, exists := p.allowed[normalizedOrigin]
	return exists
}

// corsOrigins returns the http(s) origins usable by the CORS middleware.
func (p *originPolicy) corsOrigins() []string {
	out := make([]string, 0, len(p.origins))
	for _, origin := range p.origins {
		if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
			out = append(out, origin)
		}
	}
	return out
}
