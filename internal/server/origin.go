// Package server normalizes and validates HTTP origins for WebSocket
// upgrade requests to enforce configured access control.
package server

import (
	"net/http"
	"net/url"
	"strings"
)

// originPolicy holds the normalized origin allow-list for upgrade checks.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	policy := originPolicy{allowed: make(map[string]struct{}, len(origins))}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			policy.allowAll = true
			continue
		}
		if normalized, ok := normalizeOrigin(trimmed); ok {
			policy.allowed[normalized] = struct{}{}
		}
	}

	return policy
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (p originPolicy) isAllowed(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if p.allowAll {
		return true
	}
	_, exists := p.allowed[normalized]
	return exists
}
