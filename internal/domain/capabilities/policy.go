package capabilities

import "strings"

// Policy decides whether a requested capability is covered by a set of grants.
// This is a pure domain service.
type Policy struct{}

// NewPolicy creates a new domain policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// IsGranted checks if a specific capability (request) is covered by any of the granted capabilities.
func (p *Policy) IsGranted(request Capability, granted []Capability) bool {
	for _, grant := range granted {
		if grant.Kind != request.Kind {
			continue
		}
		if request.Kind == KindHTTP {
			if matchHost(request.Pattern, grant.Pattern) {
				return true
			}
			continue
		}
		if matchPattern(request.Pattern, grant.Pattern) {
			return true
		}
	}
	return false
}

// Missing returns the requested capabilities not covered by the grants, in request order.
func (p *Policy) Missing(requested []Capability, granted []Capability) []Capability {
	var missing []Capability
	for _, req := range requested {
		if !p.IsGranted(req, granted) {
			missing = append(missing, req)
		}
	}
	return missing
}

// matchPattern performs simple glob-like pattern matching.
// Supports "*" wildcard at the end of the pattern.
func matchPattern(request, pattern string) bool {
	if pattern == "*" || pattern == "**" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(request, strings.TrimSuffix(pattern, "*"))
	}
	return request == pattern
}

// matchHost matches a hostname against "host", "*.domain" or "*".
// Matching is case-insensitive and ignores a trailing port on the request.
func matchHost(request, pattern string) bool {
	request = strings.ToLower(request)
	pattern = strings.ToLower(pattern)
	if host, _, ok := strings.Cut(request, ":"); ok {
		request = host
	}

	if pattern == "*" {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(request, "."+suffix)
	}
	return request == pattern
}
