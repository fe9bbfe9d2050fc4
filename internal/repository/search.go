package repository

import (
	"net/url"
	"strings"
)

// Criteria maps a search parameter name to the ordered raw values
// submitted for it. Repeated keys accumulate; values for one key are ORed
// during matching.
type Criteria map[string][]string

// ParseQuery parses a raw query string ("key1=val1&key2=val2") into
// Criteria. The whole string is percent-decoded before splitting, matching
// the server this repository stands in for; '+' is a literal plus, not a
// space. Pairs without '=' are silently dropped.
func ParseQuery(raw string) Criteria {
	criteria := Criteria{}
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return criteria
	}
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	for _, pair := range strings.Split(raw, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		criteria[key] = append(criteria[key], value)
	}
	return criteria
}

// Matches reports whether a stored resource satisfies the criteria. An
// empty criteria set matches unconditionally. Every parameter name must be
// satisfied; identifier is the only supported parameter, and any other
// name fails closed so unsupported filters yield zero matches instead of
// being silently ignored.
func Matches(resource map[string]interface{}, criteria Criteria) bool {
	for name, values := range criteria {
		if name != "identifier" {
			return false
		}
		if !matchesIdentifier(resource, values) {
			return false
		}
	}
	return true
}

// matchesIdentifier reports whether the resource carries at least one
// identifier entry satisfying any of the submitted tokens. Tokens are
// "system|value" or bare "value"; a bare token matches regardless of
// system.
func matchesIdentifier(resource map[string]interface{}, tokens []string) bool {
	entries := identifierEntries(resource)
	if len(entries) == 0 {
		return false
	}
	for _, token := range tokens {
		system, value, hasSystem := "", token, false
		if s, v, ok := strings.Cut(token, "|"); ok {
			system, value, hasSystem = s, v, true
		}
		for _, entry := range entries {
			entryValue, _ := entry["value"].(string)
			if entryValue != value {
				continue
			}
			entrySystem, _ := entry["system"].(string)
			if !hasSystem || entrySystem == system {
				return true
			}
		}
	}
	return false
}

// identifierEntries normalizes the resource's identifier field. Documents
// decoded from JSON carry []interface{}; documents built in Go code may
// carry []map[string]interface{} directly.
func identifierEntries(resource map[string]interface{}) []map[string]interface{} {
	switch idents := resource["identifier"].(type) {
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(idents))
		for _, raw := range idents {
			if m, ok := raw.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	case []map[string]interface{}:
		return idents
	default:
		return nil
	}
}
