package protocol

import "strings"

// sensitiveMarkers are substrings that, when found in a lowercased key name,
// cause that key's value to be redacted. Matching is one level deep only —
// nested objects inside args/breadcrumbs are left untouched, per §9's open
// question on redaction depth.
var sensitiveMarkers = []string{"token", "secret", "password"}

const redactedValue = "[redacted]"

// isSensitiveKey reports whether a key name should be redacted.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RedactShallow redacts sensitive keys in a single map, one level deep.
// Arrays are preserved as-is (their elements are not descended into either).
func RedactShallow(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = v
	}
	return out
}

// RedactBreadcrumbs applies RedactShallow to each breadcrumb entry.
func RedactBreadcrumbs(crumbs []map[string]interface{}) []map[string]interface{} {
	if crumbs == nil {
		return nil
	}
	out := make([]map[string]interface{}, len(crumbs))
	for i, c := range crumbs {
		out[i] = RedactShallow(c)
	}
	return out
}

// TruncateMessage truncates message strings longer than MaxMessageLength
// runes to the first MaxMessageLength runes, followed by a single
// horizontal-ellipsis character and the literal marker "[truncated]".
func TruncateMessage(message string) string {
	runes := []rune(message)
	if len(runes) <= MaxMessageLength {
		return message
	}
	return string(runes[:MaxMessageLength]) + "…" + TruncationMarker
}
