package bus

import "strings"

// IsPattern reports whether a recipient string is a topic pattern
// (e.g. "plugin.*") rather than an exact agent ID.
func IsPattern(recipient string) bool {
	return strings.HasSuffix(recipient, ".*")
}

// firstSegment returns the recipient string up to the first '.'.
func firstSegment(s string) string {
	if i := strings.Index(s, "."); i >= 0 {
		return s[:i]
	}
	return s
}

// PatternMatches reports whether a subscription topic matches a published
// pattern. A pattern "seg.*" matches the topic "seg.*" itself and any more
// specific topic sharing the same first segment ("seg.video").
func PatternMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if IsPattern(pattern) {
		return firstSegment(pattern) == firstSegment(topic)
	}
	return false
}
