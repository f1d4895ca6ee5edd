// Package pattern implements wildcard matching over dot-separated module
// ids, as used by the ACL engine to express rules like "math.*" or
// "billing.*.internal".
package pattern

import "strings"

// Match reports whether moduleID matches pattern. '*' matches any run of
// characters, including dots, so "math.*" matches "math.add.positive" as
// well as "math.add". A bare "*" matches everything.
func Match(pattern, moduleID string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == moduleID
	}

	segments := strings.Split(pattern, "*")
	pos := 0

	if !strings.HasPrefix(pattern, "*") {
		if !strings.HasPrefix(moduleID, segments[0]) {
			return false
		}
		pos = len(segments[0])
	}

	for _, segment := range segments[1:] {
		if segment == "" {
			continue
		}
		idx := strings.Index(moduleID[pos:], segment)
		if idx == -1 {
			return false
		}
		pos += idx + len(segment)
	}

	if !strings.HasSuffix(pattern, "*") {
		last := segments[len(segments)-1]
		if !strings.HasSuffix(moduleID, last) {
			return false
		}
	}

	return true
}
