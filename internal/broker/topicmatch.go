package broker

import "strings"

// matchesFilter reports whether topic matches filter per MQTT 3.1.1
// wildcard semantics: '+' matches exactly one token, '#' matches
// zero-or-more remaining tokens and must be the terminal token (spec §4.1
// algorithmic notes).
func matchesFilter(topic, filter string) bool {
	topicTokens := strings.Split(topic, "/")
	filterTokens := strings.Split(filter, "/")

	ti := 0
	for fi := 0; fi < len(filterTokens); fi++ {
		ft := filterTokens[fi]

		if ft == "#" {
			// '#' must be terminal; the caller is responsible for
			// rejecting non-terminal '#' at subscribe time (spec §4.6.2
			// validates filters, not matching itself).
			return true
		}

		if ti >= len(topicTokens) {
			return false
		}

		if ft != "+" && ft != topicTokens[ti] {
			return false
		}

		ti++
	}

	return ti == len(topicTokens)
}

// validFilterSyntax reports whether a filter is structurally well formed:
// '#' only appears alone as the final token.
func validFilterSyntax(filter string) bool {
	tokens := strings.Split(filter, "/")
	for i, t := range tokens {
		if strings.Contains(t, "#") && (t != "#" || i != len(tokens)-1) {
			return false
		}
		if strings.Contains(t, "+") && t != "+" {
			return false
		}
	}
	return true
}
