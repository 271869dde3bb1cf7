package automation

import "strings"

// Match reports whether any keyword occurs in the comment text. Matching is
// case-insensitive substring containment; an empty keyword never matches.
func Match(keywords []string, text string) bool {
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
