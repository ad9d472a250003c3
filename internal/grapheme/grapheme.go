// Package grapheme counts user-perceived characters.
package grapheme

import "github.com/rivo/uniseg"

// MaxPostLength is the longest post, in grapheme clusters, accepted for
// analysis.
const MaxPostLength = 280

// Count returns the number of extended grapheme clusters in text. The result
// does not depend on any locale.
func Count(text string) int {
	if text == "" {
		return 0
	}
	return uniseg.GraphemeClusterCount(text)
}

// Exceeds reports whether text is longer than limit clusters. It stops
// scanning as soon as the limit is passed.
func Exceeds(text string, limit int) bool {
	if len(text) <= limit {
		return false
	}
	n := 0
	state := -1
	rest := text
	for rest != "" {
		_, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		n++
		if n > limit {
			return true
		}
	}
	return false
}
