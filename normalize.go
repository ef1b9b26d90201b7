package toolstream

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeUnicode returns the NFC canonical form of payload so that
// downstream comparisons are form-insensitive. Already-normalized text
// is returned unchanged without allocation.
func NormalizeUnicode(payload string) string {
	if norm.NFC.IsNormalString(payload) {
		return payload
	}
	return norm.NFC.String(payload)
}

// StripBidiControls removes bidirectional-formatting control code
// points from payload and reports how many were removed. Callers must
// pass only the candidate span; text outside the span is never touched.
// The removed characters themselves are not returned, only the count.
func StripBidiControls(payload string) (string, int) {
	if !strings.ContainsFunc(payload, isBidiControl) {
		return payload, 0
	}
	var b strings.Builder
	b.Grow(len(payload))
	removed := 0
	for _, r := range payload {
		if isBidiControl(r) {
			removed++
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), removed
}

// isBidiControl reports whether r is one of the Unicode directional
// formatting characters: ALM, LRM, RLM, the LRE..RLO embedding range,
// and the LRI..PDI isolate range.
func isBidiControl(r rune) bool {
	switch r {
	case '\u061C', '\u200E', '\u200F':
		return true
	}
	return (r >= '\u202A' && r <= '\u202E') || (r >= '\u2066' && r <= '\u2069')
}
