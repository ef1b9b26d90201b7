package toolstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUnicode(t *testing.T) {
	// decomposed e + combining acute collapses to the precomposed form
	decomposed := "café"
	assert.Equal(t, "café", NormalizeUnicode(decomposed))

	// already-NFC text comes back unchanged
	hebrew := "שלום עולם"
	assert.Equal(t, hebrew, NormalizeUnicode(hebrew))
	assert.Equal(t, "", NormalizeUnicode(""))
}

func TestStripBidiControls(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		removed int
	}{
		{"clean ascii", `{"city":"Haifa"}`, `{"city":"Haifa"}`, 0},
		{"clean hebrew", `{"city":"חיפה"}`, `{"city":"חיפה"}`, 0},
		{"rlm and lrm", "a‏b‎c", "abc", 2},
		{"alm", "x؜y", "xy", 1},
		{"embedding range", "q‪‫‬‭‮w", "qw", 5},
		{"isolate range", "q⁦⁧⁨⁩w", "qw", 4},
		{"inside json string", "{\"city\":\"‮חיפה\"}", `{"city":"חיפה"}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, removed := StripBidiControls(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.removed, removed)
		})
	}
}
