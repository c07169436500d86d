package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssemblerConcatenatesInOrder(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
	}{
		{name: "simple words", fragments: []string{"Hel", "lo wor", "ld"}},
		{name: "empty fragments preserved", fragments: []string{"", "a", "", "b"}},
		{name: "whitespace kept verbatim", fragments: []string{"a \n", "\tb", "  "}},
		{name: "unicode split mid-rune boundary", fragments: []string{"na\xc3", "\xafve"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler()
			var last string
			for i, fr := range tt.fragments {
				last = a.Append(fr)
				assert.Equal(t, strings.Join(tt.fragments[:i+1], ""), last)
			}
			assert.Equal(t, strings.Join(tt.fragments, ""), a.Text())
			assert.Equal(t, len(a.Text()), a.Len())
			assert.Equal(t, last, a.Text())
		})
	}
}

func TestAssemblerStartsEmpty(t *testing.T) {
	a := NewAssembler()
	assert.Empty(t, a.Text())
	assert.Zero(t, a.Len())
}
