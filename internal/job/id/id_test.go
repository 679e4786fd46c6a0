package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_Length(t *testing.T) {
	got := Generate()
	assert.Len(t, got, Length)
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		got := Generate()
		assert.False(t, seen[got], "collision on %s", got)
		seen[got] = true
	}
}

func TestGenerate_Hex(t *testing.T) {
	got := Generate()
	for _, r := range got {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "non-hex rune %q", r)
	}
}
