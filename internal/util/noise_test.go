package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerlinFieldRangeAndDeterminism(t *testing.T) {
	a := NewPerlinField(42, 0.173)
	b := NewPerlinField(42, 0.173)
	c := NewPerlinField(43, 0.173)

	differs := false
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := a.At(x, y)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
			assert.Equal(t, v, b.At(x, y), "одинаковый сид - одинаковый шум")
			if v != c.At(x, y) {
				differs = true
			}
		}
	}
	assert.True(t, differs, "разные сиды должны давать разный шум")
}
