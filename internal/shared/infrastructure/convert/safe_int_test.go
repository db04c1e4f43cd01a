package convert

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntToInt32Clamped(t *testing.T) {
	assert.Equal(t, int32(25), IntToInt32Clamped(25))
	assert.Equal(t, int32(-7), IntToInt32Clamped(-7))
	assert.Equal(t, int32(math.MaxInt32), IntToInt32Clamped(math.MaxInt32+1))
	assert.Equal(t, int32(math.MinInt32), IntToInt32Clamped(math.MinInt32-1))
}

func TestIntToUint32Clamped(t *testing.T) {
	t.Run("in range", func(t *testing.T) {
		assert.Equal(t, uint32(5), IntToUint32Clamped(5))
	})

	t.Run("negative becomes zero", func(t *testing.T) {
		assert.Equal(t, uint32(0), IntToUint32Clamped(-3))
	})

	t.Run("clamps above max", func(t *testing.T) {
		assert.Equal(t, uint32(math.MaxUint32), IntToUint32Clamped(math.MaxUint32+1))
	})
}
