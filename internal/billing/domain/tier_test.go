package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveTier(t *testing.T) {
	tests := []struct {
		name     string
		expected Tier
	}{
		{"Enterprise Custom", TierEnterprise},
		{"Pro Plus Annual", TierProPlus},
		{"pro-plus", TierProPlus},
		{"ProPlus Monthly", TierProPlus},
		{"Pro Monthly", TierPro},
		{"PRO", TierPro},
		{"Basic", TierBasic},
		{"starter basic yearly", TierBasic},
		{"Hobby", TierFree},
		{"", TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveTier(tt.name))
		})
	}
}

func TestTier_Valid(t *testing.T) {
	assert.True(t, TierProPlus.Valid())
	assert.False(t, Tier("gold").Valid())
}
