package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitsFor(t *testing.T) {
	tests := []struct {
		name       string
		tier       string
		chatLimit  int64
		imageLimit int64
	}{
		{name: "free", tier: Free, chatLimit: 50, imageLimit: 2},
		{name: "pro", tier: Pro, chatLimit: 200, imageLimit: 5},
		{name: "plus", tier: Plus, chatLimit: 500, imageLimit: 10},
		{name: "admin unlimited", tier: Admin, chatLimit: Unlimited, imageLimit: Unlimited},
		{name: "unknown falls back to free", tier: "enterprise", chatLimit: 50, imageLimit: 2},
		{name: "empty falls back to free", tier: "", chatLimit: 50, imageLimit: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := LimitsFor(tt.tier)
			assert.Equal(t, tt.chatLimit, limits.ChatLimit)
			assert.Equal(t, tt.imageLimit, limits.ImageLimit)
			assert.NotEmpty(t, limits.NameEN)
			assert.NotEmpty(t, limits.NameZH)
		})
	}
}
