package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixFilterPageSize(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"unset", 0, MaxPageSize},
		{"negative", -3, MaxPageSize},
		{"within cap", 25, 25},
		{"at cap", MaxPageSize, MaxPageSize},
		{"above cap", 200, MaxPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PrefixFilter{Limit: tt.limit}.PageSize())
		})
	}
}
