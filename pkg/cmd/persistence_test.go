package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url      string
		provider string
	}{
		{"file:///var/lib/regcycle", "file"},
		{"postgres://regcycle@localhost/regcycle", "postgres"},
		{"postgresql://regcycle@localhost/regcycle", "postgresql"},
		{"mongodb://localhost", "file"},
		{"./data", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.provider, parsePersistenceProvider(tt.url))
		})
	}
}
