package canonical_test

import (
	"testing"

	"github.com/dukex/regcycle/pkg/canonical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{name: "same strings", a: "x", b: "x", want: true},
		{name: "different strings", a: "x", b: "y", want: false},
		{name: "int and float", a: 3, b: float64(3), want: true},
		{name: "nested maps", a: map[string]any{"a": []any{1, "b"}}, b: map[string]any{"a": []any{float64(1), "b"}}, want: true},
		{name: "nil and missing", a: nil, b: "", want: false},
		{name: "slice order", a: []any{1, 2}, b: []any{2, 1}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, canonical.Equal(tt.a, tt.b))
		})
	}
}

func TestHash_StableAcrossKeyOrder(t *testing.T) {
	t.Parallel()

	first, err := canonical.Hash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)

	second, err := canonical.Hash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "sha256:")
}

func TestClone_IsIndependent(t *testing.T) {
	t.Parallel()

	original := map[string]any{"nested": map[string]any{"v": "a"}}
	cloned := canonical.Clone(original)

	cloned["nested"].(map[string]any)["v"] = "b"

	assert.Equal(t, "a", original["nested"].(map[string]any)["v"])
	assert.Nil(t, canonical.Clone(nil))
}
