package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_SortsKeys(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"flat map", map[string]any{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{"nested map", map[string]any{"z": map[string]any{"y": 1, "x": 2}, "a": 0}, `{"a":0,"z":{"x":2,"y":1}}`},
		{"array order preserved", []any{3, 1, 2}, `[3,1,2]`},
		{"array of objects", []any{map[string]any{"b": 1, "a": 2}}, `[{"a":2,"b":1}]`},
		{"null", nil, `null`},
		{"string", "", `""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCanonicalJSON_StructFieldOrderIrrelevant(t *testing.T) {
	type ab struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	type ba struct {
		B int `json:"b"`
		A int `json:"a"`
	}

	s1, err := CanonicalJSON(ab{A: 1, B: 2})
	require.NoError(t, err)
	s2, err := CanonicalJSON(ba{A: 1, B: 2})
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestCanonicalJSON_NumbersByteStable(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{"pct": 0.97, "cents": 246000.55})
	require.NoError(t, err)
	assert.Equal(t, `{"cents":246000.55,"pct":0.97}`, got)
}

func TestCanonicalJSON_RejectsUnmarshalable(t *testing.T) {
	_, err := CanonicalJSON(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}

func TestHashJSON_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"object", map[string]any{"a": 1}, "6fb5a3e9"},
		{"empty string", "", "00596645"},
		{"null", nil, "7c72c9de"},
		{"deal fragment", map[string]any{"posture": "base", "arv": 390000}, "84d94a2f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HashJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestHashJSON_KeyOrderIndependent(t *testing.T) {
	h1, err := HashJSON(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	h2, err := HashJSON(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, "038d2e6f", h1)
}

func TestHashJSON_ArrayOrderSensitive(t *testing.T) {
	h1, err := HashJSON([]int{1, 2, 3})
	require.NoError(t, err)
	h2, err := HashJSON([]int{3, 2, 1})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, "55f5d693", h1)
	assert.Equal(t, "514db693", h2)
}
