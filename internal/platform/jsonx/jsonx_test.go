package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRaw(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "fenced json block",
			text: "Here you go:\n```json\n{\"a\": 1}\n```\nDone.",
			want: `{"a": 1}`,
		},
		{
			name: "fenced json preferred over earlier plain fence",
			text: "```\nnot json\n```\n```json\n{\"b\": 2}\n```",
			want: `{"b": 2}`,
		},
		{
			name: "any fenced block that parses",
			text: "```\n[1, 2, 3]\n```",
			want: `[1, 2, 3]`,
		},
		{
			name: "bare object in prose",
			text: `The result is {"name": "ada", "ok": true} as requested.`,
			want: `{"name": "ada", "ok": true}`,
		},
		{
			name: "largest balanced object wins",
			text: `small {"a":1} then {"a":1,"nested":{"b":2}} end`,
			want: `{"a":1,"nested":{"b":2}}`,
		},
		{
			name: "array in prose",
			text: `scores: [10, 20, 30].`,
			want: `[10, 20, 30]`,
		},
		{
			name: "braces inside strings ignored",
			text: `{"text": "a } inside", "n": 1}`,
			want: `{"text": "a } inside", "n": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractRaw(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractRawTruncatedFence(t *testing.T) {
	text := "```json\n{\"items\": [{\"id\": 1}, {\"id\": 2}"
	got, err := ExtractRaw(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items": [{"id":1},{"id":2}]}`, got)
}

func TestExtractRawTruncatedString(t *testing.T) {
	text := "```json\n{\"message\": \"cut off"
	got, err := ExtractRaw(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message": "cut off"}`, got)
}

func TestExtractRawNoJSON(t *testing.T) {
	for _, text := range []string{
		"",
		"plain prose without any structure",
		"unbalanced { brace",
		"``` \nstill not json\n```",
	} {
		_, err := ExtractRaw(text)
		assert.ErrorIs(t, err, ErrNoJSON, "input: %q", text)
	}
}

func TestExtractUnmarshals(t *testing.T) {
	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	err := Extract("```json\n{\"name\": \"x\", \"count\": 3}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "x", out.Name)
	assert.Equal(t, 3, out.Count)
}
