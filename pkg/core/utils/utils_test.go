package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmartParse(t *testing.T) {
	type deal struct {
		DealName string  `json:"deal_name"`
		Units    float64 `json:"num_units"`
	}

	tests := []struct {
		name  string
		input string
	}{
		{"standard", `{"deal_name": "Oak Park", "num_units": 120}`},
		{"trailing comma", `{"deal_name": "Oak Park", "num_units": 120,}`},
		{"single quotes", `{'deal_name': 'Oak Park', 'num_units': 120}`},
		{"unclosed", `{"deal_name": "Oak Park", "num_units": 120`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d deal
			_, err := SmartParse(tt.input, &d)
			require.NoError(t, err)
			assert.Equal(t, "Oak Park", d.DealName)
			assert.Equal(t, 120.0, d.Units)
		})
	}
}

func TestSmartParseObject_RejectsArray(t *testing.T) {
	_, err := SmartParseObject(`[1, 2, 3]`)
	assert.Error(t, err)

	obj, err := SmartParseObject(`{"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, obj["a"])
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "Here you go:\n\n```json\n{\"a\": 1}\n```\n", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"no fence", `  {"a": 1}  `, `{"a": 1}`},
		{"skips other languages", "```python\nprint(1)\n```\n```json\n{\"b\": 2}\n```", `{"b": 2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.input))
		})
	}
}

func TestExtractFencedJSON_None(t *testing.T) {
	_, ok := ExtractFencedJSON("plain text, no blocks")
	assert.False(t, ok)
}
