package jsonx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_ValidJSON(t *testing.T) {
	text := `{"structures": [], "simplicity_assessment": {"c_d": {"value": 12}}}`

	got, repair, ok := Decode(text)
	require.True(t, ok)
	assert.Equal(t, RepairNone, repair)

	var want map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &want))
	assert.Equal(t, want, got)
}

func TestDecode_CodeFences(t *testing.T) {
	got, repair, ok := Decode("```json\n{\"a\":1}\n```")
	require.True(t, ok)
	assert.Equal(t, RepairFences, repair)
	assert.Equal(t, float64(1), got["a"])
}

func TestDecode_FenceWithoutTag(t *testing.T) {
	got, _, ok := Decode("```\n{\"a\": true}\n```")
	require.True(t, ok)
	assert.Equal(t, true, got["a"])
}

func TestDecode_SurroundingProse(t *testing.T) {
	got, repair, ok := Decode("Here is the analysis you asked for:\n{\"c_w\": 9}\nHope this helps!")
	require.True(t, ok)
	assert.Equal(t, RepairSlice, repair)
	assert.Equal(t, float64(9), got["c_w"])
}

func TestDecode_TrailingComma(t *testing.T) {
	got, repair, ok := Decode(`{"a": 1,}`)
	require.True(t, ok)
	assert.Equal(t, RepairCommas, repair)
	assert.Equal(t, float64(1), got["a"])
}

func TestDecode_BrokenStringLiteral(t *testing.T) {
	got, _, ok := Decode("{\"summary\": \"a line\nbroken across\n\tlines\"}")
	require.True(t, ok)
	assert.Equal(t, "a line broken across lines", got["summary"])
}

func TestDecode_CombinedDamage(t *testing.T) {
	text := "```json\nSure!\n{\"narrative\": {\"summary\": \"spiral\nforming\"}, \"errors\": [1, 2,],}\n```"
	got, _, ok := Decode(text)
	require.True(t, ok)
	narrative := got["narrative"].(map[string]any)
	assert.Equal(t, "spiral forming", narrative["summary"])
}

func TestDecode_NotJSON(t *testing.T) {
	_, _, ok := Decode("not json at all")
	assert.False(t, ok)
}

func TestDecode_Empty(t *testing.T) {
	_, _, ok := Decode("")
	assert.False(t, ok)

	_, _, ok = Decode("   \n ")
	assert.False(t, ok)
}

func TestDecode_UnrepairableBraces(t *testing.T) {
	_, _, ok := Decode("{\"a\": ")
	assert.False(t, ok)
}

func TestCollapseStringBreaks_PreservesEscapes(t *testing.T) {
	in := `{"a": "line\nwith escaped newline"}`
	assert.Equal(t, in, CollapseStringBreaks(in))
}

func TestCollapseStringBreaks_LeavesStructuralWhitespace(t *testing.T) {
	in := "{\n  \"a\": 1\n}"
	assert.Equal(t, in, CollapseStringBreaks(in))
}

func TestStripStrayCommas(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing object", `{"a":1,}`, `{"a":1}`},
		{"trailing array", `[1,2,]`, `[1,2]`},
		{"leading", `{,"a":1}`, `{"a":1}`},
		{"doubled", `[1,,2]`, `[1,2]`},
		{"clean", `{"a":[1,2]}`, `{"a":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripStrayCommas(tt.in))
		})
	}
}
