package modeljson

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/aspect-cropper/pkg/types"
)

func TestSanitize(t *testing.T) {
	raw := "```json\n{\n  // subject\n  \"x\": 10, /* left */\n  \"y\": 20,\n}\n```"
	clean := Sanitize(raw)
	assert.NotContains(t, clean, "//")
	assert.NotContains(t, clean, "/*")
	assert.NotContains(t, clean, "`")
	assert.True(t, json.Valid([]byte(clean)), clean)

	assert.Equal(t, `{"a":1}`, Sanitize(`Sure! Here you go: {"a":1} hope it helps`))
	assert.Equal(t, `{"url":"http://x"}`, Sanitize(`{"url":"http://x"}`))
}

func TestParseRegion(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want types.SuggestedRegion
	}{
		{
			name: "percent",
			raw:  `{"x": 12.5, "y": 20, "width": 50, "height": 40}`,
			want: types.SuggestedRegion{X: 12.5, Y: 20, Width: 50, Height: 40},
		},
		{
			name: "short keys fenced",
			raw:  "```json\n{\"x\": 30, \"y\": 10, \"w\": 40, \"h\": 80,}\n```",
			want: types.SuggestedRegion{X: 30, Y: 10, Width: 40, Height: 80},
		},
		{
			name: "normalised",
			raw:  `{"x": 0.25, "y": 0.1, "width": 0.5, "height": 0.8}`,
			want: types.SuggestedRegion{X: 25, Y: 10, Width: 50, Height: 80},
		},
		{
			name: "nested primary box",
			raw:  `{"primary": {"label": "dog", "box": {"x": 0.2, "y": 0.2, "w": 0.4, "h": 0.6}}}`,
			want: types.SuggestedRegion{X: 20, Y: 20, Width: 40, Height: 60, Label: "dog"},
		},
		{
			name: "box_2d",
			raw:  `{"box_2d": [100, 200, 600, 700], "label": "cat"}`,
			want: types.SuggestedRegion{X: 20, Y: 10, Width: 50, Height: 50, Label: "cat"},
		},
		{
			name: "overflowing values are kept for the caller to clamp",
			raw:  `{"x": 40, "y": 40, "width": 80, "height": 80}`,
			want: types.SuggestedRegion{X: 40, Y: 40, Width: 80, Height: 80},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRegion(tc.raw)
			require.NoError(t, err)
			assert.InDelta(t, tc.want.X, got.X, 1e-9)
			assert.InDelta(t, tc.want.Y, got.Y, 1e-9)
			assert.InDelta(t, tc.want.Width, got.Width, 1e-9)
			assert.InDelta(t, tc.want.Height, got.Height, 1e-9)
			assert.Equal(t, tc.want.Label, got.Label)
		})
	}
}

func TestParseRegionMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"I could not find a subject.",
		`{"x": 10, "y": 10}`,
		`{"x": "ten", "y": 10, "width": 5, "height": 5}`,
		`{"x": 10, "y": 10, "width": 5, "height": 5`,
	} {
		_, err := ParseRegion(raw)
		assert.True(t, errors.Is(err, types.ErrMalformedResponse), "%q -> %v", raw, err)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := strings.Repeat("é", 50) // two bytes each
	for _, n := range []int{1, 79, 80, 81} {
		got := truncate(s, n)
		assert.True(t, utf8.ValidString(got), "n=%d", n)
		assert.LessOrEqual(t, len(got), n+len("..."))
		assert.True(t, strings.HasSuffix(got, "..."))
	}
	assert.Equal(t, "short", truncate("short", 80))

	_, err := ParseRegion("réponse: " + strings.Repeat("ü", 60))
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
}
