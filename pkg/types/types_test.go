package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAspectRatio(t *testing.T) {
	for _, r := range AspectRatios() {
		got, err := ParseAspectRatio(r.Label)
		require.NoError(t, err, r.Label)
		assert.Equal(t, r, got)

		got, err = ParseAspectRatio(r.FileLabel())
		require.NoError(t, err, r.FileLabel())
		assert.Equal(t, r, got)
	}

	_, err := ParseAspectRatio("7:5")
	assert.Error(t, err)
	_, err = ParseAspectRatio("")
	assert.Error(t, err)

	assert.Equal(t, "2.35x1", Anamorphic.FileLabel())
	assert.Len(t, AspectRatios(), 8)
}

func TestRotation(t *testing.T) {
	cases := map[int]Rotation{0: Rotate0, 90: Rotate90, 450: Rotate90, -90: Rotate270, -180: Rotate180, 720: Rotate0}
	for in, want := range cases {
		got, err := NormalizeRotation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := NormalizeRotation(45)
	assert.Error(t, err)

	got, err := ParseRotation(" 270 ")
	require.NoError(t, err)
	assert.Equal(t, Rotate270, got)
	_, err = ParseRotation("ninety")
	assert.Error(t, err)

	assert.Equal(t, Rotate0, Rotate270.Next())
	assert.True(t, Rotate90.Swaps())
	assert.False(t, Rotate180.Swaps())
	assert.InDelta(t, math.Pi/2, Rotate90.Radians(), 1e-12)
}

func TestRegionPixels(t *testing.T) {
	d := Dimensions{Width: 1000, Height: 500}
	r := Region{X: 10, Y: 5, Width: 80, Height: 90}

	px := r.ToPixels(d)
	assert.Equal(t, PixelRegion{X: 100, Y: 25, Width: 800, Height: 450}, px)
	back := px.ToPercent(d)
	assert.InDelta(t, r.X, back.X, 1e-9)
	assert.InDelta(t, r.Height, back.Height, 1e-9)

	assert.True(t, r.Contained())
	assert.False(t, Region{X: 50, Width: 60, Height: 10}.Contained())
	assert.True(t, Region{Width: 0, Height: 10}.Empty())
	assert.InDelta(t, 2.0, d.Aspect(), 1e-12)
}

func TestSuggestedRegion(t *testing.T) {
	s := SuggestedRegion{X: 40, Y: 40, Width: 80, Height: 80, Label: "dog"}
	c := s.Clamp()
	assert.Equal(t, SuggestedRegion{X: 40, Y: 40, Width: 60, Height: 60, Label: "dog"}, c)

	c = SuggestedRegion{X: -10, Y: 120, Width: 50, Height: 50}.Clamp()
	assert.Equal(t, 0.0, c.X)
	assert.Equal(t, 100.0, c.Y)
	assert.Equal(t, 0.0, c.Height)
	assert.False(t, c.Valid())

	assert.True(t, s.Valid())
	assert.False(t, SuggestedRegion{X: math.NaN(), Width: 1, Height: 1}.Valid())
	assert.False(t, SuggestedRegion{Width: math.Inf(1), Height: 1}.Valid())
	assert.Equal(t, Region{X: 40, Y: 40, Width: 80, Height: 80}, s.Region())
}

func TestFormat(t *testing.T) {
	for in, want := range map[string]Format{"webp": FormatWebP, ".JPG": FormatJPEG, "jpeg": FormatJPEG, "image/png": FormatPNG} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("gif")
	assert.Error(t, err)

	assert.Equal(t, "jpg", FormatJPEG.Extension())
	assert.Equal(t, "image/jpeg", FormatJPEG.MIMEType())
	assert.False(t, FormatPNG.Lossy())

	assert.Equal(t, DefaultQuality, ClampQuality(0))
	assert.Equal(t, MinQuality, ClampQuality(0.01))
	assert.Equal(t, MaxQuality, ClampQuality(3))
	assert.Equal(t, 0.5, ClampQuality(0.5))
	assert.Equal(t, DefaultQuality, ClampQuality(math.NaN()))
	assert.Equal(t, DefaultQuality, ClampQuality(math.Inf(1)))
	assert.Equal(t, DefaultQuality, ClampQuality(math.Inf(-1)))
}
