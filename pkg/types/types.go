package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MinSizePx is the smallest crop edge, in source pixels, the editor allows
const MinSizePx = 50.0

// Dimensions is the natural pixel size of a loaded image
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both sides are positive
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Aspect returns width/height
func (d Dimensions) Aspect() float64 {
	return float64(d.Width) / float64(d.Height)
}

// AspectRatio is a width/height constraint with its display label
type AspectRatio struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Enumerated aspect ratios offered by the editor
var (
	Widescreen   = AspectRatio{"16:9", 16.0 / 9.0}
	Standard     = AspectRatio{"4:3", 4.0 / 3.0}
	Square       = AspectRatio{"1:1", 1.0}
	Classic      = AspectRatio{"3:2", 3.0 / 2.0}
	LargeFormat  = AspectRatio{"5:4", 5.0 / 4.0}
	Vertical     = AspectRatio{"9:16", 9.0 / 16.0}
	Cinema       = AspectRatio{"1.85:1", 1.85}
	Anamorphic   = AspectRatio{"2.35:1", 2.35}
	DefaultRatio = Widescreen
)

// AspectRatios returns the enumerated set in display order
func AspectRatios() []AspectRatio {
	return []AspectRatio{Widescreen, Standard, Square, Classic, LargeFormat, Vertical, Cinema, Anamorphic}
}

// ParseAspectRatio looks up an enumerated ratio by label. "16x9" is accepted
// as well as "16:9".
func ParseAspectRatio(label string) (AspectRatio, error) {
	norm := strings.ReplaceAll(strings.TrimSpace(label), "x", ":")
	for _, r := range AspectRatios() {
		if r.Label == norm {
			return r, nil
		}
	}
	return AspectRatio{}, fmt.Errorf("unknown aspect ratio %q", label)
}

// FileLabel is the label with ':' replaced by 'x', safe for filenames
func (r AspectRatio) FileLabel() string {
	return strings.ReplaceAll(r.Label, ":", "x")
}

func (r AspectRatio) String() string {
	return r.Label
}

// Rotation is a clockwise rotation in degrees, one of 0, 90, 180, 270
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// ParseRotation accepts any multiple of 90, negative values included
func ParseRotation(s string) (Rotation, error) {
	deg, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid rotation %q: %w", s, err)
	}
	return NormalizeRotation(deg)
}

// NormalizeRotation folds deg into [0, 360) and rejects non right angles
func NormalizeRotation(deg int) (Rotation, error) {
	if deg%90 != 0 {
		return 0, fmt.Errorf("rotation must be a multiple of 90, got %d", deg)
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Rotation(deg), nil
}

// Next advances by 90 degrees
func (r Rotation) Next() Rotation {
	return (r + 90) % 360
}

// Swaps reports whether the rotation exchanges the output axes
func (r Rotation) Swaps() bool {
	return r == Rotate90 || r == Rotate270
}

// Radians converts the rotation for use in an affine transform
func (r Rotation) Radians() float64 {
	return float64(r) * math.Pi / 180
}

// Region is a crop rectangle in percent of the image dimensions (0-100)
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PixelRegion is a crop rectangle in image pixels
type PixelRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ToPixels derives the pixel rectangle for the given dimensions
func (r Region) ToPixels(d Dimensions) PixelRegion {
	w, h := float64(d.Width), float64(d.Height)
	return PixelRegion{
		X:      r.X / 100 * w,
		Y:      r.Y / 100 * h,
		Width:  r.Width / 100 * w,
		Height: r.Height / 100 * h,
	}
}

// Contained reports whether the region lies inside [0,100]x[0,100]
func (r Region) Contained() bool {
	const eps = 1e-9
	return r.X >= -eps && r.Y >= -eps && r.X+r.Width <= 100+eps && r.Y+r.Height <= 100+eps
}

// Empty reports whether the region has no area
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Region) String() string {
	return fmt.Sprintf("region(x=%.2f%%,y=%.2f%%,w=%.2f%%,h=%.2f%%)", r.X, r.Y, r.Width, r.Height)
}

// ToPercent is the inverse of Region.ToPixels
func (p PixelRegion) ToPercent(d Dimensions) Region {
	w, h := float64(d.Width), float64(d.Height)
	return Region{
		X:      p.X / w * 100,
		Y:      p.Y / h * 100,
		Width:  p.Width / w * 100,
		Height: p.Height / h * 100,
	}
}

// SuggestedRegion is an untrusted percent rectangle returned by a suggester
type SuggestedRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Label  string  `json:"label,omitempty"`
}

// Clamp keeps the origin inside [0,100] and the far edges at or below 100
func (s SuggestedRegion) Clamp() SuggestedRegion {
	s.X = clamp(s.X, 0, 100)
	s.Y = clamp(s.Y, 0, 100)
	s.Width = clamp(s.Width, 0, 100-s.X)
	s.Height = clamp(s.Height, 0, 100-s.Y)
	return s
}

// Valid rejects NaN/Inf coordinates and non-positive sizes
func (s SuggestedRegion) Valid() bool {
	for _, v := range []float64{s.X, s.Y, s.Width, s.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return s.Width > 0 && s.Height > 0
}

// Region drops the label
func (s SuggestedRegion) Region() Region {
	return Region{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
