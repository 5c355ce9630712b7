// Package geometry computes crop rectangles for a target aspect ratio.
//
// Regions are kept in percent of the image's natural dimensions; pixel
// rectangles are derived on demand and never stored alongside them.
//
// Rotation convention: the rectangle is always selected in source pixel
// space. For 90 and 270 degrees the renderer swaps the output axes, so the
// source rectangle uses the inverted ratio (1/value). The rendered output
// therefore always has the selected ratio.
package geometry

import (
	"fmt"
	"math"

	"github.com/menta2k/aspect-cropper/pkg/types"
)

// Engine computes crop rectangles
type Engine struct {
	config Config
}

// Config holds geometry parameters
type Config struct {
	// FillRatio is the share of the limiting dimension an initial crop covers
	FillRatio float64
	// MinSizePx is the floor for either crop edge, in source pixels
	MinSizePx float64
}

// DefaultConfig returns the editor defaults
func DefaultConfig() Config {
	return Config{
		FillRatio: 0.9,
		MinSizePx: types.MinSizePx,
	}
}

// New creates an Engine with default configuration
func New() *Engine {
	return &Engine{config: DefaultConfig()}
}

// NewWithConfig creates an Engine with custom configuration. Out of range
// values fall back to the defaults.
func NewWithConfig(config Config) *Engine {
	def := DefaultConfig()
	if config.FillRatio <= 0 || config.FillRatio > 1 {
		config.FillRatio = def.FillRatio
	}
	if config.MinSizePx < 0 {
		config.MinSizePx = def.MinSizePx
	}
	return &Engine{config: config}
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// EffectiveAspect is the width/height the source rectangle must have so the
// rendered output has ratio after rotation.
func EffectiveAspect(ratio types.AspectRatio, rotation types.Rotation) float64 {
	if rotation.Swaps() {
		return 1 / ratio.Value
	}
	return ratio.Value
}

// OutputSize is the logical size of the rendered output for a pixel crop
func OutputSize(crop types.PixelRegion, rotation types.Rotation) (float64, float64) {
	if rotation.Swaps() {
		return crop.Height, crop.Width
	}
	return crop.Width, crop.Height
}

// InitialCrop returns a centered rectangle covering FillRatio of the
// limiting dimension with the effective aspect for rotation.
func (e *Engine) InitialCrop(dims types.Dimensions, ratio types.AspectRatio, rotation types.Rotation) types.Region {
	if !dims.Valid() || ratio.Value <= 0 {
		return types.Region{}
	}

	imgW, imgH := float64(dims.Width), float64(dims.Height)
	aspect := EffectiveAspect(ratio, rotation)

	var w, h float64
	if imgW/imgH > aspect {
		// Image is wider than the target, height limits
		h = e.config.FillRatio * imgH
		w = h * aspect
	} else {
		w = e.config.FillRatio * imgW
		h = w / aspect
	}
	w, h = e.enforceMin(w, h, aspect, imgW, imgH)

	px := types.PixelRegion{
		X:      (imgW - w) / 2,
		Y:      (imgH - h) / 2,
		Width:  w,
		Height: h,
	}
	return px.ToPercent(dims)
}

// RecenterForChange recomputes the rectangle from the natural dimensions
// after a ratio or rotation change. The previous rectangle is not consulted.
func (e *Engine) RecenterForChange(dims types.Dimensions, ratio types.AspectRatio, rotation types.Rotation) types.Region {
	return e.InitialCrop(dims, ratio, rotation)
}

// ApplySuggestedRegion seeds a rectangle from an untrusted suggestion. The
// suggestion is clamped into the image, covered by the smallest rectangle
// with the effective aspect, shrunk to fit the image and centered on the
// suggestion's center.
func (e *Engine) ApplySuggestedRegion(dims types.Dimensions, suggested *types.SuggestedRegion, ratio types.AspectRatio, rotation types.Rotation) (types.Region, error) {
	if suggested == nil {
		return types.Region{}, fmt.Errorf("%w: no region suggested", types.ErrSuggestionUnavailable)
	}
	if !dims.Valid() || ratio.Value <= 0 {
		return types.Region{}, fmt.Errorf("%w: no image loaded", types.ErrSuggestionUnavailable)
	}
	if !suggested.Valid() {
		return types.Region{}, fmt.Errorf("%w: malformed region %+v", types.ErrSuggestionUnavailable, *suggested)
	}
	clamped := suggested.Clamp()
	if !clamped.Valid() {
		return types.Region{}, fmt.Errorf("%w: region %+v lies outside the image", types.ErrSuggestionUnavailable, *suggested)
	}

	imgW, imgH := float64(dims.Width), float64(dims.Height)
	aspect := EffectiveAspect(ratio, rotation)
	hint := clamped.Region().ToPixels(dims)

	w, h := hint.Width, hint.Height
	if w/h < aspect {
		w = h * aspect
	} else {
		h = w / aspect
	}
	w, h = fit(w, h, imgW, imgH)
	w, h = e.enforceMin(w, h, aspect, imgW, imgH)

	cx := hint.X + hint.Width/2
	cy := hint.Y + hint.Height/2

	px := types.PixelRegion{
		X:      clamp(cx-w/2, 0, imgW-w),
		Y:      clamp(cy-h/2, 0, imgH-h),
		Width:  w,
		Height: h,
	}
	return px.ToPercent(dims), nil
}

// Clamp enforces the region invariants on a rectangle produced by the
// interactive editor: origin inside the image, far edges inside the image
// and both edges at least MinSizePx when the image allows it.
func (e *Engine) Clamp(dims types.Dimensions, region types.Region) types.Region {
	if !dims.Valid() {
		return types.Region{}
	}
	imgW, imgH := float64(dims.Width), float64(dims.Height)
	px := region.ToPixels(dims)

	w := clamp(nanToZero(px.Width), math.Min(e.config.MinSizePx, imgW), imgW)
	h := clamp(nanToZero(px.Height), math.Min(e.config.MinSizePx, imgH), imgH)
	out := types.PixelRegion{
		X:      clamp(nanToZero(px.X), 0, imgW-w),
		Y:      clamp(nanToZero(px.Y), 0, imgH-h),
		Width:  w,
		Height: h,
	}
	return out.ToPercent(dims)
}

// enforceMin grows a rectangle with the given aspect to the minimum edge
// size, then fits it back into the image. The image bound wins.
func (e *Engine) enforceMin(w, h, aspect, imgW, imgH float64) (float64, float64) {
	floor := e.config.MinSizePx
	if w >= floor && h >= floor {
		return w, h
	}
	scale := math.Max(floor/w, floor/h)
	w, h = w*scale, h*scale
	return fit(w, h, imgW, imgH)
}

// fit shrinks (w, h) uniformly until it lies inside (maxW, maxH)
func fit(w, h, maxW, maxH float64) (float64, float64) {
	if w > maxW {
		h *= maxW / w
		w = maxW
	}
	if h > maxH {
		w *= maxH / h
		h = maxH
	}
	return w, h
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

func nanToZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

var defaultEngine = New()

// InitialCrop uses the default engine
func InitialCrop(dims types.Dimensions, ratio types.AspectRatio, rotation types.Rotation) types.Region {
	return defaultEngine.InitialCrop(dims, ratio, rotation)
}

// RecenterForChange uses the default engine
func RecenterForChange(dims types.Dimensions, ratio types.AspectRatio, rotation types.Rotation) types.Region {
	return defaultEngine.RecenterForChange(dims, ratio, rotation)
}

// ApplySuggestedRegion uses the default engine
func ApplySuggestedRegion(dims types.Dimensions, suggested *types.SuggestedRegion, ratio types.AspectRatio, rotation types.Rotation) (types.Region, error) {
	return defaultEngine.ApplySuggestedRegion(dims, suggested, ratio, rotation)
}
