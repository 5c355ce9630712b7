// Package render rasterizes a crop region, with rotation and device pixel
// scaling, into an output surface.
package render

import (
	"fmt"
	"image"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/menta2k/aspect-cropper/pkg/geometry"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

const (
	// MaxDevicePixelScale bounds the device pixel scale a caller may request
	MaxDevicePixelScale = 8.0
	// MaxSurfacePixels bounds the physical size of a rendered surface
	MaxSurfacePixels = 1 << 27
)

// ValidateScale rejects device pixel scales that are not finite or exceed
// MaxDevicePixelScale. Zero and negative values mean the default of 1.
func ValidateScale(devicePixelScale float64) error {
	if math.IsNaN(devicePixelScale) || math.IsInf(devicePixelScale, 0) || devicePixelScale > MaxDevicePixelScale {
		return fmt.Errorf("%w: device pixel scale %v outside (0, %v]", types.ErrRenderUnavailable, devicePixelScale, MaxDevicePixelScale)
	}
	return nil
}

// Surface is the output pixel buffer. Width and Height are logical pixels;
// Image is Scale times larger on each axis.
type Surface struct {
	Image    *image.NRGBA
	Width    int
	Height   int
	Scale    float64
	Crop     types.PixelRegion
	Rotation types.Rotation
}

// NewSurface returns an empty surface ready to be rendered into
func NewSurface() *Surface {
	return &Surface{Image: image.NewNRGBA(image.Rect(0, 0, 0, 0)), Scale: 1}
}

// Empty reports whether nothing has been rendered yet
func (s *Surface) Empty() bool {
	return s == nil || s.Image == nil || s.Image.Bounds().Empty()
}

// Renderer draws crops with a configurable interpolator
type Renderer struct {
	interp draw.Interpolator
}

// New creates a Renderer using Catmull-Rom resampling
func New() *Renderer {
	return &Renderer{interp: draw.CatmullRom}
}

// NewWithInterpolator creates a Renderer with the named interpolator
// (nearest, approxbilinear, bilinear, catmullrom)
func NewWithInterpolator(name string) (*Renderer, error) {
	interp, err := ParseInterpolator(name)
	if err != nil {
		return nil, err
	}
	return &Renderer{interp: interp}, nil
}

// ParseInterpolator maps a config name onto an x/image/draw interpolator
func ParseInterpolator(name string) (draw.Interpolator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "catmullrom":
		return draw.CatmullRom, nil
	case "bilinear":
		return draw.BiLinear, nil
	case "approxbilinear":
		return draw.ApproxBiLinear, nil
	case "nearest", "nearestneighbor":
		return draw.NearestNeighbor, nil
	}
	return nil, fmt.Errorf("unknown interpolator %q", name)
}

// Render draws region of src into surface assuming src is displayed at its
// natural size.
func (r *Renderer) Render(surface *Surface, src image.Image, region types.Region, rotation types.Rotation, devicePixelScale float64) error {
	if src == nil {
		return fmt.Errorf("%w: no source image", types.ErrRenderUnavailable)
	}
	b := src.Bounds()
	return r.RenderDisplayed(surface, src, types.Dimensions{Width: b.Dx(), Height: b.Dy()}, region, rotation, devicePixelScale)
}

// RenderDisplayed draws region of src into surface. The region is relative
// to the image as displayed at displayed size, which may differ from the
// natural size of src.
//
// A degenerate crop is a no-op and leaves the surface untouched.
func (r *Renderer) RenderDisplayed(surface *Surface, src image.Image, displayed types.Dimensions, region types.Region, rotation types.Rotation, devicePixelScale float64) error {
	if surface == nil {
		return types.ErrRenderUnavailable
	}
	if src == nil {
		return fmt.Errorf("%w: no source image", types.ErrRenderUnavailable)
	}
	if !displayed.Valid() {
		return fmt.Errorf("%w: invalid display size %dx%d", types.ErrRenderUnavailable, displayed.Width, displayed.Height)
	}
	if err := ValidateScale(devicePixelScale); err != nil {
		return err
	}
	if devicePixelScale <= 0 {
		devicePixelScale = 1
	}

	bounds := src.Bounds()
	scaleX := float64(bounds.Dx()) / float64(displayed.Width)
	scaleY := float64(bounds.Dy()) / float64(displayed.Height)

	shown := region.ToPixels(displayed)
	crop := types.PixelRegion{
		X:      shown.X * scaleX,
		Y:      shown.Y * scaleY,
		Width:  shown.Width * scaleX,
		Height: shown.Height * scaleY,
	}
	if !(crop.Width > 0) || !(crop.Height > 0) {
		return nil
	}

	outW, outH := geometry.OutputSize(crop, rotation)
	physW := int(math.Round(outW * devicePixelScale))
	physH := int(math.Round(outH * devicePixelScale))
	if physW <= 0 || physH <= 0 {
		return nil
	}
	if float64(physW)*float64(physH) > MaxSurfacePixels {
		return fmt.Errorf("%w: %dx%d output exceeds %d pixels", types.ErrRenderUnavailable, physW, physH, MaxSurfacePixels)
	}

	sr := image.Rect(
		bounds.Min.X+int(math.Floor(crop.X)),
		bounds.Min.Y+int(math.Floor(crop.Y)),
		bounds.Min.X+int(math.Ceil(crop.X+crop.Width)),
		bounds.Min.Y+int(math.Ceil(crop.Y+crop.Height)),
	).Intersect(bounds)
	if sr.Empty() {
		return nil
	}

	// Scale for the device, move to the output center, rotate, move back by
	// half the unrotated crop, then place the crop's top-left at the origin.
	s2d := compose(
		scale(devicePixelScale),
		translate(outW/2, outH/2),
		rotate(rotation.Radians()),
		translate(-crop.Width/2, -crop.Height/2),
		translate(-(float64(bounds.Min.X) + crop.X), -(float64(bounds.Min.Y) + crop.Y)),
	)

	dst := image.NewNRGBA(image.Rect(0, 0, physW, physH))
	r.interp.Transform(dst, s2d, src, sr, draw.Src, nil)

	surface.Image = dst
	surface.Width = int(math.Round(outW))
	surface.Height = int(math.Round(outH))
	surface.Scale = devicePixelScale
	surface.Crop = crop
	surface.Rotation = rotation
	return nil
}

var defaultRenderer = New()

// Render uses a Catmull-Rom renderer
func Render(surface *Surface, src image.Image, region types.Region, rotation types.Rotation, devicePixelScale float64) error {
	return defaultRenderer.Render(surface, src, region, rotation, devicePixelScale)
}

func identity() f64.Aff3 {
	return f64.Aff3{1, 0, 0, 0, 1, 0}
}

func translate(tx, ty float64) f64.Aff3 {
	return f64.Aff3{1, 0, tx, 0, 1, ty}
}

func scale(s float64) f64.Aff3 {
	return f64.Aff3{s, 0, 0, 0, s, 0}
}

// rotate is clockwise on a y-down raster
func rotate(rad float64) f64.Aff3 {
	cos, sin := math.Cos(rad), math.Sin(rad)
	// Snap right angles so 90 degree turns map pixels exactly
	cos, sin = snap(cos), snap(sin)
	return f64.Aff3{cos, -sin, 0, sin, cos, 0}
}

// multiply returns m*n, which applies n first
func multiply(m, n f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		m[0]*n[0] + m[1]*n[3],
		m[0]*n[1] + m[1]*n[4],
		m[0]*n[2] + m[1]*n[5] + m[2],
		m[3]*n[0] + m[4]*n[3],
		m[3]*n[1] + m[4]*n[4],
		m[3]*n[2] + m[4]*n[5] + m[5],
	}
}

// compose multiplies left to right, so the last transform applies first
func compose(ts ...f64.Aff3) f64.Aff3 {
	out := identity()
	for _, t := range ts {
		out = multiply(out, t)
	}
	return out
}

func snap(v float64) float64 {
	r := math.Round(v)
	if math.Abs(v-r) < 1e-12 {
		return r
	}
	return v
}
