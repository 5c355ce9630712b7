package saliency

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/aspect-cropper/pkg/types"
)

// Method selects how the salient region is found
type Method string

const (
	// MethodSmartcrop scores candidate crops by edges, skin tones and
	// saturation
	MethodSmartcrop Method = "smartcrop"
	// MethodEdges slides the largest window of the target aspect over a
	// local contrast map and keeps the position with the most energy
	MethodEdges Method = "edges"
)

// ParseMethod maps a backend model name onto a Method; empty means smartcrop
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodSmartcrop:
		return MethodSmartcrop, nil
	case MethodEdges:
		return MethodEdges, nil
	}
	return "", fmt.Errorf("%w: unknown saliency method %q", types.ErrConfigMissing, s)
}

// EdgeConfig weights the two terms of the contrast map
type EdgeConfig struct {
	// AnalysisSize bounds the longer side of the image the map is built on
	AnalysisSize     int
	EdgeWeight       float64
	BrightnessWeight float64
}

func DefaultEdgeConfig() EdgeConfig {
	return EdgeConfig{
		AnalysisSize:     256,
		EdgeWeight:       0.8,
		BrightnessWeight: 0.2,
	}
}

// energyMap is a summed-area table of per-pixel saliency
type energyMap struct {
	w, h int
	sat  []float64 // (w+1)*(h+1)
}

func (m *energyMap) sum(x, y, w, h int) float64 {
	stride := m.w + 1
	x1, y1 := x+w, y+h
	return m.sat[y1*stride+x1] - m.sat[y*stride+x1] - m.sat[y1*stride+x] + m.sat[y*stride+x]
}

// buildEnergyMap scores each pixel by its mean absolute luminance
// difference to the 8 neighbours plus a small brightness term
func buildEnergyMap(img image.Image, cfg EdgeConfig) *energyMap {
	small := imaging.Grayscale(imaging.Fit(img, cfg.AnalysisSize, cfg.AnalysisSize, imaging.Box))
	w, h := small.Bounds().Dx(), small.Bounds().Dy()
	lum := func(x, y int) float64 {
		return float64(small.Pix[y*small.Stride+x*4]) / 255
	}

	m := &energyMap{w: w, h: h, sat: make([]float64, (w+1)*(h+1))}
	stride := w + 1
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			var v float64
			if x > 0 && y > 0 && x < w-1 && y < h-1 {
				c := lum(x, y)
				var edge float64
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx != 0 || dy != 0 {
							edge += math.Abs(c - lum(x+dx, y+dy))
						}
					}
				}
				v = cfg.EdgeWeight*edge/8 + cfg.BrightnessWeight*c
			}
			row += v
			m.sat[(y+1)*stride+x+1] = m.sat[y*stride+x+1] + row
		}
	}
	return m
}

// findEdgeRegion returns the largest window of the given aspect with the
// highest total energy. Ties keep the centered window.
func findEdgeRegion(ctx context.Context, img image.Image, aspect float64, cfg EdgeConfig) (*types.SuggestedRegion, error) {
	m := buildEnergyMap(img, cfg)
	if m.w < 1 || m.h < 1 {
		return nil, fmt.Errorf("%w: empty image", types.ErrDecodeFailure)
	}

	winW, winH := m.w, int(math.Round(float64(m.w)/aspect))
	if winH > m.h {
		winW, winH = int(math.Round(float64(m.h)*aspect)), m.h
	}
	winW = min(max(winW, 1), m.w)
	winH = min(max(winH, 1), m.h)

	bestX, bestY := (m.w-winW)/2, (m.h-winH)/2
	best := m.sum(bestX, bestY, winW, winH)
	for y := 0; y <= m.h-winH; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x <= m.w-winW; x++ {
			if s := m.sum(x, y, winW, winH); s > best+1e-9 {
				best, bestX, bestY = s, x, y
			}
		}
	}

	fw, fh := float64(m.w), float64(m.h)
	return &types.SuggestedRegion{
		X:      float64(bestX) / fw * 100,
		Y:      float64(bestY) / fh * 100,
		Width:  float64(winW) / fw * 100,
		Height: float64(winH) / fh * 100,
		Label:  "high contrast region",
	}, nil
}
