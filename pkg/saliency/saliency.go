// Package saliency suggests crop regions offline, for use without a vision
// model. Two methods are available: smartcrop's edge, skin and saturation
// scoring, and a plain local contrast map.
package saliency

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"

	"github.com/menta2k/aspect-cropper/pkg/client"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

// aspectBase is the integer height handed to smartcrop; the width is
// derived from the requested aspect
const aspectBase = 1000

// Client implements client.RegionClient without a model server
type Client struct {
	method    Method
	resampler imaging.ResampleFilter
	edges     EdgeConfig
}

// NewClient uses MethodSmartcrop
func NewClient() *Client {
	return NewClientWithMethod(MethodSmartcrop)
}

func NewClientWithMethod(method Method) *Client {
	return &Client{
		method:    method,
		resampler: imaging.Linear,
		edges:     DefaultEdgeConfig(),
	}
}

func (c *Client) Method() Method {
	return c.method
}

func (c *Client) Name() string {
	return "saliency"
}

// SuggestRegion ignores Prompt and Model. Aspect picks the crop shape; zero
// means the image's own aspect.
func (c *Client) SuggestRegion(ctx context.Context, req client.Request) (*types.SuggestedRegion, error) {
	data, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64 image: %v", types.ErrMalformedResponse, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDecodeFailure, err)
	}
	return c.FindRegion(ctx, img, req.Aspect)
}

// FindRegion returns the best crop of img with the given width/height aspect
// as a percent region
func (c *Client) FindRegion(ctx context.Context, img image.Image, aspect float64) (*types.SuggestedRegion, error) {
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image", types.ErrDecodeFailure)
	}
	if aspect <= 0 || math.IsNaN(aspect) || math.IsInf(aspect, 0) {
		aspect = float64(bounds.Dx()) / float64(bounds.Dy())
	}

	if c.method == MethodEdges {
		return findEdgeRegion(ctx, img, aspect, c.edges)
	}
	return c.findSmartcrop(ctx, img, aspect)
}

func (c *Client) findSmartcrop(ctx context.Context, img image.Image, aspect float64) (*types.SuggestedRegion, error) {
	bounds := img.Bounds()
	analyzer := smartcrop.NewAnalyzer(&resizer{resampler: c.resampler})

	// FindBestCrop cannot be interrupted, so race it against ctx
	type cropResult struct {
		crop image.Rectangle
		err  error
	}
	resultChan := make(chan cropResult, 1)

	go func() {
		width := int(math.Round(aspectBase * aspect))
		topCrop, err := analyzer.FindBestCrop(img, max(width, 1), aspectBase)
		resultChan <- cropResult{crop: topCrop, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			return nil, fmt.Errorf("finding best crop: %w", result.err)
		}
		crop := result.crop.Intersect(bounds)
		if crop.Empty() {
			return nil, fmt.Errorf("%w: empty crop", types.ErrMalformedResponse)
		}

		w, h := float64(bounds.Dx()), float64(bounds.Dy())
		return &types.SuggestedRegion{
			X:      float64(crop.Min.X-bounds.Min.X) / w * 100,
			Y:      float64(crop.Min.Y-bounds.Min.Y) / h * 100,
			Width:  float64(crop.Dx()) / w * 100,
			Height: float64(crop.Dy()) / h * 100,
			Label:  "salient region",
		}, nil
	}
}

// resizer implements the smartcrop.Resizer interface with imaging
type resizer struct {
	resampler imaging.ResampleFilter
}

func (r *resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.resampler)
}
