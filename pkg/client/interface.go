package client

import (
	"context"

	"github.com/menta2k/aspect-cropper/pkg/types"
)

// Request carries everything a backend needs to suggest a crop region
type Request struct {
	Model    string
	Prompt   string
	ImageB64 string
	MIMEType string
	// Aspect is the target width/height in source pixels, 0 when unknown
	Aspect float64
}

// RegionClient suggests a region of interest as a percent rectangle.
// Implementations return types.ErrConfigMissing, types.ErrMalformedResponse
// or types.ErrTransport (wrapped) on failure.
type RegionClient interface {
	Name() string
	SuggestRegion(ctx context.Context, req Request) (*types.SuggestedRegion, error)
}
