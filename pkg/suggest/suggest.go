// Package suggest turns a region backend into the smart-crop suggestion used
// by sessions: it prepares the image, asks the backend, and normalises both
// the answer and every failure.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/aspect-cropper/pkg/client"
	"github.com/menta2k/aspect-cropper/pkg/geometry"
	"github.com/menta2k/aspect-cropper/pkg/processing"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

// DefaultPrompt asks for a percent box around the main subject
const DefaultPrompt = `You are an image subject locator for a cropping tool.

Return JSON only:
{"x": 0.0, "y": 0.0, "width": 0.0, "height": 0.0, "label": "string"}

HARD RULES
- x, y, width and height are PERCENTAGES of the image width/height (0-100), NOT pixels.
- x,y is the top-left corner of the box.
- The box should tightly include the visually dominant subject (prefer people/vehicles/animals; else the most central salient object).
- label is one or two lowercase words naming the subject.
- If no subject is found, return {"x": 25, "y": 25, "width": 50, "height": 50, "label": "none"}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Options configure how images are sent to the backend
type Options struct {
	Model  string
	Prompt string
	// SendFormat is "jpeg" or "png"
	SendFormat  string
	MaxDim      int
	SendQuality int
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		Prompt:      DefaultPrompt,
		SendFormat:  "jpeg",
		MaxDim:      1024,
		SendQuality: 85,
	}
}

// Suggester produces clamped suggestions from a RegionClient
type Suggester struct {
	client    client.RegionClient
	processor *processing.Processor
	opts      Options
}

// New creates a suggester. A nil client is allowed and makes every call fail
// with a configuration error.
func New(c client.RegionClient, opts Options) *Suggester {
	def := DefaultOptions()
	if opts.Prompt == "" {
		opts.Prompt = def.Prompt
	}
	if opts.SendFormat == "" {
		opts.SendFormat = def.SendFormat
	}
	if opts.MaxDim <= 0 {
		opts.MaxDim = def.MaxDim
	}
	if opts.SendQuality <= 0 || opts.SendQuality > 100 {
		opts.SendQuality = def.SendQuality
	}
	return &Suggester{client: c, processor: processing.NewProcessor(), opts: opts}
}

// Backend names the configured backend, or "none"
func (s *Suggester) Backend() string {
	if s == nil || s.client == nil {
		return "none"
	}
	return s.client.Name()
}

// Suggest asks the backend for the region of interest in img. The result is
// clamped into the image. Any failure is returned as *Error.
func (s *Suggester) Suggest(ctx context.Context, img image.Image, ratio types.AspectRatio, rotation types.Rotation) (*types.SuggestedRegion, error) {
	backend := s.Backend()
	if s == nil || s.client == nil {
		return nil, newError(backend, types.ErrConfigMissing)
	}
	if img == nil {
		return nil, newError(backend, fmt.Errorf("%w: no image loaded", types.ErrConfigMissing))
	}

	imgB64, mime, err := s.processor.PrepareImageForModel(img, s.opts.SendFormat, s.opts.MaxDim, s.opts.SendQuality)
	if err != nil {
		return nil, newError(backend, fmt.Errorf("%w: failed to encode image: %v", types.ErrTransport, err))
	}

	region, err := s.client.SuggestRegion(ctx, client.Request{
		Model:    s.opts.Model,
		Prompt:   s.opts.Prompt,
		ImageB64: imgB64,
		MIMEType: mime,
		Aspect:   geometry.EffectiveAspect(ratio, rotation),
	})
	if err != nil {
		return nil, newError(backend, err)
	}
	if region == nil {
		return nil, newError(backend, fmt.Errorf("%w: empty suggestion", types.ErrMalformedResponse))
	}

	clamped := region.Clamp()
	if !clamped.Valid() {
		return nil, newError(backend, fmt.Errorf("%w: suggestion %.1f,%.1f %.1fx%.1f has no area inside the image",
			types.ErrMalformedResponse, region.X, region.Y, region.Width, region.Height))
	}
	return &clamped, nil
}

// Error is a failed suggestion. It matches types.ErrSuggestionUnavailable
// for control flow and keeps the reason and message for display.
type Error struct {
	Backend string
	// Reason is one of types.ErrConfigMissing, types.ErrMalformedResponse,
	// types.ErrTransport or context.Canceled/DeadlineExceeded
	Reason  error
	Message string
	Err     error
}

func newError(backend string, err error) *Error {
	e := &Error{Backend: backend, Err: err, Reason: types.ErrTransport}
	for _, reason := range []error{
		types.ErrConfigMissing,
		types.ErrMalformedResponse,
		types.ErrTransport,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, reason) {
			e.Reason = reason
			break
		}
	}

	switch {
	case errors.Is(e.Reason, types.ErrConfigMissing):
		e.Message = "Smart crop is not configured: " + detail(err, types.ErrConfigMissing)
	case errors.Is(e.Reason, types.ErrMalformedResponse):
		e.Message = "Smart crop returned an unusable answer, adjust the crop manually"
	case errors.Is(e.Reason, context.DeadlineExceeded):
		e.Message = "Smart crop timed out"
	default:
		e.Message = "Smart crop request failed: " + detail(err, types.ErrTransport)
	}
	return e
}

// detail strips the sentinel prefix so messages do not repeat it
func detail(err error, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error())
	msg = strings.TrimLeft(msg, ": ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", types.ErrSuggestionUnavailable, e.Backend, e.Err)
}

func (e *Error) Is(target error) bool {
	return target == types.ErrSuggestionUnavailable
}

func (e *Error) Unwrap() error {
	return e.Err
}
