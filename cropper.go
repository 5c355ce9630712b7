// Package aspectcropper crops images to fixed aspect ratios, with optional
// rotation and a smart-crop suggestion from a vision model or an offline
// saliency detector.
//
// Basic usage:
//
//	c, err := aspectcropper.NewWithConfig(config.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	results, err := c.ProcessFile(ctx, "photo.jpg", []aspectcropper.Job{
//		{Ratio: types.Widescreen, Format: types.FormatWebP},
//		{Ratio: types.Square, Rotation: types.Rotate90, Smart: true},
//	})
//
// The package ties together:
//
//  1. Geometry (pkg/geometry): initial, recentered and suggestion-seeded crop regions
//  2. Render (pkg/render): rotation-aware rasterization of a region
//  3. Processing (pkg/processing): decoding and webp/jpeg/png encoding
//  4. Suggest (pkg/suggest): smart-crop backends behind one error model
//  5. Session (pkg/session): the interactive idle/loading/success/error workflow
package aspectcropper

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/aspect-cropper/internal/config"
	"github.com/menta2k/aspect-cropper/pkg/client"
	"github.com/menta2k/aspect-cropper/pkg/gemini"
	"github.com/menta2k/aspect-cropper/pkg/geometry"
	"github.com/menta2k/aspect-cropper/pkg/llamacpp"
	"github.com/menta2k/aspect-cropper/pkg/ollama"
	"github.com/menta2k/aspect-cropper/pkg/processing"
	"github.com/menta2k/aspect-cropper/pkg/render"
	"github.com/menta2k/aspect-cropper/pkg/saliency"
	"github.com/menta2k/aspect-cropper/pkg/session"
	"github.com/menta2k/aspect-cropper/pkg/sink"
	"github.com/menta2k/aspect-cropper/pkg/suggest"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

// Version of the aspect cropper library
const Version = "1.0.0"

// Cropper provides a high-level interface over sessions for batch use
type Cropper struct {
	sessionOpts session.Options
	suggester   *suggest.Suggester
	processor   *processing.Processor
	format      types.Format
	quality     float64
}

// New creates a Cropper with default geometry and rendering and no
// suggestion backend
func New() *Cropper {
	opts := session.Options{
		Engine:    geometry.New(),
		Renderer:  render.New(),
		Processor: processing.NewProcessor(),
	}
	return &Cropper{
		sessionOpts: opts,
		suggester:   suggest.New(nil, suggest.Options{}),
		processor:   opts.Processor,
		format:      types.FormatWebP,
		quality:     types.DefaultQuality,
	}
}

// NewWithConfig creates a Cropper from a validated configuration
func NewWithConfig(cfg *config.Config) (*Cropper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ratio, _ := types.ParseAspectRatio(cfg.Crop.DefaultRatio)
	renderer, err := render.NewWithInterpolator(cfg.Render.Interpolator)
	if err != nil {
		return nil, err
	}
	format, _ := types.ParseFormat(cfg.Output.Format)

	backend, err := NewBackend(cfg.Suggestion)
	if err != nil {
		return nil, err
	}

	processor := processing.NewProcessor()
	return &Cropper{
		sessionOpts: session.Options{
			Engine:           geometry.NewWithConfig(geometry.Config{FillRatio: cfg.Crop.FillRatio, MinSizePx: cfg.Crop.MinSize}),
			Renderer:         renderer,
			Processor:        processor,
			DefaultRatio:     ratio,
			DevicePixelScale: cfg.Render.DevicePixelScale,
		},
		suggester: suggest.New(backend, suggest.Options{
			Model:       cfg.Suggestion.Model,
			Prompt:      cfg.Suggestion.Prompt,
			SendFormat:  cfg.Suggestion.SendFormat,
			MaxDim:      cfg.Suggestion.SendMaxDim,
			SendQuality: cfg.Suggestion.SendQuality,
		}),
		processor: processor,
		format:    format,
		quality:   cfg.Output.Quality,
	}, nil
}

// NewBackend builds the region client named by cfg.Backend. "none" and ""
// return a nil client, which makes suggestions fail with a configuration
// error.
func NewBackend(cfg config.SuggestionConfig) (client.RegionClient, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "gemini":
		return gemini.NewClient(gemini.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.URL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case "ollama":
		c, err := ollama.NewClient(cfg.URL, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("ollama backend: %w", err)
		}
		return c, nil
	case "llamacpp":
		return llamacpp.NewClient(cfg.URL, cfg.Model, cfg.APIKey), nil
	case "saliency":
		method, err := saliency.ParseMethod(cfg.Model)
		if err != nil {
			return nil, err
		}
		return saliency.NewClientWithMethod(method), nil
	}
	return nil, fmt.Errorf("unknown suggestion backend %q", cfg.Backend)
}

// SessionOptions are the options sessions created for this Cropper use
func (c *Cropper) SessionOptions() session.Options {
	return c.sessionOpts
}

// Suggester is the configured smart-crop suggester
func (c *Cropper) Suggester() *suggest.Suggester {
	return c.suggester
}

// NewStore creates a session store sharing this Cropper's settings
func (c *Cropper) NewStore() *session.Store {
	return session.NewStore(c.sessionOpts)
}

// Job describes one output of a batch crop. Zero Format and Quality use the
// configured output defaults.
type Job struct {
	Ratio    types.AspectRatio
	Rotation types.Rotation
	Smart    bool
	Format   types.Format
	Quality  float64
}

// Result is the outcome of one Job
type Result struct {
	Job       Job
	Region    types.Region
	Suggested *types.SuggestedRegion
	Export    *session.Export
	// Warning is set when a smart crop was requested but unavailable and
	// the centered crop was used instead
	Warning string
}

// CropImage runs jobs against img concurrently. A smart-crop suggestion is
// requested at most once and shared by all smart jobs; when it fails those
// jobs fall back to the centered crop.
func (c *Cropper) CropImage(ctx context.Context, img image.Image, jobs []Job) ([]Result, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image", types.ErrDecodeFailure)
	}

	var suggested *types.SuggestedRegion
	var warning string
	for _, job := range jobs {
		if !job.Smart {
			continue
		}
		var err error
		suggested, err = c.suggester.Suggest(ctx, img, job.Ratio, job.Rotation)
		if err != nil {
			var serr *suggest.Error
			if errors.As(err, &serr) {
				warning = serr.Message
			} else {
				warning = err.Error()
			}
			log.Ctx(ctx).Warn().Err(err).Str("backend", c.suggester.Backend()).Msg("smart crop unavailable, using centered crop")
		}
		break
	}

	results := make([]Result, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, job := range jobs {
		g.Go(func() error {
			res, err := c.runJob(ctx, img, job, suggested)
			if err != nil {
				return fmt.Errorf("%s: %w", job.Ratio.Label, err)
			}
			if job.Smart && suggested == nil {
				res.Warning = warning
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Cropper) runJob(ctx context.Context, img image.Image, job Job, suggested *types.SuggestedRegion) (Result, error) {
	if job.Format == "" {
		job.Format = c.format
	}
	if job.Quality == 0 {
		job.Quality = c.quality
	}

	s := session.New(c.sessionOpts)
	if err := s.LoadImage(img); err != nil {
		return Result{}, err
	}
	if err := s.SetRatio(job.Ratio); err != nil {
		return Result{}, err
	}
	if err := s.SetRotation(job.Rotation); err != nil {
		return Result{}, err
	}
	if job.Smart && suggested != nil {
		if _, err := s.ApplySuggestion(suggested); err != nil {
			return Result{}, err
		}
	}

	exp, err := s.Export(ctx, job.Format, job.Quality)
	if err != nil {
		return Result{}, err
	}

	snap := s.Snapshot()
	res := Result{Job: job, Export: exp, Suggested: snap.Suggested}
	if snap.Committed != nil {
		res.Region = *snap.Committed
	}
	return res, nil
}

// ProcessFile loads a file or URL and runs jobs on it
func (c *Cropper) ProcessFile(ctx context.Context, source string, jobs []Job) ([]Result, error) {
	img, _, err := c.processor.LoadImageSmart(source)
	if err != nil {
		return nil, err
	}
	return c.CropImage(ctx, img, jobs)
}

// WriteResults hands every export to out and returns where each one went
func WriteResults(ctx context.Context, out sink.Sink, results []Result, name func(Result) string) ([]string, error) {
	written := make([]string, 0, len(results))
	for _, r := range results {
		if r.Export == nil {
			continue
		}
		filename := r.Export.Filename
		if name != nil {
			filename = name(r)
		}
		where, err := out.Write(ctx, filename, r.Export.MIMEType, r.Export.Data)
		if err != nil {
			return written, err
		}
		written = append(written, where)
	}
	return written, nil
}

// DebugOverlay draws the suggestion and the chosen region of r onto img
func (c *Cropper) DebugOverlay(img image.Image, r Result) image.Image {
	return c.processor.CreateDebugOverlay(img, r.Suggested, r.Region)
}
