// Package session holds the state of one cropping workflow: the loaded
// image, the selected ratio and rotation, the live and committed crop
// regions, the rendered output and a single message slot for errors.
//
// Every operation fully replaces the region before the next one can observe
// it. The smart-crop request is the only call that runs outside the session
// lock; a busy flag rejects a second request while one is outstanding.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/aspect-cropper/pkg/geometry"
	"github.com/menta2k/aspect-cropper/pkg/processing"
	"github.com/menta2k/aspect-cropper/pkg/render"
	"github.com/menta2k/aspect-cropper/pkg/sink"
	"github.com/menta2k/aspect-cropper/pkg/suggest"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

var (
	ErrNoImage = errors.New("no image loaded")
	ErrBusy    = errors.New("a smart crop suggestion is already in progress")
	// ErrStale is returned when the image changed while a suggestion was in
	// flight; the late result is dropped.
	ErrStale = errors.New("image changed while the suggestion was running")
)

// Options are shared by all sessions of a Store
type Options struct {
	Engine           *geometry.Engine
	Renderer         *render.Renderer
	Processor        *processing.Processor
	DefaultRatio     types.AspectRatio
	DevicePixelScale float64
}

func (o Options) withDefaults() Options {
	if o.Engine == nil {
		o.Engine = geometry.New()
	}
	if o.Renderer == nil {
		o.Renderer = render.New()
	}
	if o.Processor == nil {
		o.Processor = processing.NewProcessor()
	}
	if o.DefaultRatio.Value <= 0 {
		o.DefaultRatio = types.DefaultRatio
	}
	if o.DevicePixelScale <= 0 {
		o.DevicePixelScale = 1
	}
	return o
}

// Session is one cropping workflow
type Session struct {
	id   string
	opts Options

	// busy is held for the whole suggestion round trip, outside mu
	busy atomic.Bool

	mu         sync.Mutex
	status     *statusTracker
	message    string
	source     image.Image
	dims       types.Dimensions
	generation uint64
	ratio      types.AspectRatio
	rotation   types.Rotation
	live       types.Region
	committed  *types.Region
	suggested  *types.SuggestedRegion
	output     *render.Surface
	updatedAt  time.Time
}

// New creates an idle session
func New(opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		id:        uuid.NewString(),
		opts:      opts,
		status:    newStatusTracker(),
		ratio:     opts.DefaultRatio,
		updatedAt: time.Now(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Load decodes data and starts a new workflow on it. On failure the
// previous image is dropped and the error is in the message slot. Images
// smaller than the minimum crop edge are rejected.
func (s *Session) Load(ctx context.Context, data []byte) error {
	s.mu.Lock()
	s.clearLocked()
	s.status.send(evLoad)
	s.mu.Unlock()

	img, err := s.opts.Processor.Decode(data)
	if err == nil {
		err = processing.ValidateImage(img, s.minImageSize())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("session", s.id).Int("bytes", len(data)).Msg("upload rejected")
		s.failLocked(err)
		return err
	}
	s.loadLocked(img)
	log.Ctx(ctx).Info().Str("session", s.id).Int("width", s.dims.Width).Int("height", s.dims.Height).Msg("image loaded")
	return nil
}

// LoadImage starts a new workflow on an already decoded image
func (s *Session) LoadImage(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.status.send(evLoad)
	if err := processing.ValidateImage(img, s.minImageSize()); err != nil {
		s.failLocked(err)
		return err
	}
	s.loadLocked(img)
	return nil
}

func (s *Session) loadLocked(img image.Image) {
	s.source = img
	s.dims = processing.Dimensions(img)
	s.status.send(evLoaded)
	s.message = ""
	s.recenterLocked()
}

// minImageSize is the smallest image side that still fits a minimum crop
func (s *Session) minImageSize() int {
	return max(int(math.Ceil(s.opts.Engine.Config().MinSizePx)), 1)
}

// SetRatio selects a target ratio and recomputes the region from scratch
func (s *Session) SetRatio(ratio types.AspectRatio) error {
	if ratio.Value <= 0 {
		return fmt.Errorf("invalid aspect ratio %q", ratio.Label)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratio = ratio
	if s.source == nil {
		return nil
	}
	s.recenterLocked()
	return nil
}

// Rotate advances the rotation by 90 degrees and recomputes the region
func (s *Session) Rotate() types.Rotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRotationLocked(s.rotation.Next())
	return s.rotation
}

// SetRotation sets an absolute rotation and recomputes the region
func (s *Session) SetRotation(rotation types.Rotation) error {
	if _, err := types.NormalizeRotation(int(rotation)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRotationLocked(rotation)
	return nil
}

func (s *Session) setRotationLocked(rotation types.Rotation) {
	s.rotation = rotation
	if s.source != nil {
		s.recenterLocked()
	}
}

// recenterLocked replaces live and committed regions together and drops
// output that no longer matches them
func (s *Session) recenterLocked() {
	region := s.opts.Engine.RecenterForChange(s.dims, s.ratio, s.rotation)
	s.live = region
	committed := region
	s.committed = &committed
	s.suggested = nil
	s.invalidateLocked()
}

func (s *Session) invalidateLocked() {
	s.output = nil
	if s.status.is(StatusSuccess) {
		s.status.send(evInvalidate)
	}
	s.generation++
	s.updatedAt = time.Now()
}

// UpdateLive records the rectangle currently shown by the editor. It is
// clamped to the image and returned.
func (s *Session) UpdateLive(region types.Region) (types.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return types.Region{}, ErrNoImage
	}
	s.live = s.opts.Engine.Clamp(s.dims, region)
	s.updatedAt = time.Now()
	return s.live, nil
}

// Commit renders the live region into the output surface and, once that
// succeeded, makes it the committed region. A failed render keeps the
// previous committed region and output.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		s.failLocked(ErrNoImage)
		return ErrNoImage
	}

	s.status.send(evCommit)
	region := s.live

	surface := render.NewSurface()
	if err := s.opts.Renderer.Render(surface, s.source, region, s.rotation, s.opts.DevicePixelScale); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("session", s.id).Msg("render failed")
		s.failLocked(err)
		return err
	}
	if surface.Empty() {
		err := fmt.Errorf("%w: crop %s is empty", types.ErrRenderUnavailable, region)
		s.failLocked(err)
		return err
	}

	committed := region
	s.committed = &committed
	s.output = surface
	s.status.send(evRendered)
	s.message = ""
	s.updatedAt = time.Now()
	log.Ctx(ctx).Debug().Str("session", s.id).Stringer("region", region).
		Int("width", surface.Width).Int("height", surface.Height).Msg("crop committed")
	return nil
}

// Preview renders the live region without committing it
func (s *Session) Preview(devicePixelScale float64) (*render.Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return nil, ErrNoImage
	}
	if devicePixelScale <= 0 {
		devicePixelScale = s.opts.DevicePixelScale
	}
	surface := render.NewSurface()
	if err := s.opts.Renderer.Render(surface, s.source, s.live, s.rotation, devicePixelScale); err != nil {
		return nil, err
	}
	return surface, nil
}

// Output returns the committed rendering, nil before the first Commit
func (s *Session) Output() *render.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// RequestSuggestion asks sg for a region of interest and applies it. The
// call runs without holding the session lock. While it is outstanding
// further requests fail with ErrBusy. On failure the previous region is kept
// and the message slot explains why.
func (s *Session) RequestSuggestion(ctx context.Context, sg *suggest.Suggester) (types.Region, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return types.Region{}, ErrBusy
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	if s.source == nil {
		s.mu.Unlock()
		return types.Region{}, ErrNoImage
	}
	img, ratio, rotation, gen := s.source, s.ratio, s.rotation, s.generation
	s.mu.Unlock()

	logger := log.Ctx(ctx).With().Str("session", s.id).Str("backend", sg.Backend()).Logger()
	start := time.Now()
	suggested, err := sg.Suggest(ctx, img, ratio, rotation)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		logger.Warn().Err(err).Dur("took", time.Since(start)).Msg("smart crop unavailable")
		s.failLocked(err)
		return s.live, err
	}

	// A ratio or rotation change only replaced the region; the suggestion
	// still describes the same image and is applied with the current ones.
	if s.source != img {
		logger.Info().Uint64("generation", gen).Msg("dropping suggestion for a replaced image")
		return s.live, ErrStale
	}

	region, err := s.applyLocked(suggested)
	if err != nil {
		return s.live, err
	}
	logger.Info().Str("label", suggested.Label).Stringer("region", region).Dur("took", time.Since(start)).Msg("smart crop applied")
	return region, nil
}

// ApplySuggestion seeds the region from a suggestion obtained elsewhere,
// for example one shared by several sessions on the same image
func (s *Session) ApplySuggestion(suggested *types.SuggestedRegion) (types.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return types.Region{}, ErrNoImage
	}
	return s.applyLocked(suggested)
}

func (s *Session) applyLocked(suggested *types.SuggestedRegion) (types.Region, error) {
	region, err := s.opts.Engine.ApplySuggestedRegion(s.dims, suggested, s.ratio, s.rotation)
	if err != nil {
		s.failLocked(err)
		return s.live, err
	}

	s.live = region
	committed := region
	s.committed = &committed
	sg := *suggested
	s.suggested = &sg
	s.invalidateLocked()
	if s.status.is(StatusError) {
		s.status.send(evReset)
	}
	s.message = ""
	return region, nil
}

// Suggesting reports whether a suggestion is outstanding
func (s *Session) Suggesting() bool {
	return s.busy.Load()
}

// Export is an encoded crop ready for a sink
type Export struct {
	Data     []byte
	MIMEType string
	Filename string
	Width    int
	Height   int
}

// Export encodes the committed output, committing the live region first
// when nothing has been rendered yet. quality 0 means the default.
func (s *Session) Export(ctx context.Context, format types.Format, quality float64) (*Export, error) {
	s.mu.Lock()
	needsCommit := s.output == nil
	s.mu.Unlock()
	if needsCommit {
		if err := s.Commit(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output == nil {
		// raced with a ratio change
		return nil, fmt.Errorf("%w: output was invalidated", types.ErrRenderUnavailable)
	}

	data, err := s.opts.Processor.EncodeBytes(s.output.Image, format, quality)
	if err != nil {
		s.failLocked(err)
		return nil, err
	}
	return &Export{
		Data:     data,
		MIMEType: format.MIMEType(),
		Filename: sink.Filename(s.ratio, format),
		Width:    s.output.Image.Bounds().Dx(),
		Height:   s.output.Image.Bounds().Dy(),
	}, nil
}

// Deliver exports and hands the bytes to out. A failed delivery is
// recorded in the message slot but leaves the output in place so another
// sink can still be used.
func (s *Session) Deliver(ctx context.Context, out sink.Sink, format types.Format, quality float64) (string, error) {
	exp, err := s.Export(ctx, format, quality)
	if err != nil {
		return "", err
	}
	where, err := out.Write(ctx, exp.Filename, exp.MIMEType, exp.Data)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("session", s.id).Msg("delivery failed")
		s.mu.Lock()
		s.message = err.Error()
		s.mu.Unlock()
		return "", err
	}
	log.Ctx(ctx).Info().Str("session", s.id).Str("to", where).Int("bytes", len(exp.Data)).Msg("crop delivered")
	return where, nil
}

// Reset drops the image and returns to idle, keeping ratio and rotation
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.status.send(evReset)
	s.message = ""
}

func (s *Session) clearLocked() {
	s.source = nil
	s.dims = types.Dimensions{}
	s.live = types.Region{}
	s.committed = nil
	s.suggested = nil
	s.output = nil
	s.generation++
	s.updatedAt = time.Now()
}

func (s *Session) failLocked(err error) {
	s.status.send(evFail)
	var serr *suggest.Error
	if errors.As(err, &serr) {
		s.message = serr.Message
	} else {
		s.message = err.Error()
	}
	s.updatedAt = time.Now()
}

// Image returns the loaded source image
func (s *Session) Image() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// UpdatedAt is the time of the last state change
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}
