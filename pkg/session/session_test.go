package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/aspect-cropper/pkg/client"
	"github.com/menta2k/aspect-cropper/pkg/suggest"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func assertRegion(t *testing.T, want, got types.Region) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-6, "x")
	assert.InDelta(t, want.Y, got.Y, 1e-6, "y")
	assert.InDelta(t, want.Width, got.Width, 1e-6, "width")
	assert.InDelta(t, want.Height, got.Height, 1e-6, "height")
}

type fakeClient struct {
	region  *types.SuggestedRegion
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) SuggestRegion(ctx context.Context, req client.Request) (*types.SuggestedRegion, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.region, f.err
}

func loaded(t *testing.T) *Session {
	t.Helper()
	s := New(Options{})
	require.NoError(t, s.Load(context.Background(), pngBytes(t, testImage(1000, 500))))
	return s
}

func TestNewSessionIsIdle(t *testing.T) {
	s := New(Options{})
	snap := s.Snapshot()
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, "16:9", snap.Ratio)
	assert.False(t, snap.Loaded)
	assert.Nil(t, snap.Committed)
}

func TestLoad(t *testing.T) {
	s := loaded(t)
	snap := s.Snapshot()

	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, types.Dimensions{Width: 1000, Height: 500}, snap.Image)
	assertRegion(t, types.Region{X: 10, Y: 5, Width: 80, Height: 90}, snap.Crop)
	require.NotNil(t, snap.Committed)
	assert.Equal(t, snap.Crop, *snap.Committed)
	assert.InDelta(t, 800, snap.CropPixels.Width, 1e-9)
}

func TestLoadRejectsNonImage(t *testing.T) {
	s := loaded(t)

	err := s.Load(context.Background(), []byte("%PDF-1.7 not an image"))
	assert.True(t, errors.Is(err, types.ErrInvalidInputType))

	snap := s.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.Message, "not an image")
	assert.False(t, snap.Loaded, "previous image must be dropped")
	assert.Nil(t, snap.Committed)
}

func TestSetRatioAndRotate(t *testing.T) {
	s := loaded(t)

	require.NoError(t, s.SetRatio(types.Standard))
	assertRegion(t, types.Region{X: 20, Y: 5, Width: 60, Height: 90}, s.Snapshot().Crop)

	require.NoError(t, s.SetRatio(types.Widescreen))
	assert.Equal(t, types.Rotate90, s.Rotate())

	// 9:16 in source space, height limited
	w := 450 * 9.0 / 16.0
	assertRegion(t, types.Region{X: (1000 - w) / 2 / 10, Y: 5, Width: w / 10, Height: 90}, s.Snapshot().Crop)

	assert.Error(t, s.SetRatio(types.AspectRatio{Label: "bad"}))
	assert.Error(t, s.SetRotation(types.Rotation(45)))
}

func TestRatioChangeBeforeLoad(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.SetRatio(types.Square))
	require.NoError(t, s.Load(context.Background(), pngBytes(t, testImage(1000, 500))))
	assertRegion(t, types.Region{X: 27.5, Y: 5, Width: 45, Height: 90}, s.Snapshot().Crop)
}

func TestUpdateLiveClamps(t *testing.T) {
	_, err := New(Options{}).UpdateLive(types.Region{Width: 10, Height: 10})
	assert.True(t, errors.Is(err, ErrNoImage))

	s := loaded(t)
	got, err := s.UpdateLive(types.Region{X: 90, Y: 0, Width: 50, Height: 50})
	require.NoError(t, err)
	assertRegion(t, types.Region{X: 50, Y: 0, Width: 50, Height: 50}, got)

	// the committed region only moves on Commit
	assertRegion(t, types.Region{X: 10, Y: 5, Width: 80, Height: 90}, *s.Snapshot().Committed)
}

func TestCommitAndExport(t *testing.T) {
	s := loaded(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx))
	snap := s.Snapshot()
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, &types.Dimensions{Width: 800, Height: 450}, snap.Output)

	exp, err := s.Export(ctx, types.FormatPNG, 0)
	require.NoError(t, err)
	assert.Equal(t, "converted-image-16x9.png", exp.Filename)
	assert.Equal(t, "image/png", exp.MIMEType)

	decoded, err := png.Decode(bytes.NewReader(exp.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 800, 450), decoded.Bounds())
}

func TestRotatedCommitKeepsRatio(t *testing.T) {
	s := loaded(t)
	s.Rotate()
	require.NoError(t, s.Commit(context.Background()))

	out := s.Snapshot().Output
	require.NotNil(t, out)
	assert.Equal(t, 450, out.Width)
	assert.Equal(t, 253, out.Height)
}

func TestExportCommitsWhenNeeded(t *testing.T) {
	s := loaded(t)
	require.NoError(t, s.SetRatio(types.Square))

	exp, err := s.Export(context.Background(), types.FormatJPEG, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "converted-image-1x1.jpg", exp.Filename)
	assert.Equal(t, 450, exp.Width)
	assert.Equal(t, StatusSuccess, s.Snapshot().Status)
}

func TestRatioChangeInvalidatesOutput(t *testing.T) {
	s := loaded(t)
	require.NoError(t, s.Commit(context.Background()))
	require.NoError(t, s.SetRatio(types.Square))

	snap := s.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Nil(t, snap.Output)
}

func TestCommitWithoutImage(t *testing.T) {
	s := New(Options{})
	assert.True(t, errors.Is(s.Commit(context.Background()), ErrNoImage))
	assert.Equal(t, StatusError, s.Snapshot().Status)
}

func TestFailedCommitKeepsCommittedRegion(t *testing.T) {
	s := New(Options{DevicePixelScale: 100})
	require.NoError(t, s.LoadImage(testImage(400, 200)))
	before := s.Snapshot().Committed
	require.NotNil(t, before)

	_, err := s.UpdateLive(types.Region{X: 0, Y: 0, Width: 50, Height: 50})
	require.NoError(t, err)

	err = s.Commit(context.Background())
	assert.True(t, errors.Is(err, types.ErrRenderUnavailable))

	snap := s.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	require.NotNil(t, snap.Committed)
	assert.Equal(t, *before, *snap.Committed)
	assert.Nil(t, snap.Output)
	assertRegion(t, types.Region{X: 0, Y: 0, Width: 50, Height: 50}, snap.Crop)
}

func TestLoadRejectsTinyImage(t *testing.T) {
	s := loaded(t)

	err := s.Load(context.Background(), pngBytes(t, testImage(40, 400)))
	assert.True(t, errors.Is(err, types.ErrImageTooSmall))
	snap := s.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.False(t, snap.Loaded)
	assert.Contains(t, snap.Message, "40x400")

	err = s.LoadImage(testImage(49, 49))
	assert.True(t, errors.Is(err, types.ErrImageTooSmall))
	assert.False(t, s.Snapshot().Loaded)

	require.NoError(t, s.LoadImage(testImage(50, 50)))
	snap = s.Snapshot()
	assert.True(t, snap.Loaded)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Empty(t, snap.Message)
}

func TestRequestSuggestion(t *testing.T) {
	s := loaded(t)
	fc := &fakeClient{region: &types.SuggestedRegion{X: 40, Y: 40, Width: 80, Height: 80, Label: "dog"}}

	region, err := s.RequestSuggestion(context.Background(), suggest.New(fc, suggest.Options{}))
	require.NoError(t, err)

	// clamped to 400,200 600x300 px, covered at 16:9 and shifted inside
	want := types.Region{X: 40, Y: 32.5, Width: 60, Height: 67.5}
	assertRegion(t, want, region)

	snap := s.Snapshot()
	assertRegion(t, want, snap.Crop)
	assertRegion(t, want, *snap.Committed)
	require.NotNil(t, snap.Suggested)
	assert.Equal(t, "dog", snap.Suggested.Label)
	assert.False(t, snap.Suggesting)
}

func TestRequestSuggestionFailureKeepsRegion(t *testing.T) {
	s := loaded(t)
	before, err := s.UpdateLive(types.Region{X: 5, Y: 5, Width: 50, Height: 50})
	require.NoError(t, err)

	fc := &fakeClient{err: fmt.Errorf("%w: no Gemini API key", types.ErrConfigMissing)}
	_, err = s.RequestSuggestion(context.Background(), suggest.New(fc, suggest.Options{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSuggestionUnavailable))

	snap := s.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "Smart crop is not configured: no Gemini API key", snap.Message)
	assert.Equal(t, before, snap.Crop)
}

func TestRequestSuggestionWithoutBackend(t *testing.T) {
	s := loaded(t)
	_, err := s.RequestSuggestion(context.Background(), nil)
	assert.True(t, errors.Is(err, types.ErrSuggestionUnavailable))
	assert.True(t, errors.Is(err, types.ErrConfigMissing))
}

func TestRequestSuggestionBusy(t *testing.T) {
	s := loaded(t)
	fc := &fakeClient{
		region:  &types.SuggestedRegion{X: 10, Y: 10, Width: 20, Height: 20},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	sg := suggest.New(fc, suggest.Options{})

	done := make(chan error, 1)
	go func() {
		_, err := s.RequestSuggestion(context.Background(), sg)
		done <- err
	}()
	<-fc.started

	assert.True(t, s.Suggesting())
	assert.True(t, s.Snapshot().Suggesting)
	_, err := s.RequestSuggestion(context.Background(), sg)
	assert.True(t, errors.Is(err, ErrBusy))

	// manual edits stay possible while waiting
	_, err = s.UpdateLive(types.Region{X: 0, Y: 0, Width: 50, Height: 50})
	assert.NoError(t, err)

	close(fc.release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("suggestion did not finish")
	}
	assert.False(t, s.Suggesting())
}

func TestRequestSuggestionStale(t *testing.T) {
	s := loaded(t)
	fc := &fakeClient{
		region:  &types.SuggestedRegion{X: 10, Y: 10, Width: 20, Height: 20},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.RequestSuggestion(context.Background(), suggest.New(fc, suggest.Options{}))
		done <- err
	}()
	<-fc.started

	require.NoError(t, s.LoadImage(testImage(300, 300)))
	want := s.Snapshot().Crop
	close(fc.release)

	assert.True(t, errors.Is(<-done, ErrStale))
	assert.Equal(t, want, s.Snapshot().Crop)
}

type failingSink struct{}

func (failingSink) Write(context.Context, string, string, []byte) (string, error) {
	return "", fmt.Errorf("%w: denied", types.ErrClipboardWriteFailure)
}

type memorySink struct {
	name string
	mime string
	data []byte
}

func (m *memorySink) Write(_ context.Context, name, mime string, data []byte) (string, error) {
	m.name, m.mime, m.data = name, mime, data
	return "memory", nil
}

func TestDeliver(t *testing.T) {
	s := loaded(t)
	ctx := context.Background()

	mem := &memorySink{}
	where, err := s.Deliver(ctx, mem, types.FormatWebP, 0.8)
	require.NoError(t, err)
	assert.Equal(t, "memory", where)
	assert.Equal(t, "converted-image-16x9.webp", mem.name)
	assert.Equal(t, "image/webp", mem.mime)
	assert.NotEmpty(t, mem.data)

	_, err = s.Deliver(ctx, failingSink{}, types.FormatPNG, 0)
	assert.True(t, errors.Is(err, types.ErrClipboardWriteFailure))

	snap := s.Snapshot()
	assert.Contains(t, snap.Message, "denied")
	assert.NotNil(t, snap.Output, "download must stay available")
}

func TestPreview(t *testing.T) {
	s := loaded(t)
	surface, err := s.Preview(2)
	require.NoError(t, err)
	assert.Equal(t, 800, surface.Width)
	assert.Equal(t, 1600, surface.Image.Bounds().Dx())
	assert.Nil(t, s.Output())
}

func TestReset(t *testing.T) {
	s := loaded(t)
	require.NoError(t, s.SetRatio(types.Square))
	require.NoError(t, s.Commit(context.Background()))

	s.Reset()
	snap := s.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.False(t, snap.Loaded)
	assert.Nil(t, snap.Output)
	assert.Equal(t, "1:1", snap.Ratio)
	assert.Nil(t, s.Image())
}

func TestApplySuggestion(t *testing.T) {
	_, err := New(Options{}).ApplySuggestion(&types.SuggestedRegion{X: 1, Y: 1, Width: 10, Height: 10})
	assert.True(t, errors.Is(err, ErrNoImage))

	s := loaded(t)
	require.NoError(t, s.SetRatio(types.Square))
	region, err := s.ApplySuggestion(&types.SuggestedRegion{X: 0, Y: 0, Width: 10, Height: 20})
	require.NoError(t, err)
	// 100x100 px at the top-left corner
	assertRegion(t, types.Region{X: 0, Y: 0, Width: 10, Height: 20}, region)

	before := s.Snapshot().Crop
	_, err = s.ApplySuggestion(nil)
	assert.True(t, errors.Is(err, types.ErrSuggestionUnavailable))
	assert.Equal(t, before, s.Snapshot().Crop)
}
