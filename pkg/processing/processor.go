package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/aspect-cropper/pkg/types"
)

// MaxSourceBytes caps uploads and downloads
const MaxSourceBytes = 50 << 20

// Processor handles image decoding, encoding and diagnostics
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Decode validates that data is an image and decodes it, applying EXIF
// orientation. Non image input yields ErrInvalidInputType, unreadable image
// bytes ErrDecodeFailure.
func (p *Processor) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", types.ErrInvalidInputType)
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: detected %s", types.ErrInvalidInputType, contentType)
	}

	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("%w: unknown or corrupt %s data", types.ErrDecodeFailure, contentType)
}

// Read decodes an image from r, reading at most MaxSourceBytes
func (p *Processor) Read(r io.Reader) (image.Image, []byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSourceBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", types.ErrDecodeFailure, err)
	}
	if len(data) > MaxSourceBytes {
		return nil, nil, fmt.Errorf("%w: larger than %d bytes", types.ErrDecodeFailure, MaxSourceBytes)
	}
	img, err := p.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	return img, data, nil
}

// LoadImageFromURL downloads and decodes an image
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, []byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "aspect-cropper/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	return p.Read(resp.Body)
}

// LoadImage reads and decodes an image file
func (p *Processor) LoadImage(path string) (image.Image, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()
	return p.Read(f)
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(source string) (image.Image, []byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// Dimensions returns the natural size of img
func Dimensions(img image.Image) types.Dimensions {
	b := img.Bounds()
	return types.Dimensions{Width: b.Dx(), Height: b.Dy()}
}

// ValidateImage checks that img is non-empty and both sides are at least
// minSize pixels
func ValidateImage(img image.Image, minSize int) error {
	if img == nil {
		return fmt.Errorf("%w: empty image", types.ErrDecodeFailure)
	}
	d := Dimensions(img)
	if !d.Valid() {
		return fmt.Errorf("%w: empty image", types.ErrDecodeFailure)
	}
	if d.Width < minSize || d.Height < minSize {
		return fmt.Errorf("%w: %dx%d (minimum: %d)", types.ErrImageTooSmall, d.Width, d.Height, minSize)
	}
	return nil
}

// Encode writes img in format. Quality is a fraction in [0.1, 1.0] and only
// applies to lossy formats.
func (p *Processor) Encode(w io.Writer, img image.Image, format types.Format, quality float64) error {
	q := types.ClampQuality(quality)
	switch format {
	case types.FormatWebP:
		return webp.Encode(w, img, &webp.Options{Lossless: false, Quality: float32(q * 100)})
	case types.FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(int(math.Round(q*100))))
	case types.FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// EncodeBytes is Encode into memory
func (p *Processor) EncodeBytes(img image.Image, format types.Format, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf, img, format, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PrepareImageForModel downsizes img to maxDim on its long side and returns
// it base64 encoded with its MIME type, ready for a vision model.
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	mime := "image/jpeg"
	switch strings.ToLower(format) {
	case "png":
		mime = "image/png"
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), mime, nil
}

// CreateDebugOverlay draws the suggested region (green) and the crop region
// (gold) onto a copy of img
func (p *Processor) CreateDebugOverlay(img image.Image, suggested *types.SuggestedRegion, crop types.Region) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()
	dims := types.Dimensions{Width: w, Height: h}

	green := color.NRGBA{0, 255, 0, 255}
	gold := color.NRGBA{255, 204, 0, 255}
	red := color.NRGBA{255, 0, 0, 255}
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))
	cross := int(math.Max(4, 0.01*float64(min(w, h))))

	if suggested != nil && suggested.Valid() {
		drawBox(nrgba, suggested.Clamp().Region().ToPixels(dims), green, stroke)
	}

	if !crop.Empty() {
		px := crop.ToPixels(dims)
		drawBox(nrgba, px, gold, stroke)

		cx := int(px.X + px.Width/2 + 0.5)
		cy := int(px.Y + px.Height/2 + 0.5)
		drawHLine(nrgba, cy, cx-cross, cx+cross, red)
		drawVLine(nrgba, cx, cy-cross, cy+cross, red)
	}

	return nrgba
}

func boxToPixels(box types.PixelRegion, w, h int) (int, int, int, int) {
	x0 := int(clamp(box.X, 0, float64(w)) + 0.5)
	y0 := int(clamp(box.Y, 0, float64(h)) + 0.5)
	x1 := int(clamp(box.X+box.Width, 0, float64(w)) + 0.5)
	y1 := int(clamp(box.Y+box.Height, 0, float64(h)) + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawBox(img *image.NRGBA, box types.PixelRegion, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := boxToPixels(box, img.Bounds().Dx(), img.Bounds().Dy())
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
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
