package types

import (
	"fmt"
	"math"
	"strings"
)

// Format is an output image encoding
type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// Quality bounds for lossy formats, expressed as a fraction
const (
	MinQuality     = 0.1
	MaxQuality     = 1.0
	DefaultQuality = 0.9
)

// Formats returns the supported output formats
func Formats() []Format {
	return []Format{FormatWebP, FormatJPEG, FormatPNG}
}

// ParseFormat accepts format names, extensions and MIME types
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "webp", "image/webp":
		return FormatWebP, nil
	case "jpeg", "jpg", "image/jpeg":
		return FormatJPEG, nil
	case "png", "image/png":
		return FormatPNG, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// MIMEType returns the content type used for downloads and clipboard writes
func (f Format) MIMEType() string {
	return "image/" + string(f)
}

// Extension returns the file extension without the dot
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// Lossy reports whether quality applies
func (f Format) Lossy() bool {
	return f == FormatWebP || f == FormatJPEG
}

// ClampQuality bounds q to [MinQuality, MaxQuality]. Zero, NaN and
// infinities mean default.
func ClampQuality(q float64) float64 {
	if q == 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return DefaultQuality
	}
	return clamp(q, MinQuality, MaxQuality)
}
