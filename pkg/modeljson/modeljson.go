// Package modeljson extracts crop boxes from loosely formatted vision model
// output.
package modeljson

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/menta2k/aspect-cropper/pkg/types"
)

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)\s//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// Sanitize removes code fences, comments and trailing commas, and keeps only
// the outermost {...}
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// box accepts the shapes models actually answer with
type box struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
	W      *float64 `json:"w"`
	H      *float64 `json:"h"`
	Label  string   `json:"label"`

	// [ymin, xmin, ymax, xmax] on a 0-1000 grid
	Box2D []float64 `json:"box_2d"`

	Box     *box `json:"box"`
	Crop    *box `json:"crop"`
	Primary *box `json:"primary"`
}

// ParseRegion parses a percent box {x, y, width, height}. Boxes whose values
// all lie in [0,1] are treated as normalised and rescaled to percent. The
// result is not clamped.
func ParseRegion(raw string) (*types.SuggestedRegion, error) {
	clean := Sanitize(raw)
	if !strings.HasPrefix(clean, "{") {
		return nil, fmt.Errorf("%w: no JSON object in %q", types.ErrMalformedResponse, truncate(raw, 80))
	}

	var b box
	if err := json.Unmarshal([]byte(clean), &b); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedResponse, err)
	}

	region, ok := b.region()
	if !ok {
		return nil, fmt.Errorf("%w: missing x/y/width/height in %q", types.ErrMalformedResponse, truncate(clean, 80))
	}
	return region, nil
}

func (b *box) region() (*types.SuggestedRegion, bool) {
	for _, nested := range []*box{b.Primary, b.Crop, b.Box} {
		if nested == nil {
			continue
		}
		if r, ok := nested.region(); ok {
			if r.Label == "" {
				r.Label = b.Label
			}
			return r, true
		}
	}

	if len(b.Box2D) == 4 {
		ymin, xmin, ymax, xmax := b.Box2D[0], b.Box2D[1], b.Box2D[2], b.Box2D[3]
		return &types.SuggestedRegion{
			X:      xmin / 10,
			Y:      ymin / 10,
			Width:  (xmax - xmin) / 10,
			Height: (ymax - ymin) / 10,
			Label:  b.Label,
		}, true
	}

	w, h := b.Width, b.Height
	if w == nil {
		w = b.W
	}
	if h == nil {
		h = b.H
	}
	if b.X == nil || b.Y == nil || w == nil || h == nil {
		return nil, false
	}

	r := &types.SuggestedRegion{X: *b.X, Y: *b.Y, Width: *w, Height: *h, Label: b.Label}
	if normalised(r) {
		r.X *= 100
		r.Y *= 100
		r.Width *= 100
		r.Height *= 100
	}
	return r, true
}

func normalised(r *types.SuggestedRegion) bool {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return r.Width > 0 && r.Height > 0
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
