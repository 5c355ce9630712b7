package types

import "errors"

// Error kinds surfaced to the single user-visible message slot.
var (
	ErrInvalidInputType      = errors.New("uploaded file is not an image")
	ErrDecodeFailure         = errors.New("image could not be decoded")
	ErrImageTooSmall         = errors.New("image is too small to crop")
	ErrRenderUnavailable     = errors.New("drawing surface unavailable")
	ErrSuggestionUnavailable = errors.New("smart crop suggestion unavailable")
	ErrClipboardWriteFailure = errors.New("clipboard write failed")
)

// Reasons a suggestion can be unavailable. All of them also match
// ErrSuggestionUnavailable through the suggest package's error type.
var (
	ErrConfigMissing     = errors.New("suggestion backend is not configured")
	ErrMalformedResponse = errors.New("could not parse model response")
	ErrTransport         = errors.New("suggestion request failed")
)
