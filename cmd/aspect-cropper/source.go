package main

import (
	"bytes"
	"image"

	"github.com/menta2k/aspect-cropper/pkg/processing"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

func loadSource(source string) (image.Image, []byte, error) {
	return processing.NewProcessor().LoadImageSmart(source)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := processing.NewProcessor().Encode(&buf, img, types.FormatPNG, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
