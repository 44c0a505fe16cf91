// Package imaging decodes uploads and produces the fixed-size JPEGs the
// pipeline stores. The default build is pure Go; building with the gocv tag
// switches decode/resize/encode to OpenCV.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// MaxPixels bounds the decoded size of an upload. Decoding and flattening
// each hold a 4-byte-per-pixel buffer, so the cap keeps a request near 128 MB.
const MaxPixels = 4096 * 4096

var (
	// ErrInvalidImage is returned when the bytes do not decode to an image.
	ErrInvalidImage = errors.New("invalid image data")
	// ErrEncode is returned when the JPEG encoder fails.
	ErrEncode = errors.New("encoding failed")
)

// Options controls Normalize.
type Options struct {
	Width   int
	Height  int
	Quality int
}

// DefaultOptions matches the input size of the classification model.
func DefaultOptions() Options {
	return Options{Width: 224, Height: 224, Quality: 90}
}

// Square returns options for a size x size output at the given quality.
func Square(size, quality int) Options {
	return Options{Width: size, Height: size, Quality: quality}
}

func (o Options) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid target size %dx%d", o.Width, o.Height)
	}
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("invalid jpeg quality %d", o.Quality)
	}
	return nil
}

// Normalize decodes data, converts it to 8-bit RGB, resizes it to the
// target dimensions and encodes the result as JPEG.
func Normalize(data []byte, opts Options) ([]byte, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := checkHeader(data); err != nil {
		return nil, err
	}
	return normalize(data, opts)
}

// Decode returns the decoded image as RGB(A).
func Decode(data []byte) (image.Image, error) {
	if err := checkHeader(data); err != nil {
		return nil, err
	}
	return decode(data)
}

// Config reports the dimensions and format of encoded image data.
func Config(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return cfg, format, nil
}

func checkHeader(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	cfg, _, err := Config(data)
	if err != nil {
		return err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: empty dimensions", ErrInvalidImage)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, MaxPixels)
	}
	return nil
}
