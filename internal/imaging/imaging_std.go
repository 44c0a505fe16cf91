//go:build !gocv

package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return toRGBA(img), nil
}

func normalize(data []byte, opts Options) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	resized := resize.Resize(uint(opts.Width), uint(opts.Height), img, resize.Bilinear)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// toRGBA flattens any colour model (paletted, gray, CMYK, alpha) onto an
// opaque white RGBA canvas.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
