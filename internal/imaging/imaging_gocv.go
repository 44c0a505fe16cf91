//go:build gocv

package imaging

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// decodeToMat reads data as 3-channel BGR.
func decodeToMat(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	mat.Close()
	if err == nil {
		err = errors.New("decoder returned an empty matrix")
	}
	return gocv.NewMat(), fmt.Errorf("%w: %v", ErrInvalidImage, err)
}

func decode(data []byte) (image.Image, error) {
	mat, err := decodeToMat(data)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

func normalize(data []byte, opts Options) ([]byte, error) {
	mat, err := decodeToMat(data)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(opts.Width, opts.Height), 0, 0, gocv.InterpolationArea)

	// IMEncode expects BGR, which is what IMDecode produced.
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, resized, []int{int(gocv.IMWriteJpegQuality), opts.Quality})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
