package model

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

// ToTensor resizes img to size x size and lays its RGB channels out as a
// single-image batch.
func ToTensor(img image.Image, size int, layout Layout, norm Normalization) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	b := resized.Bounds()
	plane := size * size
	out := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			px := [3]float32{scale(r, norm), scale(g, norm), scale(bl, norm)}
			idx := y*size + x
			for ch, v := range px {
				if layout == LayoutNCHW {
					out[ch*plane+idx] = v
				} else {
					out[idx*3+ch] = v
				}
			}
		}
	}
	return out
}

func scale(v uint32, norm Normalization) float32 {
	c := float32(v >> 8)
	if norm == NormalizationUnit {
		return c / 255
	}
	return c/127.5 - 1
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Top1 returns the highest scoring class. Confidence is clamped to [0, 1]
// and NaN scores never win.
func Top1(scores []float32, classes []string) Prediction {
	best := -1
	for i, v := range scores {
		if i >= len(classes) || math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > scores[best] {
			best = i
		}
	}
	if best < 0 {
		return Prediction{ClassIndex: -1}
	}
	conf := scores[best]
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return Prediction{Label: classes[best], Confidence: conf, ClassIndex: best}
}
