package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Layout is the memory order of the model input tensor.
type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

// Normalization maps 8-bit channel values into the model's input range.
type Normalization string

const (
	// NormalizationTF scales to [-1, 1] (MobileNet family).
	NormalizationTF Normalization = "tf"
	// NormalizationUnit scales to [0, 1].
	NormalizationUnit Normalization = "unit"
)

// Metadata describes an exported model: tensor names and shapes, input
// conventions and the label of every output class.
type Metadata struct {
	InputName     string        `json:"input_name"`
	OutputName    string        `json:"output_name"`
	InputShape    []int64       `json:"input_shape"`
	OutputShape   []int64       `json:"output_shape"`
	Layout        Layout        `json:"layout"`
	Normalization Normalization `json:"normalization"`
	ApplySoftmax  bool          `json:"apply_softmax"`
	Classes       []string      `json:"classes"`
	ImageSize     int           `json:"image_size"`
}

// Prediction is the top class of one inference pass.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	ClassIndex int     `json:"-"`
}

// LoadMetadata reads and validates a metadata JSON file.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := meta.normalize(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// normalize fills defaults and checks shapes against the label set.
func (m *Metadata) normalize() error {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.Layout == "" {
		m.Layout = LayoutNHWC
	}
	if m.Normalization == "" {
		m.Normalization = NormalizationTF
	}
	switch m.Layout {
	case LayoutNHWC, LayoutNCHW:
	default:
		return fmt.Errorf("unsupported layout %q", m.Layout)
	}
	switch m.Normalization {
	case NormalizationTF, NormalizationUnit:
	default:
		return fmt.Errorf("unsupported normalization %q", m.Normalization)
	}

	if len(m.InputShape) != 4 {
		return fmt.Errorf("input_shape must have 4 dimensions, got %v", m.InputShape)
	}
	if m.InputShape[0] != 1 {
		return fmt.Errorf("input batch dimension must be 1, got %d", m.InputShape[0])
	}
	h, w, c := m.InputShape[1], m.InputShape[2], m.InputShape[3]
	if m.Layout == LayoutNCHW {
		c, h, w = m.InputShape[1], m.InputShape[2], m.InputShape[3]
	}
	if c != 3 {
		return fmt.Errorf("input must have 3 channels, got %d", c)
	}
	if h != w {
		return fmt.Errorf("input must be square, got %dx%d", w, h)
	}
	if m.ImageSize == 0 {
		m.ImageSize = int(h)
	}
	if int64(m.ImageSize) != h {
		return fmt.Errorf("image_size %d does not match input_shape %v", m.ImageSize, m.InputShape)
	}

	outputs := int64(1)
	for _, d := range m.OutputShape {
		outputs *= d
	}
	if len(m.OutputShape) == 0 || outputs <= 0 {
		return fmt.Errorf("invalid output_shape %v", m.OutputShape)
	}
	if int64(len(m.Classes)) != outputs {
		return fmt.Errorf("metadata lists %d classes for %d outputs", len(m.Classes), outputs)
	}
	return nil
}

// InputSize is the number of float32 values in one input tensor.
func (m Metadata) InputSize() int {
	n := 1
	for _, d := range m.InputShape {
		n *= int(d)
	}
	return n
}
