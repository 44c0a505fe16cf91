package model

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrNoPrediction is returned when the model output holds no usable score.
var ErrNoPrediction = errors.New("model produced no prediction")

// Classifier maps an image to its most likely class.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (*Prediction, error)
}

// Server runs a pretrained ONNX classifier. The input and output tensors are
// bound to the session once, so Run calls are serialised.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewServer loads the model and its metadata. libPath, when set, points at
// the onnxruntime shared library.
func NewServer(modelPath, metadataPath, libPath string) (*Server, error) {
	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Server{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Classify prepares img for the model and runs one forward pass.
func (s *Server) Classify(ctx context.Context, img image.Image) (*Prediction, error) {
	input := ToTensor(img, s.Metadata.ImageSize, s.Metadata.Layout, s.Metadata.Normalization)
	return s.Predict(ctx, input)
}

// Predict runs the model on an already prepared input tensor.
func (s *Server) Predict(ctx context.Context, input []float32) (*Prediction, error) {
	if len(input) != s.Metadata.InputSize() {
		return nil, fmt.Errorf("expected %d input values, got %d", s.Metadata.InputSize(), len(input))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	copy(s.inputTensor.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := s.outputTensor.GetData()
	if s.Metadata.ApplySoftmax {
		scores = Softmax(scores)
	}
	pred := Top1(scores, s.Metadata.Classes)
	if pred.ClassIndex < 0 {
		return nil, ErrNoPrediction
	}
	return &pred, nil
}

// Close releases the session and tensors.
func (s *Server) Close() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}

var _ Classifier = (*Server)(nil)
