// Package model loads the CLIP visual encoder into ONNX Runtime and runs
// forward passes on it.
package model

import (
	"context"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	errs "github.com/Brownie44l1/clip-api/internal/errors"
	"github.com/Brownie44l1/clip-api/internal/imaging"
	"github.com/Brownie44l1/clip-api/internal/logger"
	"github.com/Brownie44l1/clip-api/internal/metrics"
)

// LoadConfig locates the model and tells the loader where it may run.
type LoadConfig struct {
	ModelPath    string
	MetadataPath string
	// LibraryPath points at onnxruntime.so / .dylib / .dll. Empty uses the
	// binding's default lookup.
	LibraryPath   string
	Device        string
	MaxConcurrent int
}

// Server is the process-wide model handle. Everything on it is set in
// NewServer and only read afterwards, so it is shared by all requests
// without locking; the session itself supports concurrent Run calls.
type Server struct {
	session   *ort.DynamicAdvancedSession
	Metadata  Metadata
	device    Device
	transform imaging.Transform
	slots     *limiter
}

// NewServer initialises ONNX Runtime, selects the device and creates the
// inference session. Any error here is a startup failure.
func NewServer(cfg LoadConfig, log *logger.Logger, m *metrics.Metrics) (*Server, error) {
	s, err := newServer(cfg, log, m)
	if err != nil {
		return nil, errs.Wrap(errs.KindStartup, "failed to load model", err)
	}
	return s, nil
}

func newServer(cfg LoadConfig, log *logger.Logger, m *metrics.Metrics) (*Server, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file %s: %w", cfg.ModelPath, err)
	}

	metadata, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	device, err := SelectDevice(cfg.Device, cudaAvailable)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	session, err := newSession(cfg.ModelPath, metadata, device)
	if err != nil && device == DeviceCUDA && cfg.Device != "cuda" {
		log.Warn("CUDA session failed, falling back to CPU", err, nil)
		device = DeviceCPU
		session, err = newSession(cfg.ModelPath, metadata, device)
	}
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	log.Info("model loaded", nil, map[string]interface{}{
		"model":          metadata.Name,
		"path":           cfg.ModelPath,
		"device":         string(device),
		"embedding_size": metadata.EmbeddingSize,
		"image_size":     metadata.ImageSize,
		"slots":          cfg.MaxConcurrent,
	})

	return &Server{
		session:   session,
		Metadata:  metadata,
		device:    device,
		transform: metadata.Transform(),
		slots:     newLimiter(cfg.MaxConcurrent, device, m),
	}, nil
}

// cudaAvailable reports whether ONNX Runtime accepts the CUDA execution
// provider in this process.
func cudaAvailable() bool {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return false
	}
	defer options.Destroy()

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return false
	}
	defer cudaOptions.Destroy()

	return options.AppendExecutionProviderCUDA(cudaOptions) == nil
}

func newSession(modelPath string, metadata Metadata, device Device) (*ort.DynamicAdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if device == DeviceCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cudaOptions.Destroy()

		if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
			return nil, fmt.Errorf("failed to configure CUDA: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("failed to enable CUDA: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}

// Encode runs one forward pass and returns the raw, unnormalised embedding.
// input must be the output of Transform().Apply.
func (s *Server) Encode(ctx context.Context, input []float32) ([]float32, error) {
	if len(input) != s.transform.Len() {
		return nil, errs.Newf(errs.KindInference, "input tensor has %d values, expected %d", len(input), s.transform.Len())
	}
	return s.slots.Do(ctx, func() ([]float32, error) {
		return s.run(input)
	})
}

// run uses tensors owned by this call; nothing mutable is shared between
// concurrent runs.
func (s *Server) run(input []float32) ([]float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(s.transform.Shape()...), input)
	if err != nil {
		return nil, errs.Wrap(errs.KindInference, "failed to create input tensor", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Metadata.OutputShape...))
	if err != nil {
		return nil, errs.Wrap(errs.KindInference, "failed to create output tensor", err)
	}
	defer outputTensor.Destroy()

	if err := s.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, errs.Wrap(errs.KindInference, "inference failed", err)
	}

	data := outputTensor.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Transform returns the preprocessing paired with the loaded weights.
func (s *Server) Transform() imaging.Transform {
	return s.transform
}

// Info returns the model identity reported by /health.
func (s *Server) Info() Info {
	return Info{
		Name:          s.Metadata.Name,
		Device:        s.device,
		EmbeddingSize: s.Metadata.EmbeddingSize,
		ImageSize:     s.Metadata.ImageSize,
	}
}

func (s *Server) Close() {
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}
