package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/Brownie44l1/clip-api/internal/imaging"
)

// EmbeddingSize is the only output width this service serves.
const EmbeddingSize = 512

// Metadata describes an exported encoder. It ships as model_metadata.json
// next to the .onnx file so the preprocessing always matches the weights.
type Metadata struct {
	Name          string     `json:"name"`
	InputName     string     `json:"input_name"`
	OutputName    string     `json:"output_name"`
	InputShape    []int64    `json:"input_shape"`
	OutputShape   []int64    `json:"output_shape"`
	ImageSize     int        `json:"image_size"`
	EmbeddingSize int        `json:"embedding_size"`
	Mean          [3]float32 `json:"mean"`
	Std           [3]float32 `json:"std"`
}

// DefaultMetadata is the CLIP ViT-B/32 visual tower as exported by
// optimum's CLIPVisionModelWithProjection.
func DefaultMetadata() Metadata {
	return Metadata{
		Name:          "ViT-B/32",
		InputName:     "pixel_values",
		OutputName:    "image_embeds",
		InputShape:    []int64{1, 3, 224, 224},
		OutputShape:   []int64{1, EmbeddingSize},
		ImageSize:     224,
		EmbeddingSize: EmbeddingSize,
		Mean:          imaging.ClipMean,
		Std:           imaging.ClipStd,
	}
}

// LoadMetadata reads the metadata file at path. A missing file yields
// DefaultMetadata; fields absent from the file keep their defaults.
func LoadMetadata(path string) (Metadata, error) {
	metaFile, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultMetadata(), nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	metadata := DefaultMetadata()
	metadata.InputShape, metadata.OutputShape = nil, nil
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	// shapes follow image_size and embedding_size unless given explicitly
	if metadata.InputShape == nil {
		metadata.InputShape = []int64{1, 3, int64(metadata.ImageSize), int64(metadata.ImageSize)}
	}
	if metadata.OutputShape == nil {
		metadata.OutputShape = []int64{1, int64(metadata.EmbeddingSize)}
	}

	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

// Validate checks that the metadata describes a single-image encoder with a
// 512-wide output.
func (m Metadata) Validate() error {
	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("metadata: input_name and output_name are required")
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("metadata: image_size must be positive, got %d", m.ImageSize)
	}
	if m.EmbeddingSize != EmbeddingSize {
		return fmt.Errorf("metadata: embedding_size must be %d, got %d", EmbeddingSize, m.EmbeddingSize)
	}
	want := []int64{1, 3, int64(m.ImageSize), int64(m.ImageSize)}
	if !equalShape(m.InputShape, want) {
		return fmt.Errorf("metadata: input_shape %v does not match %v", m.InputShape, want)
	}
	if !equalShape(m.OutputShape, []int64{1, int64(m.EmbeddingSize)}) {
		return fmt.Errorf("metadata: output_shape %v does not match [1 %d]", m.OutputShape, m.EmbeddingSize)
	}
	for c, s := range m.Std {
		if s <= 0 {
			return fmt.Errorf("metadata: std[%d] must be positive", c)
		}
	}
	return nil
}

// Transform returns the preprocessing paired with this encoder.
func (m Metadata) Transform() imaging.Transform {
	return imaging.Transform{Size: m.ImageSize, Mean: m.Mean, Std: m.Std}
}

// Info is the read-only identity of the loaded model reported by /health.
type Info struct {
	Name          string
	Device        Device
	EmbeddingSize int
	ImageSize     int
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
