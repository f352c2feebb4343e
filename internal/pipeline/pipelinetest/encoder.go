// Package pipelinetest provides a deterministic stand-in for the ONNX encoder
// and helpers that build upload payloads, for tests of the request path.
package pipelinetest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync/atomic"

	"github.com/Brownie44l1/clip-api/internal/imaging"
	"github.com/Brownie44l1/clip-api/internal/model"
)

// Encoder folds the input tensor into a 512-wide vector. The same tensor
// always produces the same vector.
type Encoder struct {
	// Size overrides the transform's image size; 0 means 32 to keep tests fast.
	Size int
	// Err, when set, is returned by Encode.
	Err error
	// Raw, when set, is returned by Encode instead of the folded tensor.
	Raw []float32
	// Block, when set, makes Encode wait until the channel is closed or the
	// context ends.
	Block chan struct{}

	calls atomic.Int64
}

func (e *Encoder) Encode(ctx context.Context, input []float32) ([]float32, error) {
	e.calls.Add(1)
	if e.Block != nil {
		select {
		case <-e.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Raw != nil {
		out := make([]float32, len(e.Raw))
		copy(out, e.Raw)
		return out, nil
	}

	out := make([]float32, model.EmbeddingSize)
	for i, v := range input {
		out[i%model.EmbeddingSize] += v * float32(1+i%13)
	}
	for i := range out {
		out[i] += 0.5
	}
	return out, nil
}

// Calls reports how many times Encode ran.
func (e *Encoder) Calls() int64 {
	return e.calls.Load()
}

func (e *Encoder) Transform() imaging.Transform {
	size := e.Size
	if size == 0 {
		size = 32
	}
	return imaging.Transform{Size: size, Mean: imaging.ClipMean, Std: imaging.ClipStd}
}

func (e *Encoder) Info() model.Info {
	return model.Info{
		Name:          "ViT-B/32",
		Device:        model.DeviceCPU,
		EmbeddingSize: model.EmbeddingSize,
		ImageSize:     e.Transform().Size,
	}
}

// Photo returns a w×h image with a smooth colour field, standing in for a
// natural photograph.
func Photo(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: uint8(((x + y) * 127) / (w + h)),
				A: 255,
			})
		}
	}
	return img
}

// JPEG encodes img at quality 90.
func JPEG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNG encodes img.
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
