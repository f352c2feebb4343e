// Package pipeline turns one uploaded image into one normalised embedding.
//
// A request moves through validated → decoded → preprocessed → inferred →
// normalized. The first failing stage ends the request; no partial result is
// ever returned. The pipeline holds no per-request state, so a single value
// serves every concurrent request.
package pipeline

import (
	"context"
	"image"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	errs "github.com/Brownie44l1/clip-api/internal/errors"
	"github.com/Brownie44l1/clip-api/internal/imaging"
	"github.com/Brownie44l1/clip-api/internal/model"
	"github.com/Brownie44l1/clip-api/internal/tracer"
)

// Encoder is the loaded model as seen by the pipeline. *model.Server
// implements it.
type Encoder interface {
	// Encode returns the raw embedding for a preprocessed input tensor.
	Encode(ctx context.Context, input []float32) ([]float32, error)
	// Transform is the preprocessing bound to the encoder's weights.
	Transform() imaging.Transform
	Info() model.Info
}

// Upload is a single image as received from a caller.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Pipeline runs uploads through the encoder.
type Pipeline struct {
	encoder   Encoder
	transform imaging.Transform
	dim       int
	tracer    trace.Tracer
}

// New binds a pipeline to a loaded encoder. The transform is taken from the
// encoder once and never replaced.
func New(encoder Encoder, t trace.Tracer) *Pipeline {
	return &Pipeline{
		encoder:   encoder,
		transform: encoder.Transform(),
		dim:       encoder.Info().EmbeddingSize,
		tracer:    t,
	}
}

// Info returns the identity of the encoder behind the pipeline.
func (p *Pipeline) Info() model.Info {
	return p.encoder.Info()
}

// Encode validates, decodes, preprocesses and embeds u. Errors are
// classified with internal/errors kinds; anything unclassified should be
// treated as an internal failure.
func (p *Pipeline) Encode(ctx context.Context, u Upload) ([]float32, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.encode", trace.WithAttributes(
		attribute.String("upload.content_type", u.ContentType),
		attribute.Int("upload.bytes", len(u.Data)),
	))
	defer span.End()

	embedding, err := p.encode(ctx, u)
	if err != nil {
		span.SetAttributes(attribute.String("failure.kind", errs.KindOf(err).String()))
		tracer.RecordError(span, err)
		return nil, err
	}
	return embedding, nil
}

func (p *Pipeline) encode(ctx context.Context, u Upload) ([]float32, error) {
	// validated
	if err := p.stage(ctx, "validate", func(context.Context) error {
		return imaging.Validate(u.Data, u.ContentType)
	}); err != nil {
		return nil, err
	}

	// decoded
	var canonical *image.RGBA
	if err := p.stage(ctx, "decode", func(context.Context) error {
		var err error
		canonical, _, err = imaging.DecodeImage(u.Data)
		return err
	}); err != nil {
		return nil, err
	}

	// preprocessed
	var input []float32
	if err := p.stage(ctx, "preprocess", func(context.Context) error {
		input = p.transform.Apply(canonical)
		return nil
	}); err != nil {
		return nil, err
	}

	// inferred
	var raw []float32
	if err := p.stage(ctx, "infer", func(ctx context.Context) error {
		var err error
		raw, err = p.encoder.Encode(ctx, input)
		if err == nil || errs.KindOf(err) != errs.KindUnknown {
			return err
		}
		if ctx.Err() != nil {
			return errs.Wrap(errs.KindTimeout, "Request timed out", err)
		}
		return errs.Wrap(errs.KindInference, "inference failed", err)
	}); err != nil {
		return nil, err
	}

	// normalized
	var embedding []float32
	if err := p.stage(ctx, "normalize", func(context.Context) error {
		var err error
		embedding, err = model.Normalize(raw, p.dim)
		return err
	}); err != nil {
		return nil, err
	}

	return embedding, nil
}

// stage runs fn inside a child span, checking for an expired request first.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindTimeout, "Request timed out", err)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	err := fn(ctx)
	tracer.RecordError(span, err)
	return err
}
