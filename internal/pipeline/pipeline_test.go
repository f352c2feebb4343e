package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	errs "github.com/Brownie44l1/clip-api/internal/errors"
	"github.com/Brownie44l1/clip-api/internal/imaging"
	"github.com/Brownie44l1/clip-api/internal/model"
	"github.com/Brownie44l1/clip-api/internal/pipeline/pipelinetest"
)

func newPipeline(enc Encoder) *Pipeline {
	return New(enc, noop.NewTracerProvider().Tracer("test"))
}

func jpegUpload() Upload {
	return Upload{
		Filename:    "photo.jpg",
		ContentType: "image/jpeg",
		Data:        pipelinetest.JPEG(pipelinetest.Photo(400, 300)),
	}
}

func TestEncode_Success(t *testing.T) {
	p := newPipeline(&pipelinetest.Encoder{})

	embedding, err := p.Encode(context.Background(), jpegUpload())
	require.NoError(t, err)
	require.Len(t, embedding, model.EmbeddingSize)

	for _, v := range embedding {
		require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
	}
	assert.InDelta(t, 1.0, model.L2Norm(embedding), 1e-4)
}

func TestEncode_Formats(t *testing.T) {
	p := newPipeline(&pipelinetest.Encoder{})
	photo := pipelinetest.Photo(120, 80)

	uploads := []Upload{
		{Filename: "a.png", ContentType: "image/png", Data: pipelinetest.PNG(photo)},
		{Filename: "a.jpg", ContentType: "image/jpg", Data: pipelinetest.JPEG(photo)},
	}
	for _, u := range uploads {
		embedding, err := p.Encode(context.Background(), u)
		require.NoError(t, err, u.Filename)
		assert.Len(t, embedding, model.EmbeddingSize)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	p := newPipeline(&pipelinetest.Encoder{})
	u := jpegUpload()

	first, err := p.Encode(context.Background(), u)
	require.NoError(t, err)
	second, err := p.Encode(context.Background(), u)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEncode_ConcurrentRequestsAreIndependent(t *testing.T) {
	p := newPipeline(&pipelinetest.Encoder{})

	a := jpegUpload()
	b := Upload{Filename: "b.png", ContentType: "image/png", Data: pipelinetest.PNG(pipelinetest.Photo(50, 200))}

	wantA, err := p.Encode(context.Background(), a)
	require.NoError(t, err)
	wantB, err := p.Encode(context.Background(), b)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, want := a, wantA
			if i%2 == 1 {
				u, want = b, wantB
			}
			got, err := p.Encode(context.Background(), u)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}(i)
	}
	wg.Wait()
}

func TestEncode_ClientFailuresSkipInference(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
		kind   errs.Kind
	}{
		{"unsupported type", Upload{ContentType: "image/gif", Data: []byte("GIF89a")}, errs.KindUnsupportedMediaType},
		{"empty", Upload{Filename: "empty.jpg", ContentType: "image/jpeg"}, errs.KindEmptyInput},
		{"too large", Upload{ContentType: "image/jpeg", Data: make([]byte, imaging.MaxUploadBytes+1)}, errs.KindPayloadTooLarge},
		{"exactly at limit", Upload{ContentType: "image/jpeg", Data: make([]byte, imaging.MaxUploadBytes)}, errs.KindInvalidImage},
		{"corrupt", Upload{ContentType: "image/png", Data: []byte("\x89PNG\r\n\x1a\nnope")}, errs.KindInvalidImage},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			enc := &pipelinetest.Encoder{}
			p := newPipeline(enc)

			_, err := p.Encode(context.Background(), test.upload)
			require.Error(t, err)
			assert.Equal(t, test.kind, errs.KindOf(err))
			assert.True(t, errs.IsClient(err))
			assert.Zero(t, enc.Calls())
		})
	}
}

func TestEncode_ZeroNormIsInferenceError(t *testing.T) {
	p := newPipeline(&pipelinetest.Encoder{Raw: make([]float32, model.EmbeddingSize)})

	embedding, err := p.Encode(context.Background(), jpegUpload())
	require.Error(t, err)
	assert.Nil(t, embedding)
	assert.Equal(t, errs.KindInference, errs.KindOf(err))
}

func TestEncode_WrongWidthIsInferenceError(t *testing.T) {
	p := newPipeline(&pipelinetest.Encoder{Raw: []float32{1, 2, 3}})

	_, err := p.Encode(context.Background(), jpegUpload())
	assert.Equal(t, errs.KindInference, errs.KindOf(err))
}

func TestEncode_UnclassifiedEncoderErrorIsWrapped(t *testing.T) {
	boom := errors.New("cuda: out of memory")
	p := newPipeline(&pipelinetest.Encoder{Err: boom})

	_, err := p.Encode(context.Background(), jpegUpload())
	require.Error(t, err)
	assert.Equal(t, errs.KindInference, errs.KindOf(err))
	assert.ErrorIs(t, err, boom)
}

func TestEncode_ClassifiedEncoderErrorKeepsKind(t *testing.T) {
	p := newPipeline(&pipelinetest.Encoder{Err: errs.Wrap(errs.KindTimeout, "Request timed out", context.DeadlineExceeded)})

	_, err := p.Encode(context.Background(), jpegUpload())
	assert.Equal(t, errs.KindTimeout, errs.KindOf(err))
}

func TestEncode_ExpiredContext(t *testing.T) {
	enc := &pipelinetest.Encoder{}
	p := newPipeline(enc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Encode(ctx, jpegUpload())
	assert.Equal(t, errs.KindTimeout, errs.KindOf(err))
	assert.Zero(t, enc.Calls())
}

func TestEncode_DeadlineDuringInference(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := newPipeline(&pipelinetest.Encoder{Block: block})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Encode(ctx, jpegUpload())
	require.Error(t, err)
	// the fake returns the bare context error; the pipeline classifies it
	assert.Equal(t, errs.KindTimeout, errs.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEncode_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	p := New(&pipelinetest.Encoder{}, tp.Tracer("test"))
	_, err := p.Encode(context.Background(), jpegUpload())
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{
		"pipeline.validate",
		"pipeline.decode",
		"pipeline.preprocess",
		"pipeline.infer",
		"pipeline.normalize",
		"pipeline.encode",
	}, names)
}

func TestEncode_FailureStopsAtStage(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	p := New(&pipelinetest.Encoder{}, tp.Tracer("test"))
	_, err := p.Encode(context.Background(), Upload{ContentType: "image/png", Data: []byte("junk")})
	require.Error(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"pipeline.validate", "pipeline.decode", "pipeline.encode"}, names)
}

func TestInfo(t *testing.T) {
	p := newPipeline(&pipelinetest.Encoder{})
	assert.Equal(t, model.EmbeddingSize, p.Info().EmbeddingSize)
	assert.Equal(t, model.DeviceCPU, p.Info().Device)
}
