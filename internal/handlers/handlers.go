package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	errs "github.com/Brownie44l1/clip-api/internal/errors"
	"github.com/Brownie44l1/clip-api/internal/imaging"
	"github.com/Brownie44l1/clip-api/internal/logger"
	"github.com/Brownie44l1/clip-api/internal/metrics"
	"github.com/Brownie44l1/clip-api/internal/pipeline"
)

const (
	// multipart framing and small extra fields on top of the image itself
	maxBodyBytes = imaging.MaxUploadBytes + 1<<20

	genericFailure = "Failed to encode image"
	timeoutFailure = "Request timed out"
)

// uploadFields are the form fields an image is accepted under. "file" is
// the documented name; "image" is what older clients send.
var uploadFields = map[string]bool{"file": true, "image": true}

// Options tune the HTTP surface.
type Options struct {
	RequestTimeout time.Duration
	AllowOrigin    string
	Version        string
}

type Handler struct {
	pipeline *pipeline.Pipeline
	log      *logger.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	opts     Options
}

func NewHandler(p *pipeline.Pipeline, log *logger.Logger, m *metrics.Metrics, t trace.Tracer, opts Options) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.AllowOrigin == "" {
		opts.AllowOrigin = "*"
	}
	return &Handler{
		pipeline: p,
		log:      log,
		metrics:  m,
		tracer:   t,
		opts:     opts,
	}
}

// Routes returns the API wrapped in its middleware chain.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.Root)
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/encode_image", h.EncodeImage)

	return h.recoverer(h.requestID(h.instrument(enableCORS(h.opts.AllowOrigin, mux))))
}

// Root describes the service.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeDetail(w, http.StatusNotFound, "Not Found")
		return
	}
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "CLIP Image Encoder",
		"version": h.opts.Version,
		"endpoints": map[string]string{
			"encode": "/encode_image (POST)",
			"health": "/health (GET)",
		},
	})
}

// Health reports model identity. It has no side effects and succeeds
// whenever the process is up, since the process only serves after the
// model has loaded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	info := h.pipeline.Info()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"model":          info.Name,
		"device":         string(info.Device),
		"embedding_size": info.EmbeddingSize,
		"version":        h.opts.Version,
	})
}

// EncodeImage embeds one multipart-uploaded image and responds with the
// bare JSON array of its components.
func (h *Handler) EncodeImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.RequestTimeout)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	upload, err := readUpload(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	embedding, err := h.pipeline.Encode(ctx, upload)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.log.Debug("image encoded", nil, map[string]interface{}{
		"request_id": RequestIDFrom(r.Context()),
		"filename":   upload.Filename,
		"bytes":      len(upload.Data),
	})
	writeJSON(w, http.StatusOK, embedding)
}

// readUpload streams the multipart body until it finds the image part.
// The declared content type is checked before any image bytes are read, and
// at most one byte past the size limit is buffered.
func readUpload(r *http.Request) (pipeline.Upload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return pipeline.Upload{}, errs.Wrap(errs.KindMissingUpload, "Request must be multipart/form-data with a 'file' field", err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return pipeline.Upload{}, errs.New(errs.KindMissingUpload, "No file uploaded. Use 'file' as the form field name")
		}
		if err != nil {
			return pipeline.Upload{}, bodyError(err)
		}

		if !uploadFields[part.FormName()] {
			part.Close()
			continue
		}

		contentType := part.Header.Get("Content-Type")
		if err := imaging.ValidateContentType(contentType); err != nil {
			return pipeline.Upload{}, err
		}

		data, err := io.ReadAll(io.LimitReader(part, imaging.MaxUploadBytes+1))
		if err != nil {
			return pipeline.Upload{}, bodyError(err)
		}

		return pipeline.Upload{
			Filename:    part.FileName(),
			ContentType: contentType,
			Data:        data,
		}, nil
	}
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errs.Wrap(errs.KindPayloadTooLarge, "File too large (max 10MB)", err)
	}
	return errs.Wrap(errs.KindMissingUpload, "Malformed multipart body", err)
}

// fail maps a pipeline error to a response. Client errors carry their
// reason; internal errors are logged in full and answered generically.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	if kind == errs.KindUnknown {
		kind = errs.KindInference
	}

	status, detail := http.StatusInternalServerError, genericFailure
	switch {
	case kind.IsClient():
		status, detail = http.StatusBadRequest, errs.ReasonOf(err)
	case kind == errs.KindTimeout:
		status, detail = http.StatusServiceUnavailable, timeoutFailure
	}

	fields := map[string]interface{}{
		"request_id": RequestIDFrom(r.Context()),
		"kind":       kind.String(),
		"detail":     detail,
		"status":     status,
	}
	if kind.IsClient() {
		h.log.Warn("encode rejected", err, fields)
	} else {
		h.log.Error("encode failed", err, fields)
	}
	h.metrics.RecordFailure(kind.String())

	writeDetail(w, status, detail)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
