package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/clip-api/internal/config"
	errs "github.com/Brownie44l1/clip-api/internal/errors"
	"github.com/Brownie44l1/clip-api/internal/logger"
	"github.com/Brownie44l1/clip-api/internal/model"
	"github.com/Brownie44l1/clip-api/internal/pipeline"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <image>...",
	Short: "Encode local image files",
	Long: `Run images through the same pipeline as POST /encode_image and print one
JSON object per line: {"file": ..., "embedding": [...]} or {"file": ..., "error": ...}.

Examples:
  clip-encoder encode cat.jpg
  clip-encoder encode photos/*.jpg --jobs 4`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEncode,
}

var encodeJobs int

func init() {
	encodeCmd.Flags().IntVarP(&encodeJobs, "jobs", "j", 0, "Files encoded in parallel (default: MAX_CONCURRENT_INFERENCES)")
}

type encodeResult struct {
	File      string    `json:"file"`
	Embedding []float32 `json:"embedding,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func runEncode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLoggerClient(cfg.Logger())
	if err != nil {
		return err
	}
	defer log.Sync()

	server, err := model.NewServer(loadConfig(cfg), log, nil)
	if err != nil {
		return err
	}
	defer server.Close()

	p := pipeline.New(server, noop.NewTracerProvider().Tracer("encode"))

	jobs := encodeJobs
	if jobs <= 0 {
		jobs = cfg.MaxConcurrentInferences
	}
	return encodeAll(cmd.Context(), cmd.OutOrStdout(), p, cfg.RequestTimeout, jobs, args)
}

// encodeAll writes one JSON line per path and fails if any image failed.
func encodeAll(ctx context.Context, w io.Writer, p *pipeline.Pipeline, timeout time.Duration, jobs int, paths []string) error {
	var (
		mu     sync.Mutex
		failed int
	)
	out := json.NewEncoder(w)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			result := encodeFile(ctx, p, timeout, path)

			mu.Lock()
			defer mu.Unlock()
			if result.Error != "" {
				failed++
			}
			return out.Encode(result)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(paths))
	}
	return nil
}

func encodeFile(ctx context.Context, p *pipeline.Pipeline, timeout time.Duration, path string) encodeResult {
	result := encodeResult{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	embedding, err := p.Encode(ctx, pipeline.Upload{
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	})
	if err != nil {
		result.Error = errs.ReasonOf(err)
		if result.Error == "" {
			result.Error = err.Error()
		}
		return result
	}

	result.Embedding = embedding
	return result
}
