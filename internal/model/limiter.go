package model

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	errs "github.com/Brownie44l1/clip-api/internal/errors"
	"github.com/Brownie44l1/clip-api/internal/metrics"
)

// limiter bounds how many forward passes run on the device at once and lets
// callers stop waiting when their context ends. A run that has started is
// never interrupted; its slot is released only when it returns.
type limiter struct {
	sem     *semaphore.Weighted
	device  Device
	metrics *metrics.Metrics
}

func newLimiter(slots int, device Device, m *metrics.Metrics) *limiter {
	if slots < 1 {
		slots = 1
	}
	return &limiter{
		sem:     semaphore.NewWeighted(int64(slots)),
		device:  device,
		metrics: m,
	}
}

type runResult struct {
	out []float32
	err error
}

func (l *limiter) Do(ctx context.Context, fn func() ([]float32, error)) ([]float32, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(errs.KindTimeout, "Request timed out", err)
	}

	done := make(chan runResult, 1)
	go func() {
		defer l.sem.Release(1)
		l.metrics.InferenceStarted()
		defer l.metrics.InferenceFinished()

		start := time.Now()
		out, err := guard(fn)
		l.metrics.ObserveInference(string(l.device), time.Since(start))
		done <- runResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindTimeout, "Request timed out", ctx.Err())
	}
}

// guard turns a panic inside the runtime binding into an inference error.
func guard(fn func() ([]float32, error)) (out []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Wrap(errs.KindInference, "inference panicked", fmt.Errorf("%v", r))
		}
	}()
	return fn()
}
