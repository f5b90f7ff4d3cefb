package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wattline/wattline/internal/processor"
)

// dProcessor performs one batch run over the queue.
type dProcessor interface {
	Process(ctx context.Context) (processor.Summary, error)
}

// PeriodicRunner invokes the batch processor on a fixed interval.
//
// It is a single goroutine, so runs within one process never overlap; the
// processor's advisory lock serializes runs across processes.
type PeriodicRunner struct {
	proc     dProcessor
	interval time.Duration

	runsTotal *prometheus.CounterVec
}

// NewRunner creates a periodic runner invoking proc every interval.
func NewRunner(proc dProcessor, interval time.Duration, reg prometheus.Registerer) (*PeriodicRunner, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("run interval must be positive, got %v", interval)
	}

	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_runner_runs_total",
		Help: "Number of processor runs, by result.",
	}, []string{"result"})
	if err := reg.Register(runsTotal); err != nil {
		return nil, fmt.Errorf("failed to register runner metrics: %v", err)
	}

	return &PeriodicRunner{
		proc:      proc,
		interval:  interval,
		runsTotal: runsTotal,
	}, nil
}

// Run loops until ctx is canceled, invoking the processor once per interval.
//
// A failed run backs off with jitter before the next attempt so a struggling
// database is not hammered on the regular schedule.
//
// Always returns a non-nil error, which is the context error on shutdown.
func (r *PeriodicRunner) Run(ctx context.Context) error {
	baseBackoff := r.interval
	maxBackoff := 10 * r.interval
	backoff := baseBackoff

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		summary, err := r.proc.Process(ctx)
		if err != nil {
			r.runsTotal.WithLabelValues("error").Inc()
			slog.Error("Processor run failed, backing off", "err", err, "backoff_max", backoff)

			// #nosec:G404 We don't need cryptographic randomness.
			sleep := time.Duration(rand.Int63n(int64(backoff)))
			if !r.sleep(ctx, sleep) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		r.runsTotal.WithLabelValues("ok").Inc()
		backoff = baseBackoff
		if summary.Items > 0 || summary.Failed > 0 {
			slog.Info("Processor run finished", "processed", summary.Items, "failed", summary.Failed, "rows", summary.Rows)
		}

		if !r.sleep(ctx, r.interval) {
			return ctx.Err()
		}
	}
}

// sleep waits for d, returning false if ctx was canceled first.
func (r *PeriodicRunner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
