// Package audit ships authorization decisions to one or more sinks without
// slowing down the request that produced them.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/obs"
)

const (
	DefaultBuffer = 1024

	// maxBatch bounds how many queued decisions a single sink write carries.
	maxBatch = 64

	// drainTimeout bounds the final flush after Run is cancelled.
	drainTimeout = 5 * time.Second
)

// Sink persists or forwards decisions.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch []domain.Decision) error
}

// Recorder queues decisions on a bounded channel. Record never blocks: when
// the queue is full the decision is dropped and counted.
type Recorder struct {
	queue   chan domain.Decision
	sinks   []Sink
	logger  *slog.Logger
	metrics *obs.Metrics
}

func NewRecorder(buffer int, logger *slog.Logger, metrics *obs.Metrics, sinks ...Sink) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Recorder{
		queue:   make(chan domain.Decision, buffer),
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
	}
}

func (r *Recorder) Record(_ context.Context, d domain.Decision) {
	select {
	case r.queue <- d:
	default:
		r.metrics.AuditDropped()
	}
}

// Run drains the queue into the sinks until ctx is cancelled, then flushes
// whatever is still queued.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Info("audit recorder started", "sinks", len(r.sinks), "buffer", cap(r.queue))
	defer r.logger.Info("audit recorder stopped")

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			defer cancel()
			for {
				batch := r.collect(nil)
				if len(batch) == 0 {
					return nil
				}
				r.write(flushCtx, batch)
			}
		case d := <-r.queue:
			r.write(ctx, r.collect([]domain.Decision{d}))
		}
	}
}

// collect appends already queued decisions to batch without waiting.
func (r *Recorder) collect(batch []domain.Decision) []domain.Decision {
	for len(batch) < maxBatch {
		select {
		case d := <-r.queue:
			batch = append(batch, d)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) write(ctx context.Context, batch []domain.Decision) {
	for _, s := range r.sinks {
		if err := s.Write(ctx, batch); err != nil {
			r.metrics.AuditSinkFailed(s.Name())
			r.logger.Error("audit sink write failed", "sink", s.Name(), "decisions", len(batch), "error", err)
		}
	}
}
