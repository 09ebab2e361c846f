package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/obs"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
)

// Housekeeper periodically purges expired credential records. Records are
// never removed while they could still be presented unexpired.
type Housekeeper struct {
	Credentials store.Credentials
	Logger      *slog.Logger
	Metrics     *obs.Metrics
	Interval    time.Duration

	// Grace delays purging past expiry by the clock skew tolerance.
	Grace time.Duration

	Now func() time.Time
}

// NewHousekeeper creates a housekeeper. Intervals of 0 or less default to
// one hour.
func NewHousekeeper(creds store.Credentials, logger *slog.Logger, interval time.Duration) *Housekeeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Housekeeper{
		Credentials: creds,
		Logger:      logger,
		Interval:    interval,
		Now:         time.Now,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (h *Housekeeper) Run(ctx context.Context) error {
	h.Logger.Info("housekeeping started", "interval", h.Interval)
	defer h.Logger.Info("housekeeping stopped")

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		if _, err := h.Sweep(ctx); err != nil && ctx.Err() == nil {
			h.Logger.Error("failed to purge expired credentials", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep purges once and reports how many records were removed.
func (h *Housekeeper) Sweep(ctx context.Context) (int, error) {
	before := h.Now().Add(-h.Grace)
	n, err := h.Credentials.DeleteExpired(ctx, before)
	if err != nil {
		return 0, err
	}
	h.Metrics.CredentialsPurged(n)
	if n > 0 {
		h.Logger.Info("purged expired credentials", "deleted", n)
	}
	return n, nil
}
