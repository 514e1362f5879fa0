package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/devlog/internal/metrics"
	"github.com/akave-ai/devlog/internal/model"
	"github.com/akave-ai/devlog/internal/request"
	"github.com/akave-ai/devlog/internal/storage"
)

type SweeperConfig struct {
	Interval        time.Duration
	UploadRetention time.Duration // 0 keeps upload files forever
}

type uploadCleaner interface {
	RemoveOlderThan(age time.Duration) ([]string, error)
}

// indexPruner drops index rows for uploads the cleaner removed.
type indexPruner interface {
	Forget(ctx context.Context, paths []string) error
}

// Sweeper periodically expires and forgets old log requests and, for the
// file backend, removes upload files past retention.
type Sweeper struct {
	cfg      SweeperConfig
	requests *request.Manager
	uploads  uploadCleaner
	index    indexPruner
	log      zerolog.Logger
}

// NewSweeper returns a sweeper. files may be nil when uploads are not on
// local disk; index is the upload index wrapping files, if any.
func NewSweeper(cfg SweeperConfig, requests *request.Manager, files *storage.FileStore, index *storage.IndexedStore, logger zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	sw := &Sweeper{
		cfg:      cfg,
		requests: requests,
		log:      logger.With().Str("component", "sweeper").Logger(),
	}
	if files != nil {
		sw.uploads = files
	}
	if index != nil {
		sw.index = index
	}
	return sw
}

// Run sweeps every Interval until ctx is done.
func (sw *Sweeper) Run(ctx context.Context) {
	sw.publishStats()
	ticker := time.NewTicker(sw.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass.
func (sw *Sweeper) Sweep(ctx context.Context) {
	if n := sw.requests.CleanupExpired(); n > 0 {
		metrics.SweepRemoved.WithLabelValues("requests").Add(float64(n))
	}
	if sw.uploads != nil && sw.cfg.UploadRetention > 0 {
		removed, err := sw.uploads.RemoveOlderThan(sw.cfg.UploadRetention)
		if err != nil {
			sw.log.Error().Err(err).Msg("upload cleanup")
		}
		if sw.index != nil {
			if err := sw.index.Forget(ctx, removed); err != nil {
				sw.log.Error().Err(err).Msg("prune upload index")
			}
		}
		if n := len(removed); n > 0 {
			metrics.SweepRemoved.WithLabelValues("uploads").Add(float64(n))
			sw.log.Info().Int("removed", n).Msg("removed expired uploads")
		}
	}
	sw.publishStats()
}

func (sw *Sweeper) publishStats() {
	st := sw.requests.Stats()
	metrics.RequestsByStatus.WithLabelValues(string(model.RequestPending)).Set(float64(st.Pending))
	metrics.RequestsByStatus.WithLabelValues(string(model.RequestFulfilled)).Set(float64(st.Fulfilled))
	metrics.RequestsByStatus.WithLabelValues(string(model.RequestExpired)).Set(float64(st.Expired))
	metrics.RequestsByStatus.WithLabelValues(string(model.RequestCancelled)).Set(float64(st.Cancelled))
}
