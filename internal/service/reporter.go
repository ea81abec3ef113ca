package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/keyescrow/internal/models"
)

// StatsSource reports aggregate record counts.
type StatsSource interface {
	RecordStats(ctx context.Context) (models.RecordStats, error)
}

// StartStatsReporter logs stored and retrieved record counts every interval
// until ctx is cancelled. Counts are only logged when they change.
func StartStatsReporter(
	ctx context.Context,
	src StatsSource,
	interval time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		var last models.RecordStats
		reported := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := src.RecordStats(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Error("failed to collect record stats", zap.Error(err))
					continue
				}
				if reported && stats == last {
					continue
				}
				last, reported = stats, true
				log.Info("escrow records",
					zap.Int64("stored", stats.Total),
					zap.Int64("retrieved", stats.Retrieved),
					zap.Int64("pending", stats.Total-stats.Retrieved),
				)
			}
		}
	}()
}
