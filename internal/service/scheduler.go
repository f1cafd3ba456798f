package service

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

func NewScheduler() (gocron.Scheduler, error) {
	return gocron.NewScheduler(gocron.WithLocation(time.UTC))
}

type RunCleaner interface {
	CleanupRuns(context.Context, time.Duration) (int64, error)
}

type CachePruner interface {
	Prune(context.Context, time.Duration) (int, error)
}

// ScheduleMaintenance registers the daily jobs that delete old finished
// runs and prune stale cache entries. A nil pruner skips cache pruning.
func ScheduleMaintenance(
	scheduler gocron.Scheduler,
	runs RunCleaner,
	runRetention time.Duration,
	cache CachePruner,
	cacheRetention time.Duration,
	logger *zap.Logger,
) error {
	at := gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0)))

	if _, err := scheduler.NewJob(at, gocron.NewTask(func() {
		n, err := runs.CleanupRuns(context.Background(), runRetention)
		if err != nil {
			logger.Error("err cleaning up runs", zap.Error(err))
			return
		}
		logger.Info("old runs deleted", zap.Int64("count", n))
	}), gocron.WithName("cleanup-runs")); err != nil {
		return err
	}

	if cache == nil {
		return nil
	}
	_, err := scheduler.NewJob(at, gocron.NewTask(func() {
		n, err := cache.Prune(context.Background(), cacheRetention)
		if err != nil {
			logger.Error("err pruning cache", zap.Error(err))
			return
		}
		logger.Info("stale cache entries pruned", zap.Int("count", n))
	}), gocron.WithName("prune-cache"))
	return err
}
