package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/topoclimb/topoclimb/internal/jobs"
)

// StatsRefresher rebuilds sector statistics and reports how many sectors
// were covered.
type StatsRefresher interface {
	RefreshStats(ctx context.Context) (int64, error)
}

// StatsRefreshJob runs TaskCatalogStatsRefresh.
type StatsRefreshJob struct {
	Service StatsRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStatsRefreshJob constructs the job handler.
func NewStatsRefreshJob(service StatsRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatsRefreshJob {
	return &StatsRefreshJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the refresh.
func (j *StatsRefreshJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("stats refresh: dependencies not configured")
	}
	var payload StatsRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("stats refresh payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskCatalogStatsRefresh)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	sectors, err := j.Service.RefreshStats(ctx)
	if err != nil {
		j.log().Error("refresh sector stats", slog.String("reason", payload.Reason), slog.Any("error", err))
		return err
	}
	j.metrics().ObserveStatsRefresh(sectors, j.now())
	j.log().Info("refreshed sector stats",
		slog.String("reason", payload.Reason),
		slog.Int64("requested_by", payload.RequestedBy),
		slog.Int64("sectors", sectors),
		slog.Duration("duration", j.now().Sub(start)))
	return nil
}

func (j *StatsRefreshJob) metrics() *jobmetrics.Metrics {
	if j == nil {
		return nil
	}
	return j.Metrics
}

func (j *StatsRefreshJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCatalogStatsRefresh))
	}
	return slog.Default().With(slog.String("job", TaskCatalogStatsRefresh))
}

func (j *StatsRefreshJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *StatsRefreshJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
