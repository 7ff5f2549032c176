package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/topoclimb/topoclimb/internal/jobs"
)

type fakeRefresher struct {
	sectors int64
	err     error
	calls   int
}

func (f *fakeRefresher) RefreshStats(context.Context) (int64, error) {
	f.calls++
	return f.sectors, f.err
}

// gathered sums the samples of a counter or gauge family.
func gathered(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}

func TestStatsRefreshJobHandle(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	service := &fakeRefresher{sectors: 14}
	job := NewStatsRefreshJob(service, nil, metrics)
	job.WithClock(func() time.Time { return time.Unix(1717243200, 0).UTC() })

	task, err := NewStatsRefreshTask("manual", 3)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, service.calls)

	assert.Equal(t, 14.0, gathered(t, registry, "topoclimb_sector_stats_sectors"))
	assert.Equal(t, 1717243200.0, gathered(t, registry, "topoclimb_sector_stats_refreshed_timestamp_seconds"))
	assert.Equal(t, 1.0, gathered(t, registry, "topoclimb_jobs_total"))
}

func TestStatsRefreshJobFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	service := &fakeRefresher{err: errors.New("db down")}
	job := NewStatsRefreshJob(service, nil, jobmetrics.NewMetrics(registry))

	task, err := NewStatsRefreshTask("", 0)
	require.NoError(t, err)
	assert.EqualError(t, job.Handle(context.Background(), task), "db down")

	assert.Equal(t, 1.0, gathered(t, registry, "topoclimb_jobs_failures_total"))
	assert.Zero(t, gathered(t, registry, "topoclimb_sector_stats_sectors"))
}

func TestStatsRefreshJobRejectsBadPayload(t *testing.T) {
	service := &fakeRefresher{}
	job := NewStatsRefreshJob(service, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(TaskCatalogStatsRefresh, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, service.calls)

	var unconfigured *StatsRefreshJob
	assert.Error(t, unconfigured.Handle(context.Background(), asynq.NewTask(TaskCatalogStatsRefresh, nil)))
}
