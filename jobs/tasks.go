package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCatalogStatsRefresh rebuilds the per-sector route statistics.
	TaskCatalogStatsRefresh = "catalog:stats_refresh"
)

// StatsRefreshPayload describes why a statistics refresh was requested.
type StatsRefreshPayload struct {
	Reason      string `json:"reason"`
	RequestedBy int64  `json:"requested_by,omitempty"`
}

// NewStatsRefreshTask constructs the Asynq task for a statistics refresh.
func NewStatsRefreshTask(reason string, requestedBy int64) (*asynq.Task, error) {
	if reason == "" {
		reason = "schedule"
	}
	body, err := json.Marshal(StatsRefreshPayload{Reason: reason, RequestedBy: requestedBy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogStatsRefresh, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	), nil
}
