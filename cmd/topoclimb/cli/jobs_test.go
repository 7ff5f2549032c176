package cli

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/topoclimb/topoclimb/jobs"
)

func TestTriggerStatsRefresh(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })

	info, err := c.Trigger(context.Background(), "stats")
	require.NoError(t, err)
	require.Equal(t, jobs.TaskCatalogStatsRefresh, info.Type)
	require.Equal(t, jobs.QueueDefault, info.Queue)

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	require.Equal(t, []string{info.ID}, pending)
}

func TestTriggerUnknownJob(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Trigger(context.Background(), "consol:refresh")
	require.EqualError(t, err, "jobs cli: unsupported job consol:refresh")

	var nilCLI *JobsCLI
	_, err = nilCLI.Trigger(context.Background(), "stats")
	require.Error(t, err)
}
