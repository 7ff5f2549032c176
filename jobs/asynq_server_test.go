package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topoclimb/topoclimb/internal/shared"
	"github.com/topoclimb/topoclimb/internal/view"
)

func TestClientEnqueueStatsRefresh(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	info, err := client.EnqueueStatsRefresh(context.Background(), "manual", 9)
	require.NoError(t, err)
	assert.Equal(t, TaskCatalogStatsRefresh, info.Type)
	assert.Equal(t, QueueDefault, info.Queue)
	assert.Equal(t, 3, info.MaxRetry)

	var payload StatsRefreshPayload
	require.NoError(t, json.Unmarshal(info.Payload, &payload))
	assert.Equal(t, StatsRefreshPayload{Reason: "manual", RequestedBy: 9}, payload)

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{info.ID}, pending)
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) Queues() ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var names []string
	for name := range f.infos {
		names = append(names, name)
	}
	return names, nil
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.infos[queue], nil
}

type fakeEnqueuer struct {
	reason string
	userID int64
	err    error
}

func (f *fakeEnqueuer) EnqueueStatsRefresh(_ context.Context, reason string, requestedBy int64) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.reason, f.userID = reason, requestedBy
	return &asynq.TaskInfo{ID: "task-1", Type: TaskCatalogStatsRefresh}, nil
}

func newJobsRouter(t *testing.T, inspector QueueInspector, client Enqueuer) (http.Handler, *shared.Session) {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	csrf, err := shared.NewCSRFManager(shared.CSRFOptions{})
	require.NoError(t, err)
	sm := shared.NewSessionManager(shared.NewMemoryBackend(time.Hour), "s", "", time.Hour, false)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("5")

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/admin/jobs", NewHandler(inspector, client, templates, csrf, nil).MountRoutes)
	return r, sess
}

func TestHandlerHealth(t *testing.T) {
	inspector := fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueDefault: {Queue: QueueDefault, Pending: 2, Active: 1, Retry: 1},
	}}
	router, _ := newJobsRouter(t, inspector, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []QueueStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []QueueStatus{{Queue: QueueDefault, Pending: 2, Active: 1, Retry: 1}}, body.Data)

	router, _ = newJobsRouter(t, fakeInspector{err: errors.New("redis gone")}, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/jobs/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandlerStatusPage(t *testing.T) {
	inspector := fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueDefault: {Queue: QueueDefault, Pending: 7},
	}}
	router, _ := newJobsRouter(t, inspector, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "healthy")
	assert.Contains(t, body, "<td>default</td><td>7</td>")
	assert.Contains(t, body, `action="/admin/jobs/stats"`)

	router, _ = newJobsRouter(t, nil, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable")
}

func TestHandlerRefreshStats(t *testing.T) {
	client := &fakeEnqueuer{}
	router, sess := newJobsRouter(t, fakeInspector{}, client)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/jobs/stats", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/jobs", rec.Header().Get("Location"))
	assert.Equal(t, "manual", client.reason)
	assert.Equal(t, int64(5), client.userID)
	assert.Equal(t, &shared.FlashMessage{Kind: "success", Message: "Statistics refresh queued"}, sess.PopFlash())

	client.err = errors.New("redis gone")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/jobs/stats", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "error", sess.PopFlash().Kind)
}

func TestRedisConnOpt(t *testing.T) {
	opt, err := RedisConnOpt("127.0.0.1:6379")
	require.NoError(t, err)
	assert.Equal(t, asynq.RedisClientOpt{Addr: "127.0.0.1:6379"}, opt)

	opt, err = RedisConnOpt("redis://:pw@cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, asynq.RedisClientOpt{Addr: "cache:6380", Password: "pw", DB: 2}, opt)

	_, err = RedisConnOpt("")
	assert.Error(t, err)
}
