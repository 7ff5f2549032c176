package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/topoclimb/topoclimb/internal/platform/httpx"
	"github.com/topoclimb/topoclimb/internal/shared"
	"github.com/topoclimb/topoclimb/internal/view"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisConnOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", slog.String("type", task.Type()), slog.Any("error", err))
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	w.logger.Info("worker started")
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisConnOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueStatsRefresh enqueues a sector statistics refresh.
func (c *Client) EnqueueStatsRefresh(ctx context.Context, reason string, requestedBy int64) (*asynq.TaskInfo, error) {
	task, err := NewStatsRefreshTask(reason, requestedBy)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Enqueuer is the subset of Client used by the HTTP handler.
type Enqueuer interface {
	EnqueueStatsRefresh(ctx context.Context, reason string, requestedBy int64) (*asynq.TaskInfo, error)
}

// QueueInspector is the subset of asynq.Inspector used by the HTTP handler.
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueStatus is a queue row on the admin page.
type QueueStatus struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	client    Enqueuer
	templates *view.Engine
	csrf      *shared.CSRFManager
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, client Enqueuer, templates *view.Engine, csrf *shared.CSRFManager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, client: client, templates: templates, csrf: csrf, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showStatus)
	r.Get("/health", h.health)
	r.Post("/stats", h.refreshStats)
}

func (h *Handler) queues() ([]QueueStatus, error) {
	if h.inspector == nil {
		return nil, errors.New("queue inspector not configured")
	}
	names, err := h.inspector.Queues()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = []string{QueueDefault}
	}
	out := make([]QueueStatus, 0, len(names))
	for _, name := range names {
		info, err := h.inspector.GetQueueInfo(name)
		if err != nil {
			return nil, err
		}
		out = append(out, QueueStatus{
			Queue:     info.Queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Failed:    info.Failed,
		})
	}
	return out, nil
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	queues, err := h.queues()
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue unavailable", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": queues})
}

func (h *Handler) showStatus(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Healthy": true}
	queues, err := h.queues()
	if err != nil {
		h.logger.Warn("jobs status", slog.Any("error", err))
		data["Healthy"] = false
		data["Error"] = "The job queue could not be reached."
	}
	data["Queues"] = queues

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.Render(w, "pages/admin_jobs.html", view.NewTemplateData(r, "Background jobs", csrfToken, data)); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) refreshStats(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	flash := shared.FlashMessage{Kind: "success", Message: "Statistics refresh queued"}
	if h.client == nil {
		flash = shared.FlashMessage{Kind: "error", Message: "Background jobs are not configured"}
	} else {
		userID, _ := shared.CurrentUserID(r.Context())
		info, err := h.client.EnqueueStatsRefresh(r.Context(), "manual", userID)
		if err != nil {
			h.logger.Error("enqueue stats refresh", slog.Any("error", err))
			flash = shared.FlashMessage{Kind: "error", Message: "Could not queue the statistics refresh"}
		} else {
			h.logger.Info("stats refresh queued", slog.String("task_id", info.ID), slog.Int64("user_id", userID))
		}
	}
	if sess != nil {
		sess.AddFlash(flash)
	}
	http.Redirect(w, r, "/admin/jobs", http.StatusSeeOther)
}
