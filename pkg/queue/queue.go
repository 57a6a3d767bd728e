// Package queue moves platform-queue maintenance off the request path. The
// API enqueues a reconcile task per affected channel; the messaging worker
// re-reads the channel and updates the Redis queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

const (
	TypeReconcile = "platform:reconcile"
	QueueName     = "platform"
)

type reconcilePayload struct {
	ChannelID string `json:"channel_id"`
}

func NewReconcileTask(channelID string) (*asynq.Task, error) {
	payload, err := json.Marshal(reconcilePayload{ChannelID: channelID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReconcile, payload, asynq.Queue(QueueName), asynq.MaxRetry(5)), nil
}

// Client enqueues reconcile tasks. It satisfies support.PlatformQueue.
type Client struct {
	client *asynq.Client
}

func NewClient(redisAddr string) *Client {
	return &Client{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func (c *Client) Reconcile(ctx context.Context, channelID string) error {
	task, err := NewReconcileTask(channelID)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("queue: enqueue reconcile %s: %w", channelID, err)
	}
	return nil
}

func (c *Client) Close() error { return c.client.Close() }

// Loader reads the current state of a channel.
type Loader interface {
	LoadChannel(ctx context.Context, id string) (*model.Channel, error)
}

// Syncer applies a channel's state to the platform queue.
type Syncer interface {
	Sync(ctx context.Context, ch *model.Channel) error
	Remove(ctx context.Context, channelID string) error
}

// ReconcileHandler processes TypeReconcile tasks.
type ReconcileHandler struct {
	store  Loader
	queue  Syncer
	logger *slog.Logger
}

func NewReconcileHandler(store Loader, queue Syncer, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{store: store, queue: queue, logger: logger}
}

func (h *ReconcileHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p reconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.ChannelID == "" {
		return fmt.Errorf("queue: bad reconcile payload %q: %w", t.Payload(), asynq.SkipRetry)
	}
	return h.Reconcile(ctx, p.ChannelID)
}

// Reconcile re-reads the channel and updates the platform queue right away.
// It satisfies support.PlatformQueue for processes that own their store, such
// as the API on the in-memory backend, where a separate worker would see an
// empty store.
func (h *ReconcileHandler) Reconcile(ctx context.Context, channelID string) error {
	ch, err := h.store.LoadChannel(ctx, channelID)
	if errors.Is(err, support.ErrStoreNotFound) {
		h.logger.Warn("reconcile for unknown channel", "channel_id", channelID)
		return h.queue.Remove(ctx, channelID)
	}
	if err != nil {
		return err
	}
	if err := h.queue.Sync(ctx, ch); err != nil {
		return err
	}
	h.logger.Info("platform queue reconciled", "channel_id", ch.ID, "status", ch.Status, "queued", ch.InPlatformQueue())
	return nil
}

// Server runs reconcile handlers until its context ends.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redisAddr string, concurrency int, h *ReconcileHandler, logger *slog.Logger) *Server {
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      asynqLogger{logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", "type", task.Type(), "payload", string(task.Payload()), "error", err)
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypeReconcile, h)
	return &Server{server: srv, mux: mux}
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("queue: start worker: %w", err)
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

// asynqLogger routes asynq's own logging into slog.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...), "component", "asynq") }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...), "component", "asynq") }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...), "component", "asynq") }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...), "component", "asynq") }
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...), "component", "asynq")
	panic(fmt.Sprint(args...))
}
