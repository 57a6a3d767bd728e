// Package support implements the support channel lifecycle: the state
// machine, the authorization policy, the ordered message log and the
// escalation engine. Storage, real-time delivery and the platform queue are
// collaborators behind the interfaces in ports.go.
package support

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/snowflake"
)

type Service struct {
	store     Store
	publisher Publisher
	queue     PlatformQueue
	ids       IDGenerator
	now       func() time.Time
	logger    *slog.Logger
	locks     *channelLocks
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithPlatformQueue(q PlatformQueue) Option { return func(s *Service) { s.queue = q } }

func WithIDGenerator(g IDGenerator) Option { return func(s *Service) { s.ids = g } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: nopPublisher{},
		queue:     nopQueue{},
		now:       time.Now,
		logger:    slog.Default(),
		locks:     newChannelLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ids == nil {
		node, _ := snowflake.NewNode(0)
		s.ids = node
	}
	return s
}

// stamp returns a server timestamp strictly after prev. Millisecond
// precision keeps every backend's timestamp column lossless.
func (s *Service) stamp(prev time.Time) time.Time {
	now := s.now().UTC().Truncate(time.Millisecond)
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

func (s *Service) load(ctx context.Context, id string) (*model.Channel, error) {
	if id == "" {
		return nil, &ValidationError{Field: "channel_id", Reason: "is required"}
	}
	ch, err := s.store.LoadChannel(ctx, id)
	if errors.Is(err, ErrStoreNotFound) {
		return nil, &NotFoundError{Kind: "channel", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *Service) save(ctx context.Context, ch *model.Channel, expected int64) error {
	err := s.store.SaveChannel(ctx, ch, expected)
	switch {
	case errors.Is(err, ErrStoreConflict):
		return &ConcurrencyConflictError{ChannelID: ch.ID, ExpectedVersion: expected}
	case errors.Is(err, ErrStoreNotFound):
		return &NotFoundError{Kind: "channel", ID: ch.ID}
	}
	return err
}

func (s *Service) publish(ctx context.Context, ev model.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	if err := s.publisher.Publish(ctx, ev.ChannelID, ev); err != nil {
		s.logger.Warn("publish event failed", "channel_id", ev.ChannelID, "type", ev.Type, "error", err)
	}
}

// syncPlatformQueue tells the platform queue about channels that are, or
// just stopped being, in it. Failures only delay the queue view; the channel
// state is already committed.
func (s *Service) syncPlatformQueue(ctx context.Context, before, after *model.Channel) {
	wasQueued := before != nil && before.InPlatformQueue()
	if !wasQueued && !after.InPlatformQueue() {
		return
	}
	if err := s.queue.Reconcile(ctx, after.ID); err != nil {
		s.logger.Warn("platform queue reconcile failed", "channel_id", after.ID, "error", err)
	}
}

// GetChannel returns a channel the actor may read.
func (s *Service) GetChannel(ctx context.Context, actor model.Actor, channelID string) (*model.Channel, error) {
	ch, err := s.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, ch, ActionRead); err != nil {
		return nil, err
	}
	return ch, nil
}

// ListChannelsForUser returns the channels the actor participates in. This
// is the durable membership list realtime subscriptions are rebuilt from.
func (s *Service) ListChannelsForUser(ctx context.Context, actor model.Actor) ([]*model.Channel, error) {
	if actor.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	return s.store.ListChannelsForUser(ctx, actor.UserID)
}
