package support

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/mahaj/dupahar-support/pkg/model"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

type PostMessageInput struct {
	ChannelID string          `json:"channel_id"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// PostMessage appends a message to the channel log. The channel lock makes
// acceptance order and sequence order the same within this process; the
// store's atomic increment covers other processes. Fan-out happens after the
// lock is released, so a stalled bus only delays this caller.
func (s *Service) PostMessage(ctx context.Context, actor model.Actor, in PostMessageInput) (*model.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, &ValidationError{Field: "content", Reason: "must not be blank"}
	}
	if len(in.Metadata) > 0 && !json.Valid(in.Metadata) {
		return nil, &ValidationError{Field: "metadata", Reason: "must be valid JSON"}
	}

	stored, err := s.appendMessage(ctx, actor, in)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("message appended", "channel_id", stored.ChannelID, "seq", stored.Seq, "sender", actor.UserID)
	s.publish(ctx, model.Event{
		Type:      model.EventNewMessage,
		ChannelID: stored.ChannelID,
		UserID:    actor.UserID,
		Message:   stored,
		Timestamp: stored.CreatedAt,
	})
	return stored, nil
}

func (s *Service) appendMessage(ctx context.Context, actor model.Actor, in PostMessageInput) (*model.Message, error) {
	unlock, err := s.locks.lock(ctx, in.ChannelID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ch, err := s.load(ctx, in.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, ch, ActionWrite); err != nil {
		return nil, err
	}
	if err := requireState(ch, ActionWrite); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:         s.ids.Generate(),
		ChannelID:  ch.ID,
		SenderID:   actor.UserID,
		SenderType: EffectiveRole(actor, ch).SenderType(),
		Content:    in.Content,
		Metadata:   in.Metadata,
		CreatedAt:  s.stamp(ch.UpdatedAt),
		ReadBy:     []string{actor.UserID},
	}

	stored, err := s.store.AppendMessage(ctx, msg)
	switch {
	case errors.Is(err, ErrStoreArchived):
		return nil, &InvalidTransitionError{ChannelID: ch.ID, From: model.StatusArchived, Action: ActionWrite}
	case errors.Is(err, ErrStoreNotFound):
		return nil, &NotFoundError{Kind: "channel", ID: ch.ID}
	case err != nil:
		return nil, err
	}
	return stored, nil
}

// MarkRead adds the actor to the read set of each message. Repeating the
// call changes nothing and publishes nothing.
func (s *Service) MarkRead(ctx context.Context, actor model.Actor, channelID string, messageIDs []int64) ([]int64, error) {
	ids := dedupe(messageIDs)
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "message_ids", Reason: "at least one message id is required"}
	}

	ch, err := s.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, ch, ActionRead); err != nil {
		return nil, err
	}

	changed, err := s.store.MarkRead(ctx, ch.ID, ids, actor.UserID)
	if errors.Is(err, ErrStoreNotFound) {
		return nil, &NotFoundError{Kind: "message", ID: joinIDs(ids)}
	}
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		s.publish(ctx, model.Event{
			Type:       model.EventMessagesRead,
			ChannelID:  ch.ID,
			UserID:     actor.UserID,
			MessageIDs: changed,
		})
	}
	return changed, nil
}

// ListMessages returns up to limit messages with Seq > afterSeq in ascending
// sequence order. Reconnecting clients page through this instead of relying
// on missed real-time events.
func (s *Service) ListMessages(ctx context.Context, actor model.Actor, channelID string, afterSeq int64, limit int) ([]model.Message, error) {
	if afterSeq < 0 {
		return nil, &ValidationError{Field: "after_seq", Reason: "must not be negative"}
	}
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	ch, err := s.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, ch, ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, ch.ID, afterSeq, limit)
}

// SignalTyping fans out an ephemeral typing indicator. Nothing is stored.
func (s *Service) SignalTyping(ctx context.Context, actor model.Actor, channelID string, typing bool) error {
	ch, err := s.load(ctx, channelID)
	if err != nil {
		return err
	}
	if err := authorize(actor, ch, ActionWrite); err != nil {
		return err
	}
	if err := requireState(ch, ActionWrite); err != nil {
		return err
	}

	typ := model.EventTyping
	if !typing {
		typ = model.EventStopTyping
	}
	s.publish(ctx, model.Event{Type: typ, ChannelID: ch.ID, UserID: actor.UserID})
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
