// Package memory is a process-local support.Store used by tests and by
// single-node development setups.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

type Store struct {
	mu       sync.RWMutex
	channels map[string]*model.Channel
	messages map[string][]*model.Message
	byID     map[int64]*model.Message
}

var _ support.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		channels: make(map[string]*model.Channel),
		messages: make(map[string][]*model.Message),
		byID:     make(map[int64]*model.Message),
	}
}

func (s *Store) CreateChannel(_ context.Context, ch *model.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[ch.ID]; ok {
		return fmt.Errorf("memory: channel %s already exists: %w", ch.ID, support.ErrStoreConflict)
	}
	s.channels[ch.ID] = ch.Clone()
	return nil
}

func (s *Store) LoadChannel(_ context.Context, id string) (*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, fmt.Errorf("memory: channel %s: %w", id, support.ErrStoreNotFound)
	}
	return ch.Clone(), nil
}

// SaveChannel replaces the stored channel when its version still matches.
// LastSeq belongs to AppendMessage and is never taken from ch.
func (s *Store) SaveChannel(_ context.Context, ch *model.Channel, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.channels[ch.ID]
	if !ok {
		return fmt.Errorf("memory: channel %s: %w", ch.ID, support.ErrStoreNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("memory: channel %s at version %d, expected %d: %w", ch.ID, cur.Version, expectedVersion, support.ErrStoreConflict)
	}
	next := ch.Clone()
	next.LastSeq = cur.LastSeq
	if cur.UpdatedAt.After(next.UpdatedAt) {
		next.UpdatedAt = cur.UpdatedAt
	}
	s.channels[ch.ID] = next
	return nil
}

func (s *Store) AppendMessage(_ context.Context, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[msg.ChannelID]
	if !ok {
		return nil, fmt.Errorf("memory: channel %s: %w", msg.ChannelID, support.ErrStoreNotFound)
	}
	if ch.Status == model.StatusArchived {
		return nil, fmt.Errorf("memory: channel %s: %w", msg.ChannelID, support.ErrStoreArchived)
	}

	ch.LastSeq++
	if msg.CreatedAt.After(ch.UpdatedAt) {
		ch.UpdatedAt = msg.CreatedAt
	}

	stored := cloneMessage(msg)
	stored.Seq = ch.LastSeq
	s.messages[ch.ID] = append(s.messages[ch.ID], stored)
	s.byID[stored.ID] = stored
	return cloneMessage(stored), nil
}

func (s *Store) ListMessages(_ context.Context, channelID string, afterSeq int64, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.channels[channelID]; !ok {
		return nil, fmt.Errorf("memory: channel %s: %w", channelID, support.ErrStoreNotFound)
	}
	if limit <= 0 {
		return nil, nil
	}
	log := s.messages[channelID]
	start := sort.Search(len(log), func(i int) bool { return log[i].Seq > afterSeq })

	out := make([]model.Message, 0, min(limit, len(log)-start))
	for _, m := range log[start:] {
		if len(out) == limit {
			break
		}
		out = append(out, *cloneMessage(m))
	}
	return out, nil
}

// MarkRead is all-or-nothing: an unknown id, or one from another channel,
// fails the whole call before anything changes.
func (s *Store) MarkRead(_ context.Context, channelID string, messageIDs []int64, userID string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range messageIDs {
		m, ok := s.byID[id]
		if !ok || m.ChannelID != channelID {
			return nil, fmt.Errorf("memory: message %d in channel %s: %w", id, channelID, support.ErrStoreNotFound)
		}
	}

	var changed []int64
	for _, id := range messageIDs {
		m := s.byID[id]
		if m.HasRead(userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, userID)
		changed = append(changed, id)
	}
	return changed, nil
}

// ListChannelsForUser returns the user's channels, most recently active first.
func (s *Store) ListChannelsForUser(_ context.Context, userID string) ([]*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Channel
	for _, ch := range s.channels {
		if ch.HasParticipant(userID) {
			out = append(out, ch.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func cloneMessage(m *model.Message) *model.Message {
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	if m.Metadata != nil {
		out.Metadata = append([]byte(nil), m.Metadata...)
	}
	return &out
}
