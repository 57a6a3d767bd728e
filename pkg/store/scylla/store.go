// Package scylla is the ScyllaDB/Cassandra support.Store. Optimistic saves
// and sequence reservation use lightweight transactions on the channel row.
//
// Appending is two writes: the sequence reservation (LWT) and the message
// insert. A failed insert after a successful reservation leaves a gap in the
// sequence; order is never violated. Readers stop at a gap until it is older
// than gapGrace, so a slow writer's row is not skipped.
package scylla

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

// casRetries bounds how often AppendMessage re-reads last_seq after losing
// the reservation race.
const casRetries = 16

// gapGrace is how long ListMessages waits for a reserved sequence number to
// show up before reading past it.
const gapGrace = 30 * time.Second

type Store struct {
	session *gocql.Session
	now     func() time.Time
}

var _ support.Store = (*Store)(nil)

func New(session *gocql.Session) *Store {
	return &Store{session: session, now: time.Now}
}

const channelColumns = `id, tenant_id, type, status, version, last_seq, created_at, updated_at,
	assignee_id, escalation_reason, resolution_note, participants, joined_at,
	ticket_id, ticket_subject, ticket_category, ticket_priority, ticket_status, ticket_created_at, ticket_updated_at`

func (s *Store) CreateChannel(ctx context.Context, ch *model.Channel) error {
	roles, joined := participantMaps(ch.Participants)
	var t model.Ticket
	if ch.Ticket != nil {
		t = *ch.Ticket
	}

	applied, err := s.session.Query(`INSERT INTO channels (`+channelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		ch.ID, ch.TenantID, string(ch.Type), string(ch.Status), ch.Version, ch.LastSeq, ch.CreatedAt, ch.UpdatedAt,
		ch.AssigneeID, ch.EscalationReason, ch.ResolutionNote, roles, joined,
		t.ID, t.Subject, string(t.Category), string(t.Priority), string(t.Status), t.CreatedAt, t.UpdatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("scylla: create channel %s: %w", ch.ID, err)
	}
	if !applied {
		return fmt.Errorf("scylla: channel %s already exists: %w", ch.ID, support.ErrStoreConflict)
	}
	return s.indexParticipants(ctx, ch)
}

func (s *Store) indexParticipants(ctx context.Context, ch *model.Channel) error {
	batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, p := range ch.Participants {
		batch.Query(`INSERT INTO channels_by_user (user_id, channel_id) VALUES (?, ?)`, p.UserID, ch.ID)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("scylla: index participants of %s: %w", ch.ID, err)
	}
	return nil
}

func (s *Store) LoadChannel(ctx context.Context, id string) (*model.Channel, error) {
	var (
		ch                                             model.Channel
		typ, status                                    string
		roles                                          map[string]string
		joined                                         map[string]time.Time
		ticketID, subject, category, priority, tstatus string
		tcreated, tupdated                             time.Time
	)
	err := s.session.Query(`SELECT `+channelColumns+` FROM channels WHERE id = ?`, id).
		WithContext(ctx).
		Scan(&ch.ID, &ch.TenantID, &typ, &status, &ch.Version, &ch.LastSeq, &ch.CreatedAt, &ch.UpdatedAt,
			&ch.AssigneeID, &ch.EscalationReason, &ch.ResolutionNote, &roles, &joined,
			&ticketID, &subject, &category, &priority, &tstatus, &tcreated, &tupdated)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("scylla: channel %s: %w", id, support.ErrStoreNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scylla: load channel %s: %w", id, err)
	}

	ch.Type = model.ChannelType(typ)
	ch.Status = model.ChannelStatus(status)
	ch.CreatedAt, ch.UpdatedAt = ch.CreatedAt.UTC(), ch.UpdatedAt.UTC()
	for user, role := range roles {
		ch.Participants = append(ch.Participants, model.Participant{UserID: user, Role: model.Role(role), JoinedAt: joined[user].UTC()})
	}
	sort.Slice(ch.Participants, func(i, j int) bool {
		a, b := ch.Participants[i], ch.Participants[j]
		if a.JoinedAt.Equal(b.JoinedAt) {
			return a.UserID < b.UserID
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})
	if ticketID != "" {
		ch.Ticket = &model.Ticket{
			ID:        ticketID,
			ChannelID: ch.ID,
			Subject:   subject,
			Category:  model.TicketCategory(category),
			Priority:  model.TicketPriority(priority),
			Status:    model.ChannelStatus(tstatus),
			CreatedAt: tcreated.UTC(),
			UpdatedAt: tupdated.UTC(),
		}
	}
	return &ch, nil
}

// SaveChannel is a conditional update on version. Participant maps are
// merged, so links are added or have their role rewritten but never removed.
// updated_at never moves backwards: a concurrent append may have bumped it
// past ch.UpdatedAt, in which case the newer value is kept.
func (s *Store) SaveChannel(ctx context.Context, ch *model.Channel, expectedVersion int64) error {
	roles, joined := participantMaps(ch.Participants)
	var t model.Ticket
	if ch.Ticket != nil {
		t = *ch.Ticket
	}

	updated := ch.UpdatedAt
	for i := 0; i < casRetries; i++ {
		current := map[string]interface{}{}
		applied, err := s.session.Query(`UPDATE channels SET
		status = ?, version = ?, updated_at = ?, assignee_id = ?, escalation_reason = ?, resolution_note = ?,
		participants = participants + ?, joined_at = joined_at + ?,
		ticket_subject = ?, ticket_category = ?, ticket_priority = ?, ticket_status = ?, ticket_updated_at = ?
		WHERE id = ? IF version = ? AND updated_at <= ?`,
			string(ch.Status), ch.Version, updated, ch.AssigneeID, ch.EscalationReason, ch.ResolutionNote,
			roles, joined,
			t.Subject, string(t.Category), string(t.Priority), string(t.Status), t.UpdatedAt,
			ch.ID, expectedVersion, updated,
		).WithContext(ctx).MapScanCAS(current)
		if err != nil {
			return fmt.Errorf("scylla: save channel %s: %w", ch.ID, err)
		}
		if applied {
			return s.indexParticipants(ctx, ch)
		}

		v, ok := current["version"].(int64)
		if !ok {
			return fmt.Errorf("scylla: channel %s: %w", ch.ID, support.ErrStoreNotFound)
		}
		if v != expectedVersion {
			return fmt.Errorf("scylla: channel %s moved past version %d: %w", ch.ID, expectedVersion, support.ErrStoreConflict)
		}
		newer, _ := current["updated_at"].(time.Time)
		if !newer.After(updated) {
			return fmt.Errorf("scylla: save channel %s: condition failed without a newer row", ch.ID)
		}
		updated = newer
	}
	return fmt.Errorf("scylla: save channel %s lost to appends %d times: %w", ch.ID, casRetries, support.ErrStoreConflict)
}

// reserveSeq claims the next sequence number with a compare-and-set on
// last_seq, retrying when another writer wins.
func (s *Store) reserveSeq(ctx context.Context, channelID string, at time.Time) (int64, error) {
	for i := 0; i < casRetries; i++ {
		var last int64
		var status string
		var updated time.Time
		err := s.session.Query(`SELECT last_seq, status, updated_at FROM channels WHERE id = ?`, channelID).
			WithContext(ctx).Scan(&last, &status, &updated)
		if errors.Is(err, gocql.ErrNotFound) {
			return 0, support.ErrStoreNotFound
		}
		if err != nil {
			return 0, err
		}
		if model.ChannelStatus(status) == model.StatusArchived {
			return 0, support.ErrStoreArchived
		}
		if updated.After(at) {
			at = updated
		}

		current := map[string]interface{}{}
		applied, err := s.session.Query(`UPDATE channels SET last_seq = ?, updated_at = ? WHERE id = ?
			IF last_seq = ? AND status != ?`,
			last+1, at, channelID, last, string(model.StatusArchived),
		).WithContext(ctx).MapScanCAS(current)
		if err != nil {
			return 0, err
		}
		if applied {
			return last + 1, nil
		}
		if st, _ := current["status"].(string); model.ChannelStatus(st) == model.StatusArchived {
			return 0, support.ErrStoreArchived
		}
	}
	return 0, fmt.Errorf("sequence reservation lost %d times: %w", casRetries, support.ErrStoreConflict)
}

func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	seq, err := s.reserveSeq(ctx, msg.ChannelID, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scylla: append to %s: %w", msg.ChannelID, err)
	}

	out := *msg
	out.Seq = seq
	out.ReadBy = append([]string(nil), msg.ReadBy...)

	var metadata *string
	if len(msg.Metadata) > 0 {
		m := string(msg.Metadata)
		metadata = &m
	}
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages (channel_id, seq, id, sender_id, sender_type, content, metadata, created_at, read_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ChannelID, seq, msg.ID, msg.SenderID, string(msg.SenderType), msg.Content, metadata, msg.CreatedAt, out.ReadBy)
	batch.Query(`INSERT INTO message_ids (id, channel_id, seq) VALUES (?, ?, ?)`, msg.ID, msg.ChannelID, seq)
	if err := s.session.ExecuteBatch(batch); err != nil {
		return nil, fmt.Errorf("scylla: insert message %d: %w", msg.ID, err)
	}
	return &out, nil
}

func (s *Store) ListMessages(ctx context.Context, channelID string, afterSeq int64, limit int) ([]model.Message, error) {
	var exists string
	err := s.session.Query(`SELECT id FROM channels WHERE id = ?`, channelID).WithContext(ctx).Scan(&exists)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("scylla: channel %s: %w", channelID, support.ErrStoreNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scylla: list messages of %s: %w", channelID, err)
	}

	iter := s.session.Query(`SELECT seq, id, sender_id, sender_type, content, metadata, created_at, read_by
		FROM messages WHERE channel_id = ? AND seq > ? LIMIT ?`, channelID, afterSeq, limit).
		WithContext(ctx).Iter()

	var (
		msgs       []model.Message
		m          model.Message
		senderType string
		metadata   *string
	)
	for iter.Scan(&m.Seq, &m.ID, &m.SenderID, &senderType, &m.Content, &metadata, &m.CreatedAt, &m.ReadBy) {
		m.ChannelID = channelID
		m.SenderType = model.SenderType(senderType)
		m.CreatedAt = m.CreatedAt.UTC()
		if metadata != nil {
			m.Metadata = []byte(*metadata)
		}
		msgs = append(msgs, m)
		m, metadata = model.Message{}, nil
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scylla: list messages of %s: %w", channelID, err)
	}
	return contiguous(msgs, afterSeq, s.now()), nil
}

// contiguous cuts msgs at the first sequence gap whose following row is
// younger than gapGrace. The missing row was reserved before that one, so
// once the follower is old enough the gap is a failed insert and safe to
// read past.
func contiguous(msgs []model.Message, afterSeq int64, now time.Time) []model.Message {
	want := afterSeq + 1
	for i, m := range msgs {
		if m.Seq != want && now.Sub(m.CreatedAt) < gapGrace {
			return msgs[:i]
		}
		want = m.Seq + 1
	}
	return msgs
}

type messageKey struct {
	id  int64
	seq int64
}

func (s *Store) MarkRead(ctx context.Context, channelID string, messageIDs []int64, userID string) ([]int64, error) {
	keys := make([]messageKey, 0, len(messageIDs))
	for _, id := range messageIDs {
		var owner string
		var seq int64
		err := s.session.Query(`SELECT channel_id, seq FROM message_ids WHERE id = ?`, id).WithContext(ctx).Scan(&owner, &seq)
		if errors.Is(err, gocql.ErrNotFound) || (err == nil && owner != channelID) {
			return nil, fmt.Errorf("scylla: message %d in %s: %w", id, channelID, support.ErrStoreNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("scylla: look up message %d: %w", id, err)
		}
		keys = append(keys, messageKey{id: id, seq: seq})
	}

	var changed []int64
	for _, k := range keys {
		var readBy []string
		err := s.session.Query(`SELECT read_by FROM messages WHERE channel_id = ? AND seq = ?`, channelID, k.seq).
			WithContext(ctx).Scan(&readBy)
		if err != nil {
			return nil, fmt.Errorf("scylla: read set of %d: %w", k.id, err)
		}
		if contains(readBy, userID) {
			continue
		}
		err = s.session.Query(`UPDATE messages SET read_by = read_by + ? WHERE channel_id = ? AND seq = ?`,
			[]string{userID}, channelID, k.seq).WithContext(ctx).Exec()
		if err != nil {
			return nil, fmt.Errorf("scylla: mark %d read: %w", k.id, err)
		}
		changed = append(changed, k.id)
	}
	return changed, nil
}

// ListChannelsForUser returns the user's channels, most recently active first.
func (s *Store) ListChannelsForUser(ctx context.Context, userID string) ([]*model.Channel, error) {
	iter := s.session.Query(`SELECT channel_id FROM channels_by_user WHERE user_id = ?`, userID).WithContext(ctx).Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scylla: channels of %s: %w", userID, err)
	}

	out := make([]*model.Channel, 0, len(ids))
	for _, id := range ids {
		ch, err := s.LoadChannel(ctx, id)
		if errors.Is(err, support.ErrStoreNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func participantMaps(ps []model.Participant) (map[string]string, map[string]time.Time) {
	roles := make(map[string]string, len(ps))
	joined := make(map[string]time.Time, len(ps))
	for _, p := range ps {
		roles[p.UserID] = string(p.Role)
		joined[p.UserID] = p.JoinedAt
	}
	return roles, joined
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
