// Package storetest holds behaviour checks shared by every support.Store
// backend. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

// Run exercises a fresh store from newStore in each subtest.
func Run(t *testing.T, newStore func(t *testing.T) support.Store) {
	t.Run("CreateLoad", func(t *testing.T) { testCreateLoad(t, newStore(t)) })
	t.Run("SaveVersionCheck", func(t *testing.T) { testSaveVersionCheck(t, newStore(t)) })
	t.Run("AppendAssignsSeq", func(t *testing.T) { testAppendAssignsSeq(t, newStore(t)) })
	t.Run("AppendArchived", func(t *testing.T) { testAppendArchived(t, newStore(t)) })
	t.Run("ListMessagesPaging", func(t *testing.T) { testListMessagesPaging(t, newStore(t)) })
	t.Run("ListMessagesResume", func(t *testing.T) { testListMessagesResume(t, newStore(t)) })
	t.Run("SaveRewritesRole", func(t *testing.T) { testSaveRewritesRole(t, newStore(t)) })
	t.Run("SaveKeepsNewerUpdatedAt", func(t *testing.T) { testSaveKeepsNewerUpdatedAt(t, newStore(t)) })
	t.Run("MarkRead", func(t *testing.T) { testMarkRead(t, newStore(t)) })
	t.Run("ListChannelsForUser", func(t *testing.T) { testListChannelsForUser(t, newStore(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Channel builds a valid ACTIVE channel for store tests.
func Channel(id string, users ...string) *model.Channel {
	ch := &model.Channel{
		ID:        id,
		TenantID:  "tenant-1",
		Type:      model.ChannelSupport,
		Status:    model.StatusActive,
		Version:   1,
		CreatedAt: base,
		UpdatedAt: base,
		Ticket: &model.Ticket{
			ID:        id + "-ticket",
			ChannelID: id,
			Subject:   "cannot join tournament",
			Category:  model.CategoryTournamentIssue,
			Priority:  model.PriorityHigh,
			Status:    model.StatusActive,
			CreatedAt: base,
			UpdatedAt: base,
		},
	}
	for _, u := range users {
		ch.Participants = append(ch.Participants, model.Participant{UserID: u, Role: model.RoleParticipant, JoinedAt: base})
	}
	return ch
}

func message(id int64, channelID, sender string, at time.Time) *model.Message {
	return &model.Message{
		ID:         id,
		ChannelID:  channelID,
		SenderID:   sender,
		SenderType: model.SenderParticipant,
		Content:    fmt.Sprintf("message %d", id),
		CreatedAt:  at,
		ReadBy:     []string{sender},
	}
}

func mustCreate(t *testing.T, s support.Store, ch *model.Channel) {
	t.Helper()
	if err := s.CreateChannel(context.Background(), ch); err != nil {
		t.Fatalf("CreateChannel(%s): %v", ch.ID, err)
	}
}

func testCreateLoad(t *testing.T, s support.Store) {
	ctx := context.Background()
	ch := Channel("c1", "u1", "u2")
	mustCreate(t, s, ch)

	got, err := s.LoadChannel(ctx, "c1")
	if err != nil {
		t.Fatalf("LoadChannel: %v", err)
	}
	if got.Status != model.StatusActive || got.Version != 1 || got.TenantID != "tenant-1" {
		t.Fatalf("loaded channel = %+v", got)
	}
	if len(got.Participants) != 2 || !got.HasParticipant("u2") {
		t.Fatalf("participants = %+v", got.Participants)
	}
	if got.Ticket == nil || got.Ticket.Priority != model.PriorityHigh || got.Ticket.Category != model.CategoryTournamentIssue {
		t.Fatalf("ticket = %+v", got.Ticket)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, base)
	}

	if _, err := s.LoadChannel(ctx, "missing"); !errors.Is(err, support.ErrStoreNotFound) {
		t.Fatalf("LoadChannel(missing) err = %v, want ErrStoreNotFound", err)
	}
	if err := s.CreateChannel(ctx, Channel("c1", "u1")); err == nil {
		t.Fatal("duplicate CreateChannel succeeded")
	}
}

func testSaveVersionCheck(t *testing.T, s support.Store) {
	ctx := context.Background()
	mustCreate(t, s, Channel("c1", "u1"))

	next, _ := s.LoadChannel(ctx, "c1")
	next.Status = model.StatusEscalated
	next.EscalationReason = "needs platform help"
	next.Version = 2
	next.UpdatedAt = base.Add(time.Second)
	next.Ticket.Status = model.StatusEscalated
	next.Participants = append(next.Participants, model.Participant{UserID: "admin", Role: model.RoleSuperAdmin, JoinedAt: next.UpdatedAt})
	if err := s.SaveChannel(ctx, next, 1); err != nil {
		t.Fatalf("SaveChannel: %v", err)
	}

	stale := next.Clone()
	stale.Status = model.StatusResolved
	stale.Version = 2
	if err := s.SaveChannel(ctx, stale, 1); !errors.Is(err, support.ErrStoreConflict) {
		t.Fatalf("stale SaveChannel err = %v, want ErrStoreConflict", err)
	}

	got, _ := s.LoadChannel(ctx, "c1")
	if got.Status != model.StatusEscalated || got.Version != 2 || got.EscalationReason != "needs platform help" {
		t.Fatalf("after save = %+v", got)
	}
	if got.Ticket == nil || got.Ticket.Status != model.StatusEscalated {
		t.Fatalf("ticket after save = %+v", got.Ticket)
	}
	if !got.HasParticipant("admin") {
		t.Fatal("added participant not persisted")
	}

	missing := Channel("nope", "u1")
	if err := s.SaveChannel(ctx, missing, 1); !errors.Is(err, support.ErrStoreNotFound) {
		t.Fatalf("SaveChannel(missing) err = %v, want ErrStoreNotFound", err)
	}
}

func testAppendAssignsSeq(t *testing.T, s support.Store) {
	ctx := context.Background()
	mustCreate(t, s, Channel("c1", "u1"))
	mustCreate(t, s, Channel("c2", "u1"))

	for i := int64(1); i <= 3; i++ {
		m, err := s.AppendMessage(ctx, message(100+i, "c1", "u1", base.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if m.Seq != i {
			t.Fatalf("seq = %d, want %d", m.Seq, i)
		}
	}
	other, err := s.AppendMessage(ctx, message(200, "c2", "u1", base.Add(time.Second)))
	if err != nil {
		t.Fatalf("AppendMessage(c2): %v", err)
	}
	if other.Seq != 1 {
		t.Fatalf("c2 seq = %d, want 1", other.Seq)
	}

	ch, _ := s.LoadChannel(ctx, "c1")
	if ch.LastSeq != 3 {
		t.Fatalf("last_seq = %d, want 3", ch.LastSeq)
	}
	if !ch.UpdatedAt.Equal(base.Add(3 * time.Second)) {
		t.Fatalf("updated_at = %v, want bump to last message", ch.UpdatedAt)
	}

	// A transition saved from a copy loaded before the appends must not
	// rewind the sequence counter.
	ch.Version = 2
	ch.LastSeq = 0
	if err := s.SaveChannel(ctx, ch, 1); err != nil {
		t.Fatalf("SaveChannel: %v", err)
	}
	m, err := s.AppendMessage(ctx, message(104, "c1", "u1", base.Add(4*time.Second)))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if m.Seq != 4 {
		t.Fatalf("seq after save = %d, want 4", m.Seq)
	}

	if _, err := s.AppendMessage(ctx, message(300, "missing", "u1", base)); !errors.Is(err, support.ErrStoreNotFound) {
		t.Fatalf("AppendMessage(missing) err = %v, want ErrStoreNotFound", err)
	}
}

func testAppendArchived(t *testing.T, s support.Store) {
	ctx := context.Background()
	mustCreate(t, s, Channel("c1", "u1"))
	ch, _ := s.LoadChannel(ctx, "c1")
	ch.Status = model.StatusArchived
	ch.Version = 2
	if err := s.SaveChannel(ctx, ch, 1); err != nil {
		t.Fatalf("SaveChannel: %v", err)
	}
	if _, err := s.AppendMessage(ctx, message(1, "c1", "u1", base.Add(time.Second))); !errors.Is(err, support.ErrStoreArchived) {
		t.Fatalf("AppendMessage(archived) err = %v, want ErrStoreArchived", err)
	}
	msgs, err := s.ListMessages(ctx, "c1", 0, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("archived channel has %d messages", len(msgs))
	}
}

func testListMessagesPaging(t *testing.T, s support.Store) {
	ctx := context.Background()
	mustCreate(t, s, Channel("c1", "u1"))
	for i := int64(1); i <= 5; i++ {
		if _, err := s.AppendMessage(ctx, message(i, "c1", "u1", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	tests := []struct {
		after    int64
		limit    int
		wantSeqs []int64
	}{
		{0, 10, []int64{1, 2, 3, 4, 5}},
		{0, 2, []int64{1, 2}},
		{2, 2, []int64{3, 4}},
		{4, 10, []int64{5}},
		{5, 10, nil},
	}
	for _, tt := range tests {
		msgs, err := s.ListMessages(ctx, "c1", tt.after, tt.limit)
		if err != nil {
			t.Fatalf("ListMessages(%d, %d): %v", tt.after, tt.limit, err)
		}
		if len(msgs) != len(tt.wantSeqs) {
			t.Fatalf("ListMessages(%d, %d) returned %d messages, want %d", tt.after, tt.limit, len(msgs), len(tt.wantSeqs))
		}
		for i, m := range msgs {
			if m.Seq != tt.wantSeqs[i] {
				t.Errorf("ListMessages(%d, %d)[%d].Seq = %d, want %d", tt.after, tt.limit, i, m.Seq, tt.wantSeqs[i])
			}
			if m.Content != fmt.Sprintf("message %d", m.ID) || m.SenderType != model.SenderParticipant {
				t.Errorf("message %d round-tripped as %+v", m.ID, m)
			}
		}
	}
}

// testListMessagesResume walks the log one page at a time the way a
// reconnecting client does: every page starts right after the last seq seen.
func testListMessagesResume(t *testing.T, s support.Store) {
	ctx := context.Background()
	mustCreate(t, s, Channel("c1", "u1"))
	for i := int64(1); i <= 7; i++ {
		if _, err := s.AppendMessage(ctx, message(i, "c1", "u1", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	var after int64
	for {
		msgs, err := s.ListMessages(ctx, "c1", after, 3)
		if err != nil {
			t.Fatalf("ListMessages(%d): %v", after, err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			if m.Seq != after+1 {
				t.Fatalf("after seq %d got seq %d", after, m.Seq)
			}
			after = m.Seq
		}
	}
	if after != 7 {
		t.Fatalf("resumed up to seq %d, want 7", after)
	}
}

func testSaveRewritesRole(t *testing.T, s support.Store) {
	ctx := context.Background()
	mustCreate(t, s, Channel("c1", "u1", "u2"))

	next, _ := s.LoadChannel(ctx, "c1")
	next.Version = 2
	next.UpdatedAt = base.Add(time.Second)
	next.AssigneeID = "u1"
	for i := range next.Participants {
		if next.Participants[i].UserID == "u1" {
			next.Participants[i].Role = model.RoleManagementTeam
		}
	}
	if err := s.SaveChannel(ctx, next, 1); err != nil {
		t.Fatalf("SaveChannel: %v", err)
	}

	got, _ := s.LoadChannel(ctx, "c1")
	if p, ok := got.Participant("u1"); !ok || p.Role != model.RoleManagementTeam {
		t.Fatalf("u1 link = %+v (ok=%v), want MANAGEMENT_TEAM", p, ok)
	}
	if p, _ := got.Participant("u2"); p.Role != model.RoleParticipant {
		t.Fatalf("u2 link = %+v", p)
	}
	if len(got.Participants) != 2 || got.AssigneeID != "u1" {
		t.Fatalf("after save = %+v", got)
	}
}

// testSaveKeepsNewerUpdatedAt saves a transition stamped before a message
// that was appended after the channel was loaded.
func testSaveKeepsNewerUpdatedAt(t *testing.T, s support.Store) {
	ctx := context.Background()
	mustCreate(t, s, Channel("c1", "u1"))

	loaded, _ := s.LoadChannel(ctx, "c1")
	if _, err := s.AppendMessage(ctx, message(1, "c1", "u1", base.Add(5*time.Second))); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	loaded.Status = model.StatusResolved
	loaded.Version = 2
	loaded.UpdatedAt = base.Add(time.Second)
	if err := s.SaveChannel(ctx, loaded, 1); err != nil {
		t.Fatalf("SaveChannel: %v", err)
	}

	got, _ := s.LoadChannel(ctx, "c1")
	if got.Status != model.StatusResolved || got.LastSeq != 1 {
		t.Fatalf("after save = %+v", got)
	}
	if !got.UpdatedAt.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("updated_at = %v, want %v", got.UpdatedAt, base.Add(5*time.Second))
	}
}

func testMarkRead(t *testing.T, s support.Store) {
	ctx := context.Background()
	mustCreate(t, s, Channel("c1", "u1", "u2"))
	mustCreate(t, s, Channel("c2", "u1"))
	for i := int64(1); i <= 2; i++ {
		if _, err := s.AppendMessage(ctx, message(i, "c1", "u1", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	if _, err := s.AppendMessage(ctx, message(9, "c2", "u1", base.Add(time.Second))); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	changed, err := s.MarkRead(ctx, "c1", []int64{1, 2}, "u2")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if len(changed) != 2 {
		t.Fatalf("changed = %v, want both ids", changed)
	}
	changed, err = s.MarkRead(ctx, "c1", []int64{1, 2}, "u2")
	if err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("second MarkRead changed %v", changed)
	}
	changed, _ = s.MarkRead(ctx, "c1", []int64{1}, "u1")
	if len(changed) != 0 {
		t.Fatalf("sender re-marking changed %v", changed)
	}

	msgs, _ := s.ListMessages(ctx, "c1", 0, 10)
	for _, m := range msgs {
		if len(m.ReadBy) != 2 || !m.HasRead("u1") || !m.HasRead("u2") {
			t.Fatalf("message %d read_by = %v", m.ID, m.ReadBy)
		}
	}

	if _, err := s.MarkRead(ctx, "c1", []int64{1, 9}, "u2"); !errors.Is(err, support.ErrStoreNotFound) {
		t.Fatalf("MarkRead across channels err = %v, want ErrStoreNotFound", err)
	}
	if _, err := s.MarkRead(ctx, "c1", []int64{404}, "u2"); !errors.Is(err, support.ErrStoreNotFound) {
		t.Fatalf("MarkRead unknown err = %v, want ErrStoreNotFound", err)
	}
}

func testListChannelsForUser(t *testing.T, s support.Store) {
	ctx := context.Background()
	mustCreate(t, s, Channel("c1", "u1", "u2"))
	mustCreate(t, s, Channel("c2", "u2"))
	mustCreate(t, s, Channel("c3", "u1"))
	if _, err := s.AppendMessage(ctx, message(1, "c3", "u1", base.Add(time.Minute))); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	got, err := s.ListChannelsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListChannelsForUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("u1 channels = %d, want 2", len(got))
	}
	if got[0].ID != "c3" || got[1].ID != "c1" {
		t.Fatalf("order = [%s %s], want most recently active first", got[0].ID, got[1].ID)
	}

	none, err := s.ListChannelsForUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListChannelsForUser(nobody): %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("nobody has %d channels", len(none))
	}
}

func testConcurrentAppend(t *testing.T, s support.Store) {
	ctx := context.Background()
	mustCreate(t, s, Channel("c1", "u1"))

	const writers, each = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, writers*each)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				id := int64(w*each + i + 1)
				if _, err := s.AppendMessage(ctx, message(id, "c1", "u1", base.Add(time.Duration(id)*time.Millisecond))); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.ListMessages(ctx, "c1", 0, writers*each+1)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != writers*each {
		t.Fatalf("got %d messages, want %d", len(msgs), writers*each)
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("messages[%d].Seq = %d, want %d (gap or duplicate)", i, m.Seq, i+1)
		}
	}
}
