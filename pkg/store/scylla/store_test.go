package scylla

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/store/storetest"
	"github.com/mahaj/dupahar-support/pkg/support"
)

// TestStore runs the shared store checks against a live cluster. Set
// SCYLLA_TEST_HOSTS (comma separated) to enable it.
func TestStore(t *testing.T) {
	hosts := os.Getenv("SCYLLA_TEST_HOSTS")
	if hosts == "" {
		t.Skip("SCYLLA_TEST_HOSTS not set")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	n := 0
	storetest.Run(t, func(t *testing.T) support.Store {
		n++
		keyspace := fmt.Sprintf("support_test_%d_%d", time.Now().Unix(), n)
		list := strings.Split(hosts, ",")
		if err := EnsureKeyspace(ctx, list, keyspace, 1); err != nil {
			t.Fatalf("EnsureKeyspace: %v", err)
		}
		session, err := NewSession(list, keyspace, logger)
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		t.Cleanup(func() {
			session.Query("DROP KEYSPACE IF EXISTS " + keyspace).Exec()
			session.Close()
		})
		if err := Migrate(ctx, session); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		return New(session)
	})
}

func TestParticipantMaps(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	roles, joined := participantMaps([]model.Participant{
		{UserID: "u1", Role: model.RoleParticipant, JoinedAt: at},
		{UserID: "root", Role: model.RoleSuperAdmin, JoinedAt: at.Add(time.Minute)},
	})
	if roles["u1"] != "PARTICIPANT" || roles["root"] != "SUPER_ADMIN" || len(roles) != 2 {
		t.Fatalf("roles = %v", roles)
	}
	if !joined["root"].Equal(at.Add(time.Minute)) {
		t.Fatalf("joined = %v", joined)
	}
}

func TestContiguousStopsAtFreshGap(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := func(seq int64, age time.Duration) model.Message {
		return model.Message{Seq: seq, CreatedAt: now.Add(-age)}
	}
	seqs := func(msgs []model.Message) []int64 {
		out := make([]int64, len(msgs))
		for i, m := range msgs {
			out[i] = m.Seq
		}
		return out
	}

	tests := []struct {
		name  string
		after int64
		in    []model.Message
		want  []int64
	}{
		{"no gap", 0, []model.Message{msg(1, time.Second), msg(2, 0)}, []int64{1, 2}},
		{"fresh gap in the middle", 0, []model.Message{msg(1, time.Second), msg(3, time.Second)}, []int64{1}},
		{"fresh gap first", 4, []model.Message{msg(6, time.Second), msg(7, 0)}, []int64{}},
		{"old gap is skipped", 0, []model.Message{msg(1, time.Hour), msg(3, time.Hour), msg(4, 0)}, []int64{1, 3, 4}},
		{"old gap then fresh gap", 0, []model.Message{msg(2, time.Hour), msg(4, time.Second)}, []int64{2}},
		{"empty", 3, nil, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := seqs(contiguous(tt.in, tt.after, now))
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("contiguous = %v, want %v", got, tt.want)
			}
		})
	}
}
