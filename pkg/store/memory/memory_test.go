package memory

import (
	"context"
	"testing"

	"github.com/mahaj/dupahar-support/pkg/store/storetest"
	"github.com/mahaj/dupahar-support/pkg/support"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) support.Store { return New() })
}

func TestLoadReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateChannel(ctx, storetest.Channel("c1", "u1")); err != nil {
		t.Fatal(err)
	}
	a, _ := s.LoadChannel(ctx, "c1")
	a.Participants[0].UserID = "mallory"
	a.Ticket.Subject = "changed"

	b, _ := s.LoadChannel(ctx, "c1")
	if b.Participants[0].UserID != "u1" || b.Ticket.Subject == "changed" {
		t.Fatalf("caller mutation leaked into the store: %+v", b)
	}
}
