package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/dupahar-support/pkg/model"
)

type fakePresence struct {
	mu     sync.Mutex
	online map[string]map[string]bool
	calls  int
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]map[string]bool)}
}

func (p *fakePresence) Join(_ context.Context, channelID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.online[channelID] == nil {
		p.online[channelID] = make(map[string]bool)
	}
	p.online[channelID][userID] = true
	return nil
}

func (p *fakePresence) Leave(_ context.Context, channelID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	delete(p.online[channelID], userID)
	return nil
}

func (p *fakePresence) isOnline(channelID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[channelID][userID]
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startHub(t *testing.T, presence Presence) *Hub {
	t.Helper()
	h := NewHub(presence, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func connect(t *testing.T, h *Hub, userID string, channels ...string) *Client {
	t.Helper()
	c := NewClient(model.Actor{UserID: userID, Role: model.RoleParticipant}, nil)
	if !h.Register(c) {
		t.Fatal("hub stopped")
	}
	for _, id := range channels {
		h.Subscribe(c, id)
	}
	return c
}

func receive(t *testing.T, c *Client) model.Event {
	t.Helper()
	select {
	case frame := <-c.send:
		var ev model.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("bad frame %s: %v", frame, err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("client %s received nothing", c.UserID)
	}
	return model.Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("client %s got unexpected frame %s", c.UserID, frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeliverOnlyToChannelSubscribers(t *testing.T) {
	h := startHub(t, nil)
	a := connect(t, h, "u1", "c1")
	b := connect(t, h, "u2", "c2")
	both := connect(t, h, "u3", "c1", "c2")

	ctx := context.Background()
	if err := h.Publish(ctx, "c1", model.Event{Type: model.EventNewMessage}); err != nil {
		t.Fatal(err)
	}
	if ev := receive(t, a); ev.ChannelID != "c1" || ev.Type != model.EventNewMessage {
		t.Fatalf("a got %+v", ev)
	}
	if ev := receive(t, both); ev.ChannelID != "c1" {
		t.Fatalf("both got %+v", ev)
	}
	expectNothing(t, b)

	h.Unsubscribe(both, "c1")
	h.Publish(ctx, "c1", model.Event{Type: model.EventTyping, UserID: "u1"})
	receive(t, a)
	expectNothing(t, both)

	h.Publish(ctx, "c3", model.Event{Type: model.EventNewMessage})
	expectNothing(t, a)
	expectNothing(t, b)
}

func TestPresenceFollowsLastConnection(t *testing.T) {
	p := newFakePresence()
	h := startHub(t, p)

	phone := connect(t, h, "u1", "c1")
	laptop := connect(t, h, "u1", "c1")
	if !p.isOnline("c1", "u1") {
		t.Fatal("u1 not online after subscribing")
	}

	h.Unregister(phone)
	// Subscribe round-trips through the hub loop, so the unregister above
	// has been applied once it returns.
	h.Subscribe(laptop, "c2")
	if !p.isOnline("c1", "u1") {
		t.Fatal("u1 went offline while another connection remains")
	}

	h.Unregister(laptop)
	h.Subscribe(connect(t, h, "u9"), "c9")
	if p.isOnline("c1", "u1") || p.isOnline("c2", "u1") {
		t.Fatal("u1 still online after last connection left")
	}
	select {
	case <-laptop.Done():
	default:
		t.Fatal("unregistered client not closed")
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	h := startHub(t, nil)
	slow := connect(t, h, "slow", "c1")
	fast := connect(t, h, "fast", "c1")

	ctx := context.Background()
	received := 0
	for i := 0; i < sendBuffer+1; i++ {
		h.Publish(ctx, "c1", model.Event{Type: model.EventNewMessage})
		receive(t, fast)
		received++
	}
	if received != sendBuffer+1 {
		t.Fatalf("fast client received %d", received)
	}

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was not dropped")
	}
	if slow.Send([]byte("late")) {
		t.Fatal("Send succeeded on a dropped client")
	}
}

func TestRunStopDisconnectsClients(t *testing.T) {
	h := NewHub(nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	c := connect(t, h, "u1", "c1")
	cancel()
	<-done

	select {
	case <-c.Done():
	default:
		t.Fatal("client still open after hub stopped")
	}
	if h.Register(NewClient(model.Actor{UserID: "late"}, nil)) {
		t.Fatal("Register succeeded on a stopped hub")
	}
	if err := h.Publish(context.Background(), "c1", model.Event{}); err != nil {
		t.Fatalf("Publish after stop: %v", err)
	}
}

func TestMembershipEventsSubscribeConnectedUsers(t *testing.T) {
	p := newFakePresence()
	h := startHub(t, p)
	creator := connect(t, h, "admin")
	invited := connect(t, h, "u1")
	invitedPhone := connect(t, h, "u1")
	ops := connect(t, h, "ops")
	bystander := connect(t, h, "u9")

	ctx := context.Background()
	created := &model.Channel{ID: "c1", Participants: []model.Participant{
		{UserID: "admin", Role: model.RoleTenantAdmin},
		{UserID: "u1", Role: model.RoleParticipant},
	}}
	h.Publish(ctx, "c1", model.Event{Type: model.EventChannelCreated, Channel: created})
	for _, c := range []*Client{creator, invited, invitedPhone} {
		if ev := receive(t, c); ev.Type != model.EventChannelCreated || ev.ChannelID != "c1" {
			t.Fatalf("%s got %+v", c.UserID, ev)
		}
	}
	expectNothing(t, ops)
	if !p.isOnline("c1", "u1") {
		t.Fatal("invited user not marked online in the new channel")
	}

	h.Publish(ctx, "c1", model.Event{Type: model.EventChannelAssigned, AssigneeID: "ops"})
	if ev := receive(t, ops); ev.Type != model.EventChannelAssigned || ev.AssigneeID != "ops" {
		t.Fatalf("assignee got %+v", ev)
	}
	for _, c := range []*Client{creator, invited, invitedPhone} {
		if ev := receive(t, c); ev.Type != model.EventChannelAssigned {
			t.Fatalf("%s got %+v", c.UserID, ev)
		}
	}

	h.Publish(ctx, "c1", model.Event{Type: model.EventNewMessage})
	for _, c := range []*Client{creator, invited, ops} {
		if ev := receive(t, c); ev.Type != model.EventNewMessage {
			t.Fatalf("%s got %+v", c.UserID, ev)
		}
	}
	expectNothing(t, bystander)
}
