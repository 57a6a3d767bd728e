package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mahaj/dupahar-support/pkg/auth"
	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/presence"
	"github.com/mahaj/dupahar-support/pkg/store/memory"
	"github.com/mahaj/dupahar-support/pkg/support"
)

var (
	admin   = model.Actor{UserID: "admin", TenantID: "t1", Role: model.RoleTenantAdmin}
	player  = model.Actor{UserID: "u1", TenantID: "t1", Role: model.RoleParticipant}
	outside = model.Actor{UserID: "u9", TenantID: "t2", Role: model.RoleParticipant}
	super   = model.Actor{UserID: "root", Role: model.RoleSuperAdmin}
)

type fakeOnline map[string][]string

func (f fakeOnline) Users(_ context.Context, channelID string) ([]string, error) {
	return f[channelID], nil
}

type fakeQueue []presence.QueueEntry

func (f fakeQueue) List(context.Context, int) ([]presence.QueueEntry, error) { return f, nil }

type api struct {
	t      *testing.T
	srv    *httptest.Server
	tokens *auth.Tokens
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s := &server{
		svc:      support.NewService(memory.New(), support.WithLogger(logger)),
		tokens:   tokens,
		online:   fakeOnline{},
		queue:    fakeQueue{{ChannelID: "c1", Priority: model.PriorityUrgent}},
		logger:   logger,
		devLogin: true,
	}
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv, tokens: tokens}
}

// do sends body as JSON and decodes the response into out when non-nil.
func (a *api) do(as model.Actor, method, path string, body, out any) int {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, a.srv.URL+path, rd)
	if as.UserID != "" {
		token, err := a.tokens.Generate(as)
		if err != nil {
			a.t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			a.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (a *api) createSupport(as model.Actor) *model.Channel {
	a.t.Helper()
	var ch model.Channel
	status := a.do(as, http.MethodPost, "/channels", support.CreateChannelInput{
		Type:         model.ChannelSupport,
		Participants: []support.ParticipantInput{{UserID: "u1"}},
		Ticket:       &support.TicketInput{Subject: "Prize not received", Category: model.CategoryTournamentIssue},
	}, &ch)
	if status != http.StatusCreated {
		a.t.Fatalf("create channel: status %d", status)
	}
	return &ch
}

func TestLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	ch := a.createSupport(admin)
	base := "/channels/" + ch.ID

	var msg model.Message
	if s := a.do(player, http.MethodPost, base+"/messages", map[string]string{"content": "Hello"}, &msg); s != http.StatusCreated {
		t.Fatalf("post message: %d", s)
	}
	if msg.Seq != 1 || msg.SenderID != "u1" {
		t.Fatalf("message = %+v", msg)
	}

	var errBody errorBody
	if s := a.do(player, http.MethodPost, base+"/escalate", map[string]string{"reason": "x"}, &errBody); s != http.StatusForbidden || errBody.Code != "forbidden" {
		t.Fatalf("participant escalate: %d %+v", s, errBody)
	}

	steps := []struct {
		path string
		body any
		want model.ChannelStatus
	}{
		{"/escalate", map[string]string{"reason": "Needs platform"}, model.StatusEscalated},
		{"/resolve", map[string]string{"note": "Refunded"}, model.StatusResolved},
		{"/reopen", nil, model.StatusActive},
		{"/archive", nil, model.StatusArchived},
	}
	for _, step := range steps {
		var got model.Channel
		if s := a.do(admin, http.MethodPost, base+step.path, step.body, &got); s != http.StatusOK || got.Status != step.want {
			t.Fatalf("%s: %d %+v", step.path, s, got)
		}
	}

	errBody = errorBody{}
	if s := a.do(player, http.MethodPost, base+"/messages", map[string]string{"content": "hi?"}, &errBody); s != http.StatusConflict || errBody.Code != "invalid_transition" {
		t.Fatalf("post to archived: %d %+v", s, errBody)
	}

	var page messagesResponse
	if s := a.do(player, http.MethodGet, base+"/messages?after_seq=0&limit=10", nil, &page); s != http.StatusOK {
		t.Fatalf("list messages: %d", s)
	}
	if len(page.Messages) != 1 || page.NextAfterSeq != 1 {
		t.Fatalf("page = %+v", page)
	}
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	ch := a.createSupport(admin)

	tests := []struct {
		name   string
		as     model.Actor
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown channel", admin, http.MethodGet, "/channels/nope", nil, http.StatusNotFound, "not_found"},
		{"foreign tenant", outside, http.MethodGet, "/channels/" + ch.ID, nil, http.StatusForbidden, "forbidden"},
		{"blank message", player, http.MethodPost, "/channels/" + ch.ID + "/messages", map[string]string{"content": " "}, http.StatusBadRequest, "validation_error"},
		{"bad cursor", player, http.MethodGet, "/channels/" + ch.ID + "/messages?after_seq=abc", nil, http.StatusBadRequest, "validation_error"},
		{"reopen active", admin, http.MethodPost, "/channels/" + ch.ID + "/reopen", nil, http.StatusConflict, "invalid_transition"},
		{"bad type", admin, http.MethodPost, "/channels", map[string]string{"type": "DM"}, http.StatusBadRequest, "validation_error"},
		{"queue for tenant admin", admin, http.MethodGet, "/platform/queue", nil, http.StatusForbidden, "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			if s := a.do(tt.as, tt.method, tt.path, tt.body, &body); s != tt.status || body.Code != tt.code {
				t.Fatalf("got %d %+v, want %d %s", s, body, tt.status, tt.code)
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	a := newAPI(t)
	token, _ := a.tokens.Generate(admin)
	req, _ := http.NewRequest(http.MethodPost, a.srv.URL+"/channels", bytes.NewReader([]byte("{")))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestRequiresToken(t *testing.T) {
	a := newAPI(t)
	if s := a.do(model.Actor{}, http.MethodGet, "/channels", nil, nil); s != http.StatusUnauthorized {
		t.Fatalf("status %d", s)
	}
	if s := a.do(model.Actor{}, http.MethodGet, "/health", nil, nil); s != http.StatusOK {
		t.Fatalf("health status %d", s)
	}
}

func TestLoginThenListChannels(t *testing.T) {
	a := newAPI(t)
	a.createSupport(admin)

	var login auth.LoginResponse
	b, _ := json.Marshal(auth.LoginRequest{UserID: "u1", TenantID: "t1"})
	resp, err := http.Post(a.srv.URL+"/login", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	json.NewDecoder(resp.Body).Decode(&login)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, a.srv.URL+"/channels", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Channels []model.Channel `json:"channels"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK || len(out.Channels) != 1 {
		t.Fatalf("status %d, channels %+v", resp.StatusCode, out.Channels)
	}
}

func TestAssignAndMarkRead(t *testing.T) {
	a := newAPI(t)
	ch := a.createSupport(admin)
	base := "/channels/" + ch.ID

	var msg model.Message
	a.do(player, http.MethodPost, base+"/messages", map[string]string{"content": "Hello"}, &msg)

	var read readResponse
	if s := a.do(admin, http.MethodPost, base+"/read", readRequest{MessageIDs: []int64{msg.ID}}, &read); s != http.StatusOK || len(read.MessageIDs) != 1 {
		t.Fatalf("mark read: %d %+v", s, read)
	}
	read = readResponse{}
	a.do(admin, http.MethodPost, base+"/read", readRequest{MessageIDs: []int64{msg.ID}}, &read)
	if len(read.MessageIDs) != 0 {
		t.Fatalf("second mark read changed %v", read.MessageIDs)
	}

	a.do(admin, http.MethodPost, base+"/escalate", map[string]string{"reason": "billing"}, nil)
	var assigned model.Channel
	if s := a.do(super, http.MethodPost, base+"/assign", support.AssignInput{AssigneeID: "root"}, &assigned); s != http.StatusOK {
		t.Fatalf("assign: %d", s)
	}
	if assigned.AssigneeID != "root" || !assigned.HasParticipant("root") || assigned.Status != model.StatusEscalated {
		t.Fatalf("assigned = %+v", assigned)
	}
}

func TestPresenceAndQueue(t *testing.T) {
	a := newAPI(t)
	ch := a.createSupport(admin)

	var online onlineResponse
	if s := a.do(player, http.MethodGet, "/channels/"+ch.ID+"/online", nil, &online); s != http.StatusOK || online.ChannelID != ch.ID {
		t.Fatalf("online: %d %+v", s, online)
	}
	if s := a.do(outside, http.MethodGet, "/channels/"+ch.ID+"/online", nil, nil); s != http.StatusForbidden {
		t.Fatalf("online for outsider: %d", s)
	}

	var q struct {
		Entries []queueEntry `json:"entries"`
	}
	if s := a.do(super, http.MethodGet, "/platform/queue", nil, &q); s != http.StatusOK || len(q.Entries) != 1 || q.Entries[0].Priority != model.PriorityUrgent {
		t.Fatalf("queue: %d %+v", s, q)
	}
}
