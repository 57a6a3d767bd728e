package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/store/memory"
	"github.com/mahaj/dupahar-support/pkg/support"
)

type tokenTable map[string]model.Actor

func (t tokenTable) Verify(token string) (model.Actor, error) {
	a, ok := t[token]
	if !ok {
		return model.Actor{}, errors.New("unknown token")
	}
	return a, nil
}

var (
	wsAdmin = model.Actor{UserID: "admin", TenantID: "t1", Role: model.RoleTenantAdmin}
	wsU1    = model.Actor{UserID: "u1", TenantID: "t1", Role: model.RoleParticipant}
	wsU2    = model.Actor{UserID: "u2", TenantID: "t1", Role: model.RoleParticipant}
)

type wsFrame struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Code      string         `json:"code"`
	ChannelID string         `json:"channel_id"`
	Message   *model.Message `json:"message"`
	Channel   *model.Channel `json:"channel"`
}

func startGateway(t *testing.T) (*httptest.Server, *support.Service, *model.Channel) {
	t.Helper()
	hub := startHub(t, nil)
	svc := support.NewService(memory.New(), support.WithPublisher(hub), support.WithLogger(discardLogger()))
	ch, err := svc.CreateChannel(context.Background(), wsAdmin, support.CreateChannelInput{
		Type:         model.ChannelTeam,
		Participants: []support.ParticipantInput{{UserID: "u1"}},
	})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	tokens := tokenTable{"admin-token": wsAdmin, "u1-token": wsU1, "u2-token": wsU2}
	srv := httptest.NewServer(NewGateway(hub, svc, tokens, discardLogger()))
	t.Cleanup(srv.Close)
	return srv, svc, ch
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return f
}

func TestGatewayRejectsMissingToken(t *testing.T) {
	srv, _, _ := startGateway(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v", resp)
	}
	_, resp, _ = websocket.DefaultDialer.Dial(url+"?token=forged", nil)
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged token response = %v", resp)
	}
}

func TestGatewaySendMessageFansOut(t *testing.T) {
	srv, _, ch := startGateway(t)
	admin := dial(t, srv, "admin-token")
	u1 := dial(t, srv, "u1-token")

	// Frames are only read once the connect-time subscriptions are in
	// place, so an acked frame means admin is listening.
	admin.WriteJSON(Frame{Type: FrameTyping, RequestID: "sync", ChannelID: ch.ID})
	for f := next(t, admin); f.Type != ReplyAck; f = next(t, admin) {
	}
	if err := u1.WriteJSON(Frame{Type: FrameSendMessage, RequestID: "r1", ChannelID: ch.ID, Content: "Hello"}); err != nil {
		t.Fatal(err)
	}

	var ack, event *wsFrame
	for ack == nil || event == nil {
		f := next(t, u1)
		switch f.Type {
		case ReplyAck:
			ack = &f
		case string(model.EventNewMessage):
			event = &f
		case string(model.EventTyping):
			// admin's sync frame may land here too
		default:
			t.Fatalf("unexpected frame %+v", f)
		}
	}
	if ack == nil || ack.RequestID != "r1" || ack.Message == nil || ack.Message.Seq != 1 {
		t.Fatalf("ack = %+v", ack)
	}
	if event == nil || event.Message == nil || event.Message.ID != ack.Message.ID {
		t.Fatalf("event = %+v", event)
	}

	got := next(t, admin)
	for got.Type == string(model.EventTyping) {
		got = next(t, admin)
	}
	if got.Type != string(model.EventNewMessage) || got.ChannelID != ch.ID || got.Message.Content != "Hello" {
		t.Fatalf("admin got %+v", got)
	}
}

func TestGatewayErrors(t *testing.T) {
	srv, _, ch := startGateway(t)
	u2 := dial(t, srv, "u2-token")

	u2.WriteJSON(Frame{Type: FrameJoinChannel, RequestID: "j1", ChannelID: ch.ID})
	if f := next(t, u2); f.Type != ReplyError || f.Code != "forbidden" || f.RequestID != "j1" {
		t.Fatalf("join foreign channel = %+v", f)
	}

	u2.WriteJSON(Frame{Type: FrameSendMessage, ChannelID: ch.ID, Content: "let me in"})
	if f := next(t, u2); f.Type != ReplyError || f.Code != "forbidden" {
		t.Fatalf("send to foreign channel = %+v", f)
	}

	u2.WriteJSON(Frame{Type: "dance"})
	if f := next(t, u2); f.Type != ReplyError || f.Code != "validation_error" {
		t.Fatalf("unknown frame = %+v", f)
	}

	u2.WriteMessage(websocket.TextMessage, []byte("plain text"))
	if f := next(t, u2); f.Type != ReplyError || f.Code != "validation_error" {
		t.Fatalf("non-JSON frame = %+v", f)
	}
}

func TestGatewayNewChannelReachesConnectedParticipant(t *testing.T) {
	srv, svc, ch := startGateway(t)
	u2 := dial(t, srv, "u2-token")
	admin := dial(t, srv, "admin-token")

	// Any reply means the connect-time subscriptions are in place.
	admin.WriteJSON(Frame{Type: FrameTyping, RequestID: "sync", ChannelID: ch.ID})
	for f := next(t, admin); f.Type != ReplyAck; f = next(t, admin) {
	}
	u2.WriteJSON(Frame{Type: FrameTyping, RequestID: "sync", ChannelID: ch.ID})
	if f := next(t, u2); f.Type != ReplyError {
		t.Fatalf("non-member typing = %+v", f)
	}

	other, err := svc.CreateChannel(context.Background(), wsAdmin, support.CreateChannelInput{
		Type:         model.ChannelTeam,
		Participants: []support.ParticipantInput{{UserID: "u2"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if f := next(t, u2); f.Type != string(model.EventChannelCreated) || f.ChannelID != other.ID {
		t.Fatalf("u2 got %+v", f)
	}

	// No join_channel needed; joining again is still acknowledged.
	admin.WriteJSON(Frame{Type: FrameTyping, ChannelID: other.ID})
	if f := next(t, u2); f.Type != string(model.EventTyping) || f.ChannelID != other.ID {
		t.Fatalf("u2 got %+v", f)
	}
	u2.WriteJSON(Frame{Type: FrameJoinChannel, RequestID: "j", ChannelID: other.ID})
	if f := next(t, u2); f.Type != ReplyAck || f.Channel == nil || f.Channel.ID != other.ID {
		t.Fatalf("join = %+v", f)
	}
}
