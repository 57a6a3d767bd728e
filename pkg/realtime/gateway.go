package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

// Inbound frame types.
const (
	FrameJoinChannel  = "join_channel"
	FrameLeaveChannel = "leave_channel"
	FrameSendMessage  = "send_message"
	FrameTyping       = "typing"
	FrameStopTyping   = "stop_typing"
	FrameMarkRead     = "mark_read"

	ReplyAck   = "ack"
	ReplyError = "error"
)

// Frame is a command sent by a connected client.
type Frame struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"request_id,omitempty"`
	ChannelID  string          `json:"channel_id"`
	Content    string          `json:"content,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	MessageIDs []int64         `json:"message_ids,omitempty"`
}

// Reply answers a Frame. Clients reconcile optimistic local state against
// it: ack carries the server's version, error means roll back.
type Reply struct {
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	Code       string         `json:"code,omitempty"`
	Error      string         `json:"error,omitempty"`
	Message    *model.Message `json:"message,omitempty"`
	Channel    *model.Channel `json:"channel,omitempty"`
	MessageIDs []int64        `json:"message_ids,omitempty"`
}

// Commands is the part of the support service the gateway drives.
type Commands interface {
	GetChannel(ctx context.Context, actor model.Actor, channelID string) (*model.Channel, error)
	ListChannelsForUser(ctx context.Context, actor model.Actor) ([]*model.Channel, error)
	PostMessage(ctx context.Context, actor model.Actor, in support.PostMessageInput) (*model.Message, error)
	MarkRead(ctx context.Context, actor model.Actor, channelID string, messageIDs []int64) ([]int64, error)
	SignalTyping(ctx context.Context, actor model.Actor, channelID string, typing bool) error
}

// Verifier turns a bearer token into the authenticated actor.
type Verifier interface {
	Verify(token string) (model.Actor, error)
}

type Gateway struct {
	hub      *Hub
	commands Commands
	verifier Verifier
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewGateway(hub *Hub, commands Commands, verifier Verifier, logger *slog.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		commands: commands,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func bearer(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token == "" {
		// Browsers cannot set headers on websocket upgrades.
		token = r.URL.Query().Get("token")
	}
	return strings.TrimPrefix(token, "Bearer ")
}

// ServeHTTP upgrades an authenticated request and subscribes the connection
// to every channel the user participates in.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	actor, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.Info("websocket auth failed", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := NewClient(actor, conn)
	if !g.hub.Register(c) {
		conn.Close()
		return
	}
	g.logger.Info("client connected", "client_id", c.ID, "user_id", actor.UserID, "role", actor.Role)

	go c.writePump()
	go func() {
		defer func() {
			g.hub.Unregister(c)
			conn.Close()
			g.logger.Info("client disconnected", "client_id", c.ID, "user_id", actor.UserID)
		}()
		g.resubscribe(r.Context(), c)
		c.readPump(func(frame []byte) { g.handleFrame(c, frame) })
	}()
}

// resubscribe rebuilds the client's subscriptions from the durable
// participant list.
func (g *Gateway) resubscribe(ctx context.Context, c *Client) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	channels, err := g.commands.ListChannelsForUser(ctx, c.Actor)
	if err != nil {
		g.logger.Error("list channels for subscription", "user_id", c.UserID, "error", err)
		return
	}
	for _, ch := range channels {
		g.hub.Subscribe(c, ch.ID)
	}
}

func (g *Gateway) handleFrame(c *Client, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		g.reply(c, Reply{Type: ReplyError, Code: "validation_error", Error: "frame must be a JSON object"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := g.dispatch(ctx, c, f)
	if err != nil {
		g.reply(c, Reply{Type: ReplyError, RequestID: f.RequestID, Code: support.ErrorCode(err), Error: err.Error()})
		return
	}
	if reply != nil && f.RequestID != "" {
		reply.Type = ReplyAck
		reply.RequestID = f.RequestID
		g.reply(c, *reply)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, f Frame) (*Reply, error) {
	switch f.Type {
	case FrameJoinChannel:
		ch, err := g.commands.GetChannel(ctx, c.Actor, f.ChannelID)
		if err != nil {
			return nil, err
		}
		g.hub.Subscribe(c, ch.ID)
		return &Reply{Channel: ch}, nil

	case FrameLeaveChannel:
		g.hub.Unsubscribe(c, f.ChannelID)
		return &Reply{}, nil

	case FrameSendMessage:
		msg, err := g.commands.PostMessage(ctx, c.Actor, support.PostMessageInput{
			ChannelID: f.ChannelID,
			Content:   f.Content,
			Metadata:  f.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return &Reply{Message: msg}, nil

	case FrameTyping, FrameStopTyping:
		if err := g.commands.SignalTyping(ctx, c.Actor, f.ChannelID, f.Type == FrameTyping); err != nil {
			return nil, err
		}
		return &Reply{}, nil

	case FrameMarkRead:
		changed, err := g.commands.MarkRead(ctx, c.Actor, f.ChannelID, f.MessageIDs)
		if err != nil {
			return nil, err
		}
		return &Reply{MessageIDs: changed}, nil
	}
	return nil, &support.ValidationError{Field: "type", Reason: "unknown frame type " + f.Type}
}

func (g *Gateway) reply(c *Client, r Reply) {
	payload, err := json.Marshal(r)
	if err != nil {
		g.logger.Error("marshal reply", "error", err)
		return
	}
	if !c.Send(payload) {
		g.logger.Debug("reply dropped", "client_id", c.ID, "type", r.Type)
	}
}
