// Package realtime is the process-local fan-out router: a registry of
// connected websocket clients and the channels they are subscribed to.
//
// The registry is rebuilt from the durable participant list whenever a client
// connects. It is never persisted and never consulted for membership.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mahaj/dupahar-support/pkg/model"
)

// Presence records which users are online in a channel. The hub calls Join
// when a user's first connection subscribes and Leave when the last one
// goes away.
type Presence interface {
	Join(ctx context.Context, channelID, userID string) error
	Leave(ctx context.Context, channelID, userID string) error
}

type subscription struct {
	client    *Client
	channelID string
	on        bool
	done      chan struct{}
}

type Hub struct {
	clients     map[string]map[*Client]bool // channel_id -> clients
	userClients map[string]map[*Client]bool // user_id -> clients

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	deliver    chan model.Event

	presence Presence
	logger   *slog.Logger
	quit     chan struct{}
}

func NewHub(presence Presence, logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		deliver:     make(chan model.Event, 1024),
		presence:    presence,
		logger:      logger,
		quit:        make(chan struct{}),
	}
}

// Publish hands an event to the hub for delivery to local subscribers of
// channelID. It satisfies support.Publisher for single-process setups.
func (h *Hub) Publish(ctx context.Context, channelID string, ev model.Event) error {
	ev.ChannelID = channelID
	select {
	case h.deliver <- ev:
		return nil
	case <-h.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe adds c to channelID and returns once the hub has applied it.
func (h *Hub) Subscribe(c *Client, channelID string) {
	h.apply(subscription{client: c, channelID: channelID, on: true})
}

func (h *Hub) Unsubscribe(c *Client, channelID string) {
	h.apply(subscription{client: c, channelID: channelID})
}

func (h *Hub) apply(s subscription) {
	s.done = make(chan struct{})
	select {
	case h.subscribe <- s:
		<-s.done
	case <-s.client.closed:
	case <-h.quit:
	}
}

// Register reports false when the hub has already stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Run owns the registry until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			if h.userClients[c.UserID] == nil {
				h.userClients[c.UserID] = make(map[*Client]bool)
			}
			h.userClients[c.UserID][c] = true
			h.logger.Debug("client registered", "client_id", c.ID, "user_id", c.UserID)

		case c := <-h.unregister:
			h.drop(c)

		case s := <-h.subscribe:
			if s.on {
				h.add(s.client, s.channelID)
			} else {
				h.remove(s.client, s.channelID)
			}
			close(s.done)

		case ev := <-h.deliver:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) add(c *Client, channelID string) {
	if c.channels[channelID] || !h.userClients[c.UserID][c] {
		return
	}
	first := !h.userInChannel(c.UserID, channelID)
	if h.clients[channelID] == nil {
		h.clients[channelID] = make(map[*Client]bool)
	}
	h.clients[channelID][c] = true
	c.channels[channelID] = true
	if first {
		h.presenceCall(true, channelID, c.UserID)
	}
}

func (h *Hub) remove(c *Client, channelID string) {
	if !c.channels[channelID] {
		return
	}
	delete(c.channels, channelID)
	if clients := h.clients[channelID]; clients != nil {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.clients, channelID)
		}
	}
	if !h.userInChannel(c.UserID, channelID) {
		h.presenceCall(false, channelID, c.UserID)
	}
}

// drop removes a client everywhere and signals its pumps to stop. Safe to
// call twice.
func (h *Hub) drop(c *Client) {
	if !h.userClients[c.UserID][c] {
		return
	}
	for channelID := range c.channels {
		h.remove(c, channelID)
	}
	delete(h.userClients[c.UserID], c)
	if len(h.userClients[c.UserID]) == 0 {
		delete(h.userClients, c.UserID)
	}
	close(c.closed)
	h.logger.Debug("client unregistered", "client_id", c.ID, "user_id", c.UserID)
}

func (h *Hub) subscribeUser(userID, channelID string) {
	for c := range h.userClients[userID] {
		h.add(c, channelID)
	}
}

func (h *Hub) userInChannel(userID, channelID string) bool {
	for c := range h.userClients[userID] {
		if c.channels[channelID] {
			return true
		}
	}
	return false
}

// fanOut sends ev to subscribers of its channel only. A client whose queue
// is full is disconnected rather than allowed to stall the others; it
// catches up from the message log when it reconnects.
//
// Membership events first subscribe the connected clients of the users they
// add, so those users get the event itself and everything after it.
func (h *Hub) fanOut(ev model.Event) {
	switch ev.Type {
	case model.EventChannelCreated:
		if ev.Channel != nil {
			for _, p := range ev.Channel.Participants {
				h.subscribeUser(p.UserID, ev.ChannelID)
			}
		}
	case model.EventChannelAssigned:
		h.subscribeUser(ev.AssigneeID, ev.ChannelID)
	}

	clients := h.clients[ev.ChannelID]
	if len(clients) == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", "type", ev.Type, "error", err)
		return
	}
	var slow []*Client
	for c := range clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.logger.Warn("dropping slow client", "client_id", c.ID, "user_id", c.UserID)
		h.drop(c)
	}
}

func (h *Hub) presenceCall(join bool, channelID, userID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var err error
	if join {
		err = h.presence.Join(ctx, channelID, userID)
	} else {
		err = h.presence.Leave(ctx, channelID, userID)
	}
	if err != nil {
		h.logger.Warn("presence update failed", "channel_id", channelID, "user_id", userID, "error", err)
	}
}

func (h *Hub) shutdown() {
	close(h.quit)
	for _, clients := range h.userClients {
		for c := range clients {
			h.drop(c)
		}
	}
}
