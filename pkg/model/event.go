package model

import "time"

type EventType string

const (
	EventChannelCreated       EventType = "channel_created"
	EventNewMessage           EventType = "new_message"
	EventChannelStatusChanged EventType = "channel_status_changed"
	EventChannelAssigned      EventType = "channel_assigned"
	EventTicketEscalated      EventType = "ticket_escalated"
	EventMessagesRead         EventType = "messages_read"
	EventTyping               EventType = "typing"
	EventStopTyping           EventType = "stop_typing"
)

// Ephemeral events are never persisted and carry no ordering guarantee.
func (t EventType) Ephemeral() bool {
	return t == EventTyping || t == EventStopTyping
}

// Event is the envelope pushed to connected participants of ChannelID.
type Event struct {
	Type       EventType `json:"type"`
	ChannelID  string    `json:"channel_id"`
	UserID     string    `json:"user_id,omitempty"`
	Message    *Message  `json:"message,omitempty"`
	Channel    *Channel  `json:"channel,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	AssigneeID string    `json:"assignee_id,omitempty"`
	MessageIDs []int64   `json:"message_ids,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
