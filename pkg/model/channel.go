package model

import "time"

type ChannelType string

const (
	ChannelSupport         ChannelType = "SUPPORT"
	ChannelTournament      ChannelType = "TOURNAMENT"
	ChannelTeam            ChannelType = "TEAM"
	ChannelPlatformSupport ChannelType = "PLATFORM_SUPPORT"
)

func (t ChannelType) Valid() bool {
	switch t {
	case ChannelSupport, ChannelTournament, ChannelTeam, ChannelPlatformSupport:
		return true
	}
	return false
}

// HasTicket reports whether channels of this type carry a support ticket.
func (t ChannelType) HasTicket() bool {
	return t == ChannelSupport || t == ChannelPlatformSupport
}

type ChannelStatus string

const (
	StatusActive    ChannelStatus = "ACTIVE"
	StatusResolved  ChannelStatus = "RESOLVED"
	StatusEscalated ChannelStatus = "ESCALATED"
	StatusArchived  ChannelStatus = "ARCHIVED"
)

func (s ChannelStatus) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusEscalated, StatusArchived:
		return true
	}
	return false
}

// Participant links a user to a channel with the role they held when they
// joined it.
type Participant struct {
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Channel is a conversation thread tying participants, messages and an
// optional support ticket together.
type Channel struct {
	ID               string        `json:"id"`
	TenantID         string        `json:"tenant_id"`
	Type             ChannelType   `json:"type"`
	Status           ChannelStatus `json:"status"`
	Version          int64         `json:"version"`
	LastSeq          int64         `json:"last_seq"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Participants     []Participant `json:"participants"`
	AssigneeID       string        `json:"assignee_id,omitempty"`
	EscalationReason string        `json:"escalation_reason,omitempty"`
	ResolutionNote   string        `json:"resolution_note,omitempty"`
	Ticket           *Ticket       `json:"ticket,omitempty"`
}

// Participant returns the participant link for userID.
func (c *Channel) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (c *Channel) HasParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}

// PlatformRouted reports whether platform support (rather than tenant staff)
// handles the channel. The stored Type never changes; escalation routes a
// channel to the platform only while it stays ESCALATED.
func (c *Channel) PlatformRouted() bool {
	return c.Type == ChannelPlatformSupport || c.Status == StatusEscalated
}

// InPlatformQueue reports whether platform support should currently see the
// channel in its work queue: escalated channels, and PLATFORM_SUPPORT
// channels that are still open. A SUPPORT channel leaves the queue as soon
// as it is de-escalated.
func (c *Channel) InPlatformQueue() bool {
	switch c.Status {
	case StatusEscalated:
		return true
	case StatusActive:
		return c.Type == ChannelPlatformSupport
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching shared
// state.
func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]Participant(nil), c.Participants...)
	if c.Ticket != nil {
		t := *c.Ticket
		out.Ticket = &t
	}
	return &out
}
