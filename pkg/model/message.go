package model

import (
	"encoding/json"
	"time"
)

type SenderType string

const (
	SenderSuperAdmin     SenderType = "SUPER_ADMIN"
	SenderTenantAdmin    SenderType = "TENANT_ADMIN"
	SenderManagementTeam SenderType = "MANAGEMENT_TEAM"
	SenderParticipant    SenderType = "PARTICIPANT"
	SenderSystem         SenderType = "SYSTEM"
)

// Message is an entry in a channel's ordered log. Only ReadBy changes after
// the message is appended.
type Message struct {
	ID         int64           `json:"id"`
	ChannelID  string          `json:"channel_id"`
	Seq        int64           `json:"seq"`
	SenderID   string          `json:"sender_id"`
	SenderType SenderType      `json:"sender_type"`
	Content    string          `json:"content"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ReadBy     []string        `json:"read_by"`
}

// HasRead reports whether userID is in the message's read set.
func (m *Message) HasRead(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
