package model

import "time"

type TicketCategory string

const (
	CategoryTechnical       TicketCategory = "TECHNICAL"
	CategoryBilling         TicketCategory = "BILLING"
	CategoryFeatureRequest  TicketCategory = "FEATURE_REQUEST"
	CategoryTournamentIssue TicketCategory = "TOURNAMENT_ISSUE"
	CategoryQuestionIssue   TicketCategory = "QUESTION_ISSUE"
	CategoryAccountAccess   TicketCategory = "ACCOUNT_ACCESS"
	CategoryOther           TicketCategory = "OTHER"
)

func (c TicketCategory) Valid() bool {
	switch c {
	case CategoryTechnical, CategoryBilling, CategoryFeatureRequest, CategoryTournamentIssue,
		CategoryQuestionIssue, CategoryAccountAccess, CategoryOther:
		return true
	}
	return false
}

type TicketPriority string

const (
	PriorityLow    TicketPriority = "LOW"
	PriorityMedium TicketPriority = "MEDIUM"
	PriorityHigh   TicketPriority = "HIGH"
	PriorityUrgent TicketPriority = "URGENT"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Weight orders the platform queue; higher is served first.
func (p TicketPriority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	}
	return 0
}

// Ticket is the support metadata attached 1:1 to a SUPPORT or
// PLATFORM_SUPPORT channel. Its status mirrors the channel's.
type Ticket struct {
	ID        string         `json:"id"`
	ChannelID string         `json:"channel_id"`
	Subject   string         `json:"subject"`
	Category  TicketCategory `json:"category"`
	Priority  TicketPriority `json:"priority"`
	Status    ChannelStatus  `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
