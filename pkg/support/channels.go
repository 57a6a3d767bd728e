package support

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/dupahar-support/pkg/model"
)

type ParticipantInput struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role,omitempty"`
}

type TicketInput struct {
	Subject  string               `json:"subject"`
	Category model.TicketCategory `json:"category"`
	Priority model.TicketPriority `json:"priority,omitempty"`
}

type CreateChannelInput struct {
	TenantID     string             `json:"tenant_id,omitempty"`
	Type         model.ChannelType  `json:"type"`
	Participants []ParticipantInput `json:"participants"`
	Ticket       *TicketInput       `json:"ticket,omitempty"`
}

// CreateChannel opens a channel in ACTIVE state. The creator joins with their
// current role; listed participants default to PARTICIPANT and may not
// outrank the creator. A SYSTEM actor may open a channel without listing
// anybody, in which case it becomes the sole participant.
func (s *Service) CreateChannel(ctx context.Context, actor model.Actor, in CreateChannelInput) (*model.Channel, error) {
	if !in.Type.Valid() {
		return nil, &ValidationError{Field: "type", Reason: "unknown channel type " + quote(string(in.Type))}
	}
	if actor.UserID == "" || !actor.Role.Valid() {
		return nil, &ValidationError{Field: "actor", Reason: "user id and a known role are required"}
	}

	tenant := in.TenantID
	if tenant == "" {
		tenant = actor.TenantID
	}
	if tenant == "" {
		return nil, &ValidationError{Field: "tenant_id", Reason: "is required"}
	}
	crossTenant := tenant != actor.TenantID && actor.Role != model.RoleSuperAdmin && actor.Role != model.RoleSystem
	if crossTenant || !canCreate(actor, in.Type) {
		return nil, &AuthorizationError{ActorID: actor.UserID, Role: actor.Role, Action: ActionCreate}
	}

	system := actor.Role == model.RoleSystem
	if len(in.Participants) == 0 && !system {
		return nil, &ValidationError{Field: "participants", Reason: "at least one participant is required"}
	}

	now := s.stamp(time.Time{})
	participants, err := buildParticipants(actor, in.Participants, now)
	if err != nil {
		return nil, err
	}

	ch := &model.Channel{
		ID:           uuid.NewString(),
		TenantID:     tenant,
		Type:         in.Type,
		Status:       model.StatusActive,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		Participants: participants,
	}

	ticket, err := buildTicket(ch, in.Ticket)
	if err != nil {
		return nil, err
	}
	ch.Ticket = ticket

	if err := s.store.CreateChannel(ctx, ch); err != nil {
		return nil, err
	}
	s.logger.Info("channel created", "channel_id", ch.ID, "type", ch.Type, "tenant_id", ch.TenantID, "actor", actor.UserID)
	s.publish(ctx, model.Event{
		Type:      model.EventChannelCreated,
		ChannelID: ch.ID,
		UserID:    actor.UserID,
		Channel:   ch,
		Timestamp: ch.CreatedAt,
	})
	s.syncPlatformQueue(ctx, nil, ch)
	return ch, nil
}

func buildParticipants(actor model.Actor, in []ParticipantInput, now time.Time) ([]model.Participant, error) {
	seen := make(map[string]bool, len(in)+1)
	var out []model.Participant

	if actor.Role != model.RoleSystem || len(in) == 0 {
		out = append(out, model.Participant{UserID: actor.UserID, Role: actor.Role, JoinedAt: now})
		seen[actor.UserID] = true
	}

	for _, p := range in {
		id := strings.TrimSpace(p.UserID)
		if id == "" {
			return nil, &ValidationError{Field: "participants", Reason: "user_id must not be empty"}
		}
		role := p.Role
		if role == "" {
			role = model.RoleParticipant
		}
		if !role.Valid() {
			return nil, &ValidationError{Field: "participants", Reason: "unknown role " + quote(string(role))}
		}
		if actor.Role != model.RoleSystem && role.Rank() > actor.Role.Rank() {
			return nil, &ValidationError{Field: "participants", Reason: "role " + string(role) + " outranks the creator"}
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, model.Participant{UserID: id, Role: role, JoinedAt: now})
	}
	return out, nil
}

func buildTicket(ch *model.Channel, in *TicketInput) (*model.Ticket, error) {
	if !ch.Type.HasTicket() {
		if in != nil {
			return nil, &ValidationError{Field: "ticket", Reason: "only support channels carry a ticket"}
		}
		return nil, nil
	}
	if in == nil {
		return nil, &ValidationError{Field: "ticket", Reason: "support channels require ticket details"}
	}

	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return nil, &ValidationError{Field: "ticket.subject", Reason: "is required"}
	}
	if !in.Category.Valid() {
		return nil, &ValidationError{Field: "ticket.category", Reason: "unknown category " + quote(string(in.Category))}
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return nil, &ValidationError{Field: "ticket.priority", Reason: "unknown priority " + quote(string(priority))}
	}

	return &model.Ticket{
		ID:        uuid.NewString(),
		ChannelID: ch.ID,
		Subject:   subject,
		Category:  in.Category,
		Priority:  priority,
		Status:    ch.Status,
		CreatedAt: ch.CreatedAt,
		UpdatedAt: ch.UpdatedAt,
	}, nil
}

func quote(s string) string { return `"` + s + `"` }
