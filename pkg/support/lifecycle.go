package support

import (
	"context"
	"strings"

	"github.com/mahaj/dupahar-support/pkg/model"
)

// transition runs one state-machine step under the channel lock: load,
// authorize, check the edge, save with the loaded version. Nothing is written
// when any step fails. mutate may record extra fields on the copy or reject
// it; it only runs once the edge is known to be legal.
//
// Events and the queue reconcile go out after the lock is released.
func (s *Service) transition(ctx context.Context, actor model.Actor, channelID string, action Action, mutate func(*model.Channel) error) (*model.Channel, error) {
	current, next, err := s.commitTransition(ctx, actor, channelID, action, mutate)
	if err != nil {
		return nil, err
	}

	s.logger.Info("channel transition",
		"channel_id", next.ID, "action", action, "from", current.Status, "to", next.Status, "actor", actor.UserID)
	s.publish(ctx, model.Event{
		Type:      model.EventChannelStatusChanged,
		ChannelID: next.ID,
		UserID:    actor.UserID,
		Channel:   next,
		Timestamp: next.UpdatedAt,
	})
	if action == ActionEscalate {
		s.publish(ctx, model.Event{
			Type:      model.EventTicketEscalated,
			ChannelID: next.ID,
			UserID:    actor.UserID,
			Channel:   next,
			Reason:    next.EscalationReason,
			Timestamp: next.UpdatedAt,
		})
	}
	s.syncPlatformQueue(ctx, current, next)
	return next, nil
}

func (s *Service) commitTransition(ctx context.Context, actor model.Actor, channelID string, action Action, mutate func(*model.Channel) error) (current, next *model.Channel, err error) {
	unlock, err := s.locks.lock(ctx, channelID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err = s.load(ctx, channelID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(actor, current, action); err != nil {
		return nil, nil, err
	}
	to, err := Next(current.ID, current.Status, action)
	if err != nil {
		return nil, nil, err
	}

	next = current.Clone()
	next.Status = to
	next.Version = current.Version + 1
	next.UpdatedAt = s.stamp(current.UpdatedAt)
	if next.Ticket != nil {
		next.Ticket.Status = to
		next.Ticket.UpdatedAt = next.UpdatedAt
	}
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, nil, err
		}
	}

	if err := s.save(ctx, next, current.Version); err != nil {
		return nil, nil, err
	}
	return current, next, nil
}

// Escalate hands the channel to platform support. The stored type is left
// alone; PlatformRouted reflects the new routing.
func (s *Service) Escalate(ctx context.Context, actor model.Actor, channelID, reason string) (*model.Channel, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, actor, channelID, ActionEscalate, func(ch *model.Channel) error {
		if reason == "" {
			return &ValidationError{Field: "reason", Reason: "is required"}
		}
		ch.EscalationReason = reason
		return nil
	})
}

// Deescalate returns an escalated channel to tenant support.
func (s *Service) Deescalate(ctx context.Context, actor model.Actor, channelID string) (*model.Channel, error) {
	return s.transition(ctx, actor, channelID, ActionDeescalate, nil)
}

func (s *Service) Resolve(ctx context.Context, actor model.Actor, channelID, note string) (*model.Channel, error) {
	note = strings.TrimSpace(note)
	return s.transition(ctx, actor, channelID, ActionResolve, func(ch *model.Channel) error {
		ch.ResolutionNote = note
		return nil
	})
}

func (s *Service) Reopen(ctx context.Context, actor model.Actor, channelID string) (*model.Channel, error) {
	return s.transition(ctx, actor, channelID, ActionReopen, func(ch *model.Channel) error {
		ch.ResolutionNote = ""
		return nil
	})
}

// Archive is terminal. A second call fails with InvalidTransitionError.
func (s *Service) Archive(ctx context.Context, actor model.Actor, channelID string) (*model.Channel, error) {
	return s.transition(ctx, actor, channelID, ActionArchive, nil)
}

type AssignInput struct {
	AssigneeID   string     `json:"assignee_id"`
	AssigneeRole model.Role `json:"assignee_role,omitempty"`
}

// Assign records a platform-side owner for the channel and adds them as a
// participant. Status does not change.
func (s *Service) Assign(ctx context.Context, actor model.Actor, channelID string, in AssignInput) (*model.Channel, error) {
	assignee := strings.TrimSpace(in.AssigneeID)
	if assignee == "" {
		return nil, &ValidationError{Field: "assignee_id", Reason: "is required"}
	}
	role := in.AssigneeRole
	if role == "" && assignee == actor.UserID {
		role = actor.Role
	}
	if role != model.RoleManagementTeam && role != model.RoleSuperAdmin {
		return nil, &ValidationError{Field: "assignee_role", Reason: "must be MANAGEMENT_TEAM or SUPER_ADMIN"}
	}

	next, err := s.commitAssign(ctx, actor, channelID, assignee, role)
	if err != nil {
		return nil, err
	}

	s.logger.Info("channel assigned", "channel_id", next.ID, "assignee", assignee, "actor", actor.UserID)
	s.publish(ctx, model.Event{
		Type:       model.EventChannelAssigned,
		ChannelID:  next.ID,
		UserID:     actor.UserID,
		AssigneeID: assignee,
		Channel:    next,
		Timestamp:  next.UpdatedAt,
	})
	return next, nil
}

func (s *Service) commitAssign(ctx context.Context, actor model.Actor, channelID, assignee string, role model.Role) (*model.Channel, error) {
	unlock, err := s.locks.lock(ctx, channelID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current, ActionAssign); err != nil {
		return nil, err
	}
	if err := requireState(current, ActionAssign); err != nil {
		return nil, err
	}

	next := current.Clone()
	next.Version = current.Version + 1
	next.UpdatedAt = s.stamp(current.UpdatedAt)
	next.AssigneeID = assignee
	linked := false
	for i := range next.Participants {
		if next.Participants[i].UserID == assignee {
			next.Participants[i].Role = role
			linked = true
		}
	}
	if !linked {
		next.Participants = append(next.Participants, model.Participant{UserID: assignee, Role: role, JoinedAt: next.UpdatedAt})
	}

	if err := s.save(ctx, next, current.Version); err != nil {
		return nil, err
	}
	return next, nil
}
