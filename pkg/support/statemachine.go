package support

import "github.com/mahaj/dupahar-support/pkg/model"

// Action is anything an actor can attempt on a channel. The first group
// moves the channel between states; the second only requires a state.
type Action string

const (
	ActionEscalate   Action = "escalate"
	ActionDeescalate Action = "deescalate"
	ActionResolve    Action = "resolve"
	ActionReopen     Action = "reopen"
	ActionArchive    Action = "archive"

	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionAssign Action = "assign"
	ActionCreate Action = "create"
)

var transitions = map[model.ChannelStatus]map[Action]model.ChannelStatus{
	model.StatusActive: {
		ActionEscalate: model.StatusEscalated,
		ActionResolve:  model.StatusResolved,
		ActionArchive:  model.StatusArchived,
	},
	model.StatusResolved: {
		ActionEscalate: model.StatusEscalated,
		ActionReopen:   model.StatusActive,
		ActionArchive:  model.StatusArchived,
	},
	model.StatusEscalated: {
		ActionDeescalate: model.StatusActive,
		ActionResolve:    model.StatusResolved,
		ActionArchive:    model.StatusArchived,
	},
	model.StatusArchived: {},
}

// Next returns the status reached by applying action to from. Every
// undeclared pair is an error; nothing silently no-ops.
func Next(channelID string, from model.ChannelStatus, action Action) (model.ChannelStatus, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	return from, &InvalidTransitionError{ChannelID: channelID, From: from, Action: action}
}

// requireState checks the non-transition actions: posting needs a live
// channel, assignment needs an open one.
func requireState(ch *model.Channel, action Action) error {
	ok := true
	switch action {
	case ActionWrite:
		ok = ch.Status != model.StatusArchived
	case ActionAssign:
		ok = ch.Status == model.StatusActive || ch.Status == model.StatusEscalated
	}
	if !ok {
		return &InvalidTransitionError{ChannelID: ch.ID, From: ch.Status, Action: action}
	}
	return nil
}
