package support

import "github.com/mahaj/dupahar-support/pkg/model"

type scope int

const (
	// scopeOwn: only channels the actor participates in.
	scopeOwn scope = iota
	// scopeTenant: any channel of the actor's tenant.
	scopeTenant
	// scopeAny: every channel.
	scopeAny
)

type grant struct {
	scope   scope
	actions map[Action]bool
}

func actions(list ...Action) map[Action]bool {
	m := make(map[Action]bool, len(list))
	for _, a := range list {
		m[a] = true
	}
	return m
}

var tenantStaff = actions(ActionRead, ActionWrite, ActionEscalate, ActionDeescalate, ActionResolve, ActionReopen, ActionArchive)

// capabilities is the single source of truth for who may do what.
// deescalate and reopen ride on escalate and resolve respectively.
var capabilities = map[model.Role]grant{
	model.RoleParticipant:    {scope: scopeOwn, actions: actions(ActionRead, ActionWrite)},
	model.RoleTenantAdmin:    {scope: scopeTenant, actions: tenantStaff},
	model.RoleManagementTeam: {scope: scopeTenant, actions: tenantStaff},
	model.RoleSuperAdmin: {scope: scopeAny, actions: actions(ActionRead, ActionWrite, ActionEscalate,
		ActionDeescalate, ActionResolve, ActionReopen, ActionArchive, ActionAssign)},
	model.RoleSystem: {scope: scopeAny, actions: actions(ActionRead, ActionWrite)},
}

// EffectiveRole is the role an actor speaks with in a channel: the
// participant link's snapshot, unless the actor's global role outranks it.
// Joining a channel never takes capabilities away.
func EffectiveRole(actor model.Actor, ch *model.Channel) model.Role {
	if p, ok := ch.Participant(actor.UserID); ok && p.Role.Rank() >= actor.Role.Rank() {
		return p.Role
	}
	return actor.Role
}

// Authorize is a pure function of the actor, the channel and the action. The
// participant snapshot and the global role are each checked against the
// capability table; either one granting the action within its scope is
// enough.
func Authorize(actor model.Actor, ch *model.Channel, action Action) bool {
	// Assignment is a platform-support activity.
	if action == ActionAssign && !ch.PlatformRouted() {
		return false
	}
	if p, ok := ch.Participant(actor.UserID); ok && permits(p.Role, actor, ch, action) {
		return true
	}
	return permits(actor.Role, actor, ch, action)
}

func permits(role model.Role, actor model.Actor, ch *model.Channel, action Action) bool {
	g, ok := capabilities[role]
	if !ok || !g.actions[action] {
		return false
	}
	switch g.scope {
	case scopeOwn:
		return ch.HasParticipant(actor.UserID)
	case scopeTenant:
		// The assignee works the channel whichever tenant they belong to.
		if ch.AssigneeID != "" && ch.AssigneeID == actor.UserID {
			return true
		}
		return actor.TenantID != "" && actor.TenantID == ch.TenantID
	}
	return true
}

// authorize wraps Authorize with the typed error callers receive.
func authorize(actor model.Actor, ch *model.Channel, action Action) error {
	if Authorize(actor, ch, action) {
		return nil
	}
	return &AuthorizationError{
		ActorID:   actor.UserID,
		Role:      EffectiveRole(actor, ch),
		ChannelID: ch.ID,
		Action:    action,
	}
}

// canCreate decides channel creation, which has no channel to check against
// yet. PLATFORM_SUPPORT channels are opened by tenant staff talking to the
// platform.
func canCreate(actor model.Actor, typ model.ChannelType) bool {
	switch actor.Role {
	case model.RoleSuperAdmin, model.RoleSystem, model.RoleTenantAdmin, model.RoleManagementTeam:
		return true
	case model.RoleParticipant:
		return typ != model.ChannelPlatformSupport
	}
	return false
}
