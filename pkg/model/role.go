package model

// Role is the actor role supplied by the identity provider and snapshotted
// into participant links.
type Role string

const (
	RoleSuperAdmin     Role = "SUPER_ADMIN"
	RoleTenantAdmin    Role = "TENANT_ADMIN"
	RoleManagementTeam Role = "MANAGEMENT_TEAM"
	RoleParticipant    Role = "PARTICIPANT"
	RoleSystem         Role = "SYSTEM"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleTenantAdmin, RoleManagementTeam, RoleParticipant, RoleSystem:
		return true
	}
	return false
}

// Rank orders roles for "may not outrank the creator" checks. SYSTEM sits
// outside the human hierarchy and ranks lowest.
func (r Role) Rank() int {
	switch r {
	case RoleSuperAdmin:
		return 4
	case RoleTenantAdmin:
		return 3
	case RoleManagementTeam:
		return 2
	case RoleParticipant:
		return 1
	}
	return 0
}

// SenderType maps a role snapshot to the sender type stamped on messages.
func (r Role) SenderType() SenderType {
	return SenderType(r)
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
}
