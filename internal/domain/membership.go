package domain

import "github.com/google/uuid"

// MemberRole is a member's role within their family group.
type MemberRole string

// Possible member roles
const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

// Membership ties an authenticated member to the family group whose pool
// they work on. It is owned by the membership subsystem; the pool only reads it.
type Membership struct {
	GroupID     uuid.UUID  `json:"group_id"`
	MemberID    uuid.UUID  `json:"member_id"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        MemberRole `json:"role"`
}

// IsOwner reports whether the member owns the group.
func (m *Membership) IsOwner() bool {
	return m.Role == RoleOwner
}

// CanDelete reports whether the member may delete the task: only its
// uploader or the group owner can.
func (m *Membership) CanDelete(t *PoolTask) bool {
	if t.GroupID != m.GroupID {
		return false
	}
	return t.SubmitterID == m.MemberID || m.IsOwner()
}
