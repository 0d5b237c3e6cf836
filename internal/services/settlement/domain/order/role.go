package order

import "strings"

// Role identifies the kind of caller requesting a change.
type Role string

const (
	RoleUnspecified Role = ""
	RoleBuyer       Role = "buyer"
	RoleSeller      Role = "seller"
	RoleAdmin       Role = "admin"
	RoleSystem      Role = "system"
)

// ParseRole canonicalizes a role label. Unknown labels map to
// RoleUnspecified, which holds no permissions.
func ParseRole(value string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleBuyer:
		return RoleBuyer
	case RoleSeller:
		return RoleSeller
	case RoleAdmin:
		return RoleAdmin
	case RoleSystem:
		return RoleSystem
	default:
		return RoleUnspecified
	}
}

// CanActorSetStatus reports whether role may request a move into to.
func CanActorSetStatus(role Role, to Status) bool {
	switch role {
	case RoleSeller:
		switch to {
		case StatusSellerApproved, StatusRejected, StatusAwaitingPayment,
			StatusPreparing, StatusReady, StatusInDelivery, StatusDelivered:
			return true
		}
	case RoleBuyer:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}
