package auth

import (
	"quote-service/pkg/jwt"
)

// Role names as issued by the identity provider.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleBooker     = "booker"
	RolePassenger  = "passenger"
	RoleDriver     = "driver"
)

// Action names the record-scoped operations the policy evaluator knows about.
type Action string

const (
	ActionRead        Action = "read"
	ActionAcknowledge Action = "acknowledge"
	ActionRespond     Action = "respond"
	ActionAccept      Action = "accept"
	ActionCancel      Action = "cancel"
)

// Policy names the role-only gates.
type Policy string

const (
	PolicyStaff    Policy = "staff"    // admin or dispatcher
	PolicyCustomer Policy = "customer" // booker or passenger
	PolicyReporter Policy = "reporter" // may ingest driver positions
)

// IsStaff reports whether the role belongs to the staff tier.
func IsStaff(role string) bool {
	return role == RoleAdmin || role == RoleDispatcher
}

// IsCustomer reports whether the role belongs to the customer tier.
func IsCustomer(role string) bool {
	return role == RoleBooker || role == RolePassenger
}

// Authorize evaluates a role-only gate. Role gates run before any record is
// loaded; a failed gate is a flat 403.
func Authorize(claims *jwt.Claims, policy Policy) bool {
	if claims == nil {
		return false
	}
	switch policy {
	case PolicyStaff:
		return IsStaff(claims.Role)
	case PolicyCustomer:
		return IsCustomer(claims.Role)
	case PolicyReporter:
		return claims.Role == RoleDriver || IsStaff(claims.Role)
	}
	return false
}

// CanActOnRecord evaluates a record-scoped gate against the record's owner.
//
// Staff may read, acknowledge, respond and cancel on any record. Customers
// may act only on records they own. Accept is the single exception to the
// staff-can-act-on-anything rule: it implies financial consent that only the
// requester can give, so it is owner-only and customer-only. Keep that rule
// here and nowhere else; do not add a staff bypass upstream.
func CanActOnRecord(claims *jwt.Claims, ownerUserID string, action Action) bool {
	if claims == nil {
		return false
	}
	if action == ActionAccept {
		return acceptRequiresOwner(claims, ownerUserID)
	}
	if IsStaff(claims.Role) {
		return true
	}
	return claims.UserID == ownerUserID
}

// acceptRequiresOwner is the named form of the accept exception: the actor
// must be a customer and must be the record owner. Staff are denied even
// though they own broader access everywhere else.
func acceptRequiresOwner(claims *jwt.Claims, ownerUserID string) bool {
	return IsCustomer(claims.Role) && claims.UserID == ownerUserID
}
