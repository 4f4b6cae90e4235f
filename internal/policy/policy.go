// Package policy centralizes role-based authorization decisions so
// handlers never compare role strings directly.
package policy

import (
	"errors"

	"github.com/passkeep/passkeep/pkg/models"
)

// ErrForbidden is returned when the actor's role does not permit the
// attempted operation.
var ErrForbidden = errors.New("forbidden")

var roleRank = map[string]int{
	models.RoleMember: 1,
	models.RoleAdmin:  2,
	models.RoleOwner:  3,
}

func atLeast(role, required string) bool {
	return roleRank[role] >= roleRank[required]
}

// CanManageOrg reports whether role may delete the organization or
// change ownership. Owner only.
func CanManageOrg(role string) bool {
	return atLeast(role, models.RoleOwner)
}

// CanAdminister reports whether role may change settings, deny
// emergency requests, revoke other members' artifacts, and read the
// audit log.
func CanAdminister(role string) bool {
	return atLeast(role, models.RoleAdmin)
}

// CanWriteItems reports whether role may create and modify vault items
// and issue share links. Every member can.
func CanWriteItems(role string) bool {
	return atLeast(role, models.RoleMember)
}

// Require returns ErrForbidden unless check passes for role.
func Require(role string, check func(string) bool) error {
	if !check(role) {
		return ErrForbidden
	}
	return nil
}
