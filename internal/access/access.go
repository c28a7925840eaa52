/*

This file contains the role registry gating administrative engine
operations. Four roles exist: Admin manages parameters and roles, Operator
runs day-to-day maintenance, Guardian can pause, Keeper drives the periodic
fee sweep and compounding loop. The registry refuses to revoke the last
admin so the vault can never become unmanageable.

*/

package access

import (
	"errors"
	"fmt"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnauthorized = errors.New("caller lacks the required role")
	ErrLastAdmin    = errors.New("cannot revoke the last admin")
	ErrRoleExists   = errors.New("account already holds the role")
	ErrRoleMissing  = errors.New("account does not hold the role")
)

// Role is a coarse permission tier.
type Role uint8

const (
	RoleAdmin Role = iota
	RoleOperator
	RoleGuardian
	RoleKeeper
)

// String returns the human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleOperator:
		return "operator"
	case RoleGuardian:
		return "guardian"
	case RoleKeeper:
		return "keeper"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Registry maps accounts to role sets. It is not safe for concurrent use;
// the engine serializes access behind its own lock.
type Registry struct {
	roles map[Role]map[string]bool
}

// NewRegistry creates a registry with the given account as initial admin.
// The initial admin also receives the guardian and keeper roles so a
// single-operator deployment works out of the box.
func NewRegistry(initialAdmin string) *Registry {
	r := &Registry{roles: map[Role]map[string]bool{
		RoleAdmin:    {initialAdmin: true},
		RoleOperator: {},
		RoleGuardian: {initialAdmin: true},
		RoleKeeper:   {initialAdmin: true},
	}}
	return r
}

// HasRole reports whether the account holds the role.
func (r *Registry) HasRole(role Role, account string) bool {
	return r.roles[role][account]
}

// Grant gives the account the role, failing if it already holds it.
func (r *Registry) Grant(role Role, account string) error {
	if r.roles[role] == nil {
		r.roles[role] = map[string]bool{}
	}
	if r.roles[role][account] {
		return fmt.Errorf("%w: %s as %s", ErrRoleExists, account, role)
	}
	r.roles[role][account] = true
	return nil
}

// Revoke removes the role from the account. Revoking the last remaining
// admin is refused.
func (r *Registry) Revoke(role Role, account string) error {
	if !r.roles[role][account] {
		return fmt.Errorf("%w: %s as %s", ErrRoleMissing, account, role)
	}
	if role == RoleAdmin && len(r.roles[RoleAdmin]) == 1 {
		return ErrLastAdmin
	}
	delete(r.roles[role], account)
	return nil
}

// Members returns the accounts currently holding the role.
func (r *Registry) Members(role Role) []string {
	out := make([]string, 0, len(r.roles[role]))
	for account := range r.roles[role] {
		out = append(out, account)
	}
	return out
}

// Require fails with ErrUnauthorized unless the account holds the role.
// Admins implicitly satisfy every role check.
func (r *Registry) Require(role Role, account string) error {
	if r.roles[role][account] || r.roles[RoleAdmin][account] {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s", ErrUnauthorized, account, role)
}

// RequireAdmin fails unless the account is an admin.
func (r *Registry) RequireAdmin(account string) error {
	return r.Require(RoleAdmin, account)
}

// RequireGuardian fails unless the account is a guardian or admin.
func (r *Registry) RequireGuardian(account string) error {
	return r.Require(RoleGuardian, account)
}

// RequireKeeper fails unless the account is a keeper or admin.
func (r *Registry) RequireKeeper(account string) error {
	return r.Require(RoleKeeper, account)
}
