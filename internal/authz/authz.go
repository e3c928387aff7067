package authz

import (
	"context"
	"errors"
)

// Roles recognized by the service. Administrative operations (bulk slot
// reclamation, stats) require RoleAdmin.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var (
	ErrNotPermitted = errors.New("operation not permitted")
)

// Actor identifies the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role Role
}

// Authorizer performs capability checks before any state mutation. The
// orchestrator calls these explicitly rather than relying on transport
// middleware, so the rules hold for every entry point (including the reaper's
// system actor).
type Authorizer interface {
	// CanManageSession reports whether the actor may operate on sessions
	// owned by ownerID.
	CanManageSession(ctx context.Context, actor Actor, ownerID string) error

	// CanAdminister reports whether the actor may invoke administrative
	// operations.
	CanAdminister(ctx context.Context, actor Actor) error
}

// SystemActor is used by background workers (the reaper) that act on any
// owner's sessions.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}

// roleAuthorizer is the default claims-based Authorizer: owners manage their
// own sessions, admins manage everything.
type roleAuthorizer struct{}

// NewRoleAuthorizer creates the default role-based Authorizer.
func NewRoleAuthorizer() Authorizer {
	return roleAuthorizer{}
}

func (roleAuthorizer) CanManageSession(_ context.Context, actor Actor, ownerID string) error {
	if actor.Role == RoleAdmin {
		return nil
	}
	if actor.ID != "" && actor.ID == ownerID {
		return nil
	}
	return ErrNotPermitted
}

func (roleAuthorizer) CanAdminister(_ context.Context, actor Actor) error {
	if actor.Role == RoleAdmin {
		return nil
	}
	return ErrNotPermitted
}
