package domain

import (
	"context"
	"slices"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
)

// Operator is the authenticated caller of an operator-facing endpoint.
// Identity is issued by the external auth service.
type Operator struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}

func (o Operator) IsAdmin() bool {
	return o.Role == RoleAdmin
}

type Authenticator interface {
	Verify(ctx context.Context, token string) (*Operator, error)
}

// Area groups screens under one manager. Its lifecycle is owned elsewhere;
// the core only reads it for targeting and authorization.
type Area struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ManagerID *int64 `json:"managerId,omitempty"`
}

type AreaDirectory interface {
	ListAreas(ctx context.Context) ([]Area, error)
	ManagedAreaIDs(ctx context.Context, userID int64) ([]int64, error)
}

// MayAccess reports whether op may act on a resource in areaID, given the
// areas op manages. Admins may act on anything; managers only inside their areas.
func MayAccess(op Operator, managed []int64, areaID *int64) bool {
	if op.IsAdmin() {
		return true
	}
	return areaID != nil && slices.Contains(managed, *areaID)
}
