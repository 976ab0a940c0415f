// Package session holds the logged-in user and the stores that keep it
// between requests and CLI invocations.
package session

import (
	"context"
	"errors"
)

// Role is the backend role of a user
type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleAuthorizer  Role = "AUTHORIZER"
	RoleHospital    Role = "HOSPITAL"
	RoleBeneficiary Role = "BENEFICIARY"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotLoggedIn     = errors.New("not logged in")
)

// User is the logged-in identity returned by the backend login.
type User struct {
	UserID     int    `json:"user_id"`
	HospitalID int    `json:"hospital_id,omitempty"`
	Role       Role   `json:"role"`
	Name       string `json:"name"`
	State      string `json:"state,omitempty"`
	Token      string `json:"token,omitempty"`
}

// Home returns the dashboard route for the user's role
func (u User) Home() string {
	switch u.Role {
	case RoleAdmin:
		return "/dashboard/admin"
	case RoleAuthorizer:
		return "/dashboard/authorizer"
	case RoleHospital:
		return "/dashboard/hospital"
	case RoleBeneficiary:
		return "/dashboard/beneficiary"
	default:
		return "/"
	}
}

// Is reports whether the user has one of roles
func (u User) Is(roles ...Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

type contextKey string

const userKey contextKey = "session_user"

// WithUser returns a context carrying u
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// FromContext extracts the user from ctx
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	return u, ok
}
