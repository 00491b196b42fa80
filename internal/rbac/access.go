package rbac

import (
	"context"
	"strings"

	"github.com/mind-engage/learncore/internal/apperr"
)

// Identity is the already verified caller, as carried in token claims.
type Identity struct {
	Subject  string
	Role     string
	Status   string // active | pending | suspended
	Approved bool
}

// IsStaff reports whether the role authors content. Staff are implicitly
// approved.
func (id Identity) IsStaff() bool {
	return id.Role == "teacher" || id.Role == "admin"
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFromContext(ctx context.Context) Identity {
	if v, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return v
	}
	return Identity{}
}

// AccessState is the caller's position in the account lifecycle.
type AccessState string

const (
	Unauthenticated  AccessState = "unauthenticated"
	PendingApproval  AccessState = "pending_approval"
	Suspended        AccessState = "suspended"
	ActiveUnapproved AccessState = "active_unapproved"
	ActiveApproved   AccessState = "active_approved"
)

// StateOf derives the access state from an identity. Unknown statuses are
// treated as pending so they never grant access.
func StateOf(id Identity) AccessState {
	if strings.TrimSpace(id.Subject) == "" {
		return Unauthenticated
	}
	switch strings.ToLower(strings.TrimSpace(id.Status)) {
	case "suspended", "disabled":
		return Suspended
	case "active", "":
		if id.Approved || id.IsStaff() {
			return ActiveApproved
		}
		return ActiveUnapproved
	}
	return PendingApproval
}

// Check returns nil when the state may use the core, otherwise the error
// to show the caller.
func (s AccessState) Check() error {
	switch s {
	case ActiveApproved:
		return nil
	case Unauthenticated:
		return &apperr.Error{Kind: apperr.KindUnauthenticated, Code: "unauthenticated", Message: "sign in required"}
	case Suspended:
		return &apperr.Error{Kind: apperr.KindForbidden, Code: "suspended", Message: "account suspended"}
	case ActiveUnapproved:
		return &apperr.Error{Kind: apperr.KindForbidden, Code: "not_approved", Message: "account awaiting approval"}
	default:
		return &apperr.Error{Kind: apperr.KindForbidden, Code: "pending_approval", Message: "account pending approval"}
	}
}
