package rbac

import "strings"

// Policy maps a role to its granted permission patterns. A pattern is an
// exact permission, a prefix ending in "*", or "*" alone.
type Policy map[string][]string

// DefaultPolicy: learners read content through stripped views; only
// holders of content:keys see answer keys.
var DefaultPolicy = Policy{
	"student": {
		"content:read",
		"submission:create",
		"submission:view-own",
		"progress:view-own",
		"enrollment:manage-own",
		"certificate:claim",
	},
	"teacher": {
		"content:*",
		"submission:*",
		"progress:view-own",
		"enrollment:manage-own",
	},
	"admin": {
		"*", // everything
	},
}

// Allows reports whether id holds every one of perms.
func (p Policy) Allows(id Identity, perms ...string) bool {
	for _, perm := range perms {
		if !p.grants(id.Role, perm) {
			return false
		}
	}
	return id.Role != ""
}

// AllowsAny reports whether id holds at least one of perms.
func (p Policy) AllowsAny(id Identity, perms ...string) bool {
	for _, perm := range perms {
		if p.grants(id.Role, perm) {
			return true
		}
	}
	return false
}

func (p Policy) grants(role, perm string) bool {
	for _, pattern := range p[role] {
		prefix, wild := strings.CutSuffix(pattern, "*")
		if pattern == perm || (wild && strings.HasPrefix(perm, prefix)) {
			return true
		}
	}
	return false
}
