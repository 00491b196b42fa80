package rbac

import (
	"net/http"

	"github.com/mind-engage/learncore/internal/apperr"
)

var errForbidden = &apperr.Error{Kind: apperr.KindForbidden, Code: "forbidden", Message: "forbidden"}

// RequireActive admits only callers in the active_approved state.
func RequireActive() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := StateOf(IdentityFromContext(r.Context())).Check(); err != nil {
				apperr.WriteJSON(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require admits callers holding every one of perms.
func Require(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !DefaultPolicy.Allows(IdentityFromContext(r.Context()), perms...) {
				apperr.WriteJSON(w, errForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny admits callers holding at least one of perms.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !DefaultPolicy.AllowsAny(IdentityFromContext(r.Context()), perms...) {
				apperr.WriteJSON(w, errForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Can reports whether the caller on r holds perm.
func Can(r *http.Request, perm string) bool {
	return DefaultPolicy.Allows(IdentityFromContext(r.Context()), perm)
}
