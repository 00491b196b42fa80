package rbac

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mind-engage/learncore/internal/apperr"
)

func TestStateOf(t *testing.T) {
	cases := []struct {
		name string
		id   Identity
		want AccessState
	}{
		{"anonymous", Identity{}, Unauthenticated},
		{"approved learner", Identity{Subject: "u1", Role: "student", Status: "active", Approved: true}, ActiveApproved},
		{"unapproved learner", Identity{Subject: "u1", Role: "student", Status: "active"}, ActiveUnapproved},
		{"staff implicitly approved", Identity{Subject: "t1", Role: "teacher", Status: "active"}, ActiveApproved},
		{"missing status means active", Identity{Subject: "a1", Role: "admin"}, ActiveApproved},
		{"pending", Identity{Subject: "u1", Role: "student", Status: "pending", Approved: true}, PendingApproval},
		{"suspended wins over approval", Identity{Subject: "u1", Role: "admin", Status: "suspended", Approved: true}, Suspended},
		{"unknown status", Identity{Subject: "u1", Role: "student", Status: "weird", Approved: true}, PendingApproval},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, StateOf(c.id))
		})
	}
}

func TestStateCheck(t *testing.T) {
	assert.NoError(t, ActiveApproved.Check())
	assert.True(t, errors.Is(Unauthenticated.Check(), apperr.ErrUnauthenticated))
	for _, s := range []AccessState{PendingApproval, Suspended, ActiveUnapproved} {
		assert.True(t, errors.Is(s.Check(), apperr.ErrForbidden), s)
	}
}

func serve(h http.Handler, id Identity) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareChain(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireActive()(Require("content:write")(ok))

	assert.Equal(t, http.StatusUnauthorized, serve(h, Identity{}).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, Identity{Subject: "u", Role: "student", Approved: true}).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, Identity{Subject: "t", Role: "teacher", Status: "suspended"}).Code)
	assert.Equal(t, http.StatusNoContent, serve(h, Identity{Subject: "t", Role: "teacher"}).Code)

	rec := serve(RequireActive()(ok), Identity{Subject: "u", Role: "student"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not_approved"`)
}

func TestPolicyPatterns(t *testing.T) {
	p := DefaultPolicy
	teacher := Identity{Subject: "t", Role: "teacher"}
	student := Identity{Subject: "u", Role: "student"}
	assert.True(t, p.Allows(teacher, "content:keys"))
	assert.False(t, p.Allows(student, "content:keys"))
	assert.True(t, p.Allows(student, "content:read"))
	assert.True(t, p.Allows(Identity{Role: "admin"}, "anything"))
	assert.False(t, p.Allows(Identity{Role: "ghost"}, "content:read"))
	assert.False(t, p.Allows(Identity{}), "no role holds nothing")
	assert.True(t, p.Allows(teacher, "submission:rescore", "content:keys"))
	assert.False(t, p.Allows(student, "content:read", "content:write"))
	assert.True(t, p.AllowsAny(student, "content:write", "submission:create"))
	assert.False(t, p.AllowsAny(student, "content:write", "submission:view-all"))
	assert.False(t, Policy{"x": {"content:*"}}.Allows(Identity{Role: "x"}, "contents"))
}

func TestRequireAny(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireAny("submission:view-own", "submission:view-all")(ok)

	assert.Equal(t, http.StatusNoContent, serve(h, Identity{Subject: "u", Role: "student"}).Code)
	assert.Equal(t, http.StatusNoContent, serve(h, Identity{Subject: "t", Role: "teacher"}).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, Identity{Subject: "g", Role: "ghost"}).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, Identity{}).Code)
}
