package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/learncore/internal/rbac"
)

func probe(t *testing.T, v *Verifier, header string) (int, rbac.Identity) {
	t.Helper()
	var got rbac.Identity
	h := JWTMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = rbac.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, got
}

func TestJWTMiddleware(t *testing.T) {
	v := NewVerifier("secret", "learncore-test")
	want := rbac.Identity{Subject: "u1", Role: "student", Status: "active", Approved: true}
	tok, err := v.Issue(want, time.Hour)
	require.NoError(t, err)

	code, id := probe(t, v, "Bearer "+tok)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, want, id)

	code, id = probe(t, v, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, rbac.Unauthenticated, rbac.StateOf(id))

	code, _ = probe(t, v, "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestParseRejects(t *testing.T) {
	v := NewVerifier("secret", "learncore-test")

	expired, err := v.Issue(rbac.Identity{Subject: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(expired)
	assert.Error(t, err)

	other, err := NewVerifier("other", "learncore-test").Issue(rbac.Identity{Subject: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(other)
	assert.Error(t, err)

	foreign, err := NewVerifier("secret", "someone-else").Issue(rbac.Identity{Subject: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(foreign)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "iss": "learncore-test"})
	s, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Parse(s)
	assert.Error(t, err)
}
