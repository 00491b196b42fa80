package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/rbac"
)

// Verifier checks HS256 bearer tokens minted by the identity provider.
type Verifier struct {
	hmac   []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{hmac: []byte(secret), issuer: issuer}
}

type Claims struct {
	Sub      string `json:"sub"`
	Role     string `json:"role"`   // student | teacher | admin
	Status   string `json:"status"` // active | pending | suspended
	Approved bool   `json:"approved"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() rbac.Identity {
	return rbac.Identity{Subject: c.Sub, Role: c.Role, Status: c.Status, Approved: c.Approved}
}

// Issue signs a token for id. Used by offline tooling and tests.
func (v *Verifier) Issue(id rbac.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Sub:      id.Subject,
		Role:     id.Role,
		Status:   id.Status,
		Approved: id.Approved,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.hmac)
}

func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.hmac, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

// JWTMiddleware attaches the caller identity. Requests without a bearer
// token continue anonymously; a token that fails verification is rejected.
func JWTMiddleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			c, err := v.Parse(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
			if err != nil {
				apperr.WriteJSON(w, &apperr.Error{Kind: apperr.KindUnauthenticated, Code: "bad_token", Message: "invalid bearer token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(rbac.WithIdentity(r.Context(), c.Identity())))
		})
	}
}
