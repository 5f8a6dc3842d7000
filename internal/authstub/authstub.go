// Package authstub provides the role-gate shape the HTTP write routes check
// against, plus JWT issuance/verification scaffolding. Real user management
// (signup, credential storage, token revocation) is out of scope per the
// spec's non-goals; this package only issues and checks tokens so the write
// routes have something to gate on.
package authstub

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Role is one of the three access levels the write routes gate on.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

var ErrMissingToken = errors.New("authstub: missing or malformed bearer token")

// Claims is the JWT payload this stub issues and verifies.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies bearer tokens signed with a static secret. It
// has no concept of a user store: HashPassword/CheckPassword are provided
// so a future real implementation can slot in without changing the route
// wiring, but nothing here persists a credential.
type Issuer struct {
	secret   []byte
	lifetime time.Duration
}

func NewIssuer(secret string, lifetime time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), lifetime: lifetime}
}

// Issue mints a token for the given role, valid for the issuer's configured
// lifetime.
func (i *Issuer) Issue(role Role) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(i.secret)
}

// Verify parses and validates a bearer token, returning its role.
func (i *Issuer) Verify(raw string) (Role, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("authstub: %w", err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return "", errors.New("authstub: invalid token")
	}
	return claims.Role, nil
}

// HashPassword and CheckPassword are unused by any route today; they exist
// so a real credential store can be wired in later without touching the
// route layer's shape.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// RequireRole is HTTP middleware gating a handler behind a minimum role. It
// does not look up any user; it only trusts whatever role Verify returns.
// atLeast ranks viewer < operator < admin.
func RequireRole(iss *Issuer, atLeast Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}
		role, err := iss.Verify(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if rank(role) < rank(atLeast) {
			http.Error(w, "authstub: insufficient role", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func rank(role Role) int {
	switch role {
	case RoleAdmin:
		return 2
	case RoleOperator:
		return 1
	default:
		return 0
	}
}
