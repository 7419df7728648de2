package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JakeFAU/site-audit/internal/hash/sha256"
)

const (
	adminScope  = "admin"
	tokenIssuer = "siteaudit"
)

var errUnauthorized = errors.New("unauthorized")

// AdminAuth validates admin bearer tokens. A request passes with the static Token or with an
// HS256 JWT signed with JWTSecret carrying scope=admin. Empty fields disable that method.
type AdminAuth struct {
	Token     string
	JWTSecret []byte
	Now       func() time.Time
}

type adminClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Enabled reports whether any credential is configured.
func (a AdminAuth) Enabled() bool {
	return a.Token != "" || len(a.JWTSecret) > 0
}

// Check validates the Authorization header value.
func (a AdminAuth) Check(header string) error {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return fmt.Errorf("%w: missing bearer token", errUnauthorized)
	}
	if a.Token != "" && sha256.Equal(raw, a.Token) {
		return nil
	}
	if len(a.JWTSecret) == 0 {
		return fmt.Errorf("%w: invalid token", errUnauthorized)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	}
	if a.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(a.Now))
	}
	var claims adminClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.JWTSecret, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", errUnauthorized, err)
	}
	if claims.Scope != adminScope {
		return fmt.Errorf("%w: scope %q", errUnauthorized, claims.Scope)
	}
	return nil
}

// MintAdminToken signs an admin JWT for subject valid for ttl.
func MintAdminToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be > 0")
	}
	claims := adminClaims{
		Scope: adminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.admin.Check(r.Header.Get("Authorization")); err != nil {
			s.seclog.SuspiciousActivity(s.clientIP(r), r.UserAgent(), "admin access denied on "+r.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
