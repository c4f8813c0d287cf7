package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenLifetime = 12 * time.Hour

// Auth issues and verifies admin bearer tokens against the single configured
// operator account.
type Auth struct {
	username     string
	passwordHash string
	secret       []byte
}

// NewAuth creates the admin authenticator. An empty password hash disables
// login entirely (every attempt fails), which is the safe default for
// unconfigured deployments.
func NewAuth(username, passwordHash, secret string) *Auth {
	return &Auth{
		username:     username,
		passwordHash: passwordHash,
		secret:       []byte(secret),
	}
}

// Login verifies credentials and returns a signed token.
func (a *Auth) Login(username, password string) (string, error) {
	if a.passwordHash == "" || len(a.secret) == 0 {
		return "", fmt.Errorf("admin access is not configured")
	}
	if username != a.username {
		return "", fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenLifetime)),
		Issuer:    "educti",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates a bearer token and returns the subject.
func (a *Auth) Verify(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("admin access is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.Subject, nil
}

// RequireAuth is middleware enforcing a valid bearer token.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := a.Verify(strings.TrimPrefix(header, "Bearer ")); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
