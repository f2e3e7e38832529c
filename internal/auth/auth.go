// Package auth issues and verifies the JWT sessions used by the admin
// console. Admin credentials are configured, not stored; the password check
// uses a bcrypt hash so the plain password never lives in config.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ChairsideAI/Chairside/internal/models"
)

// TokenTTL is how long an admin session token stays valid.
const TokenTTL = 24 * time.Hour

// Opts holds configuration for the authenticator.
type Opts struct {
	// AdminUsername is the configured admin login name.
	AdminUsername string
	// AdminPasswordHash is the bcrypt hash of the admin password.
	AdminPasswordHash string
	// JWTSecret signs session tokens.
	JWTSecret string
}

// Option defines a configuration option for the authenticator.
type Option func(*Opts)

// WithAdminCredentials sets the admin username and bcrypt password hash.
func WithAdminCredentials(username, passwordHash string) Option {
	return func(o *Opts) {
		o.AdminUsername = username
		o.AdminPasswordHash = passwordHash
	}
}

// WithJWTSecret sets the token signing secret.
func WithJWTSecret(secret string) Option {
	return func(o *Opts) { o.JWTSecret = secret }
}

// Authenticator checks admin credentials and manages session tokens.
type Authenticator struct {
	username     string
	passwordHash string
	secret       []byte
}

// New creates an authenticator. All three settings are required.
func New(opts ...Option) (*Authenticator, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("auth.New",
		"username_set", cfg.AdminUsername != "",
		"passwordHash_set", cfg.AdminPasswordHash != "",
		"secret_set", cfg.JWTSecret != "")
	if cfg.AdminUsername == "" || cfg.AdminPasswordHash == "" {
		return nil, fmt.Errorf("admin credentials must be provided")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret must be provided")
	}
	return &Authenticator{
		username:     cfg.AdminUsername,
		passwordHash: cfg.AdminPasswordHash,
		secret:       []byte(cfg.JWTSecret),
	}, nil
}

// HashPassword produces a bcrypt hash suitable for AdminPasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Login checks the credentials and returns a signed session token. The
// comparison happens server-side only; credentials never reach the client.
func (a *Authenticator) Login(username, password string) (string, error) {
	if username != a.username {
		slog.Warn("auth.Login: unknown username")
		return "", models.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)); err != nil {
		slog.Warn("auth.Login: password mismatch")
		return "", models.ErrInvalidCredentials
	}

	claims := jwt.MapClaims{
		"sub": username,
		"exp": time.Now().Add(TokenTTL).Unix(),
		"iat": time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	slog.Info("auth.Login: admin session issued", "username", username)
	return token, nil
}

// Verify parses and validates a session token, returning its subject.
func (a *Authenticator) Verify(tokenStr string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", models.ErrInvalidCredentials
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", models.ErrInvalidCredentials
	}
	return sub, nil
}

// Middleware rejects requests without a valid Bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "missing or invalid token", http.StatusUnauthorized)
			return
		}
		if _, err := a.Verify(strings.TrimPrefix(header, "Bearer ")); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
