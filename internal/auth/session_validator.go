package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionIssuer names this service in issued session tokens.
	DefaultSessionIssuer = "compliance-portal"
	// DefaultSessionCookieName is the cookie carrying the session token.
	DefaultSessionCookieName = "compliance-session"
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
)

// SessionKind distinguishes store logins from administrator logins.
type SessionKind string

const (
	SessionKindStore SessionKind = "store"
	SessionKindAdmin SessionKind = "admin"
)

// SessionClaims is the JWT payload of a portal session. Store sessions carry
// the store identity, admin sessions carry the administrator email.
type SessionClaims struct {
	Kind      SessionKind `json:"kind"`
	StoreID   string      `json:"store_id,omitempty"`
	StoreName string      `json:"store_name,omitempty"`
	Email     string      `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the session belongs to an administrator.
func (c SessionClaims) IsAdmin() bool {
	return c.Kind == SessionKindAdmin
}

// IsStore reports whether the session belongs to a store.
func (c SessionClaims) IsStore() bool {
	return c.Kind == SessionKindStore
}

// ActorLabel returns the label recorded in audit entries for the session.
func (c SessionClaims) ActorLabel() string {
	if c.IsAdmin() {
		return c.Email
	}
	return c.StoreName
}

// SessionValidatorConfig describes how to validate portal session JWTs.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator validates HS256 session JWTs issued by TokenIssuer.
type SessionValidator struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	clock         func() time.Time
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	switch claims.Kind {
	case SessionKindStore:
		if strings.TrimSpace(claims.StoreID) == "" || claims.Subject != claims.StoreID {
			return SessionClaims{}, ErrMissingSessionSubject
		}
	case SessionKindAdmin:
		if strings.TrimSpace(claims.Email) == "" || claims.Subject != claims.Email {
			return SessionClaims{}, ErrMissingSessionSubject
		}
	default:
		return SessionClaims{}, fmt.Errorf("%w: unknown session kind %q", ErrInvalidSessionToken, claims.Kind)
	}
	return *claims, nil
}

// ValidateRequest extracts the configured cookie from the request and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil || cookie == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(cookie.Value)
}
