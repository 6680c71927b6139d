package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	// ErrAdminNotAllowed indicates an email outside the administrator allowlist.
	ErrAdminNotAllowed = errors.New("admin authenticator: email not allowed")
	// ErrInvalidAdminPassword indicates a wrong administrator password.
	ErrInvalidAdminPassword = errors.New("admin authenticator: invalid password")

	errMissingAdminPassword = errors.New("admin authenticator: password required")
)

// AdminAuthenticatorConfig lists the administrators and their shared password.
type AdminAuthenticatorConfig struct {
	Emails   []string
	Password string
}

// AdminAuthenticator checks administrator logins against an email allowlist
// and a shared password.
type AdminAuthenticator struct {
	allowed  map[string]struct{}
	password []byte
}

// NewAdminAuthenticator normalizes the allowlist. An empty allowlist rejects every login.
func NewAdminAuthenticator(cfg AdminAuthenticatorConfig) (*AdminAuthenticator, error) {
	if cfg.Password == "" {
		return nil, errMissingAdminPassword
	}
	allowed := make(map[string]struct{}, len(cfg.Emails))
	for _, email := range cfg.Emails {
		normalized := normalizeEmail(email)
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}
	return &AdminAuthenticator{
		allowed:  allowed,
		password: []byte(cfg.Password),
	}, nil
}

// Authenticate returns the normalized email when the pair is valid.
func (a *AdminAuthenticator) Authenticate(email, password string) (string, error) {
	normalized := normalizeEmail(email)
	if _, ok := a.allowed[normalized]; !ok {
		return "", ErrAdminNotAllowed
	}
	if subtle.ConstantTimeCompare([]byte(password), a.password) != 1 {
		return "", ErrInvalidAdminPassword
	}
	return normalized, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
