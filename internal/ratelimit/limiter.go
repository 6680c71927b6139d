// Package ratelimit provides fixed-window attempt limits keyed by caller identity.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrInvalidPolicy indicates a policy without attempts or window.
var ErrInvalidPolicy = errors.New("ratelimit: invalid policy")

// Policy allows MaxAttempts per Window for one key.
type Policy struct {
	Name        string
	MaxAttempts int
	Window      time.Duration
}

var (
	// StoreLogin limits store PIN attempts per store name.
	StoreLogin = Policy{Name: "store-login", MaxAttempts: 5, Window: 15 * time.Minute}
	// AdminLogin limits administrator password attempts per email.
	AdminLogin = Policy{Name: "admin-login", MaxAttempts: 5, Window: 15 * time.Minute}
	// Submission limits evidence submissions per store.
	Submission = Policy{Name: "submission", MaxAttempts: 10, Window: time.Minute}
)

func (p Policy) validate() error {
	if p.MaxAttempts <= 0 || p.Window <= 0 || strings.TrimSpace(p.Name) == "" {
		return ErrInvalidPolicy
	}
	return nil
}

func (p Policy) key(subject string) string {
	return p.Name + ":" + strings.ToLower(strings.TrimSpace(subject))
}

// Decision reports whether an attempt was admitted and when the window resets.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long a rejected caller should wait.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter consumes one attempt for the subject under the policy.
type Limiter interface {
	CheckAndConsume(ctx context.Context, subject string, policy Policy) (Decision, error)
}
