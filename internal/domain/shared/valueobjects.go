package shared

import (
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies the authenticated owner of a progress record.
// The engine never resolves it; the upstream gateway has already done so.
type UserID string

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]{0,127}$`)

// IsValid checks if the user ID is well formed.
func (u UserID) IsValid() bool {
	return userIDPattern.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", ErrInvalidUserID
	}
	return uid, nil
}

// Token is the idempotency and reversal handle carried by every event.
type Token string

// MaxTokenLength bounds tokens accepted from callers.
const MaxTokenLength = 128

// IsValid checks if the token is non-empty and bounded.
func (t Token) IsValid() bool {
	return t != "" && len(t) <= MaxTokenLength
}

// String returns the string representation.
func (t Token) String() string {
	return string(t)
}

// NewToken creates a new Token with validation.
func NewToken(value string) (Token, error) {
	tok := Token(strings.TrimSpace(value))
	if tok == "" {
		return "", ErrMissingToken
	}
	if len(tok) > MaxTokenLength {
		return "", NewDomainError("event", "Validate", ErrValueOutOfRange, "token is too long")
	}
	return tok, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a half-open time period [From, To).
// A zero bound is open on that side.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	if t.From.IsZero() || t.To.IsZero() {
		return true
	}
	return t.From.Before(t.To)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	if !t.From.IsZero() && tm.Before(t.From) {
		return false
	}
	if !t.To.IsZero() && !tm.Before(t.To) {
		return false
	}
	return true
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}
