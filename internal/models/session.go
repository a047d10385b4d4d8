package models

import "time"

// Session holds the credentials for one cloud account. A session is replaced
// wholesale on each successful refresh; it is never mutated in place.
type Session struct {
	Email            string    `json:"email"`
	AccessToken      string    `json:"-"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshAfter     time.Time `json:"refreshAfter"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	CustomerID       int64     `json:"customerId"`
	UserID           int64     `json:"userId"`
	Roles            []string  `json:"roles,omitempty"`
}

// NeedsRefresh reports whether the session has reached its refresh trigger
func (s *Session) NeedsRefresh(now time.Time) bool {
	return !now.Before(s.RefreshAfter)
}

// RefreshExpired reports whether the refresh credential itself has expired,
// which requires a full re-login.
func (s *Session) RefreshExpired(now time.Time) bool {
	return !s.RefreshExpiresAt.IsZero() && !now.Before(s.RefreshExpiresAt)
}
