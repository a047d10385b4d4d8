package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/freezelink/freezelink/internal/cloud"
	"github.com/freezelink/freezelink/internal/models"
)

// ErrNotAuthenticated means no session exists yet; Login must run first
var ErrNotAuthenticated = errors.New("not authenticated")

// API is the slice of the cloud client the manager needs
type API interface {
	Login(ctx context.Context) (*models.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*models.Session, error)
}

// Manager owns the credential lifecycle for one account. The current session
// is replaced atomically on refresh; concurrent EnsureFresh callers share a
// single in-flight refresh and observe the same result.
type Manager struct {
	api API

	mu      sync.RWMutex
	current *models.Session
	expired bool

	group    singleflight.Group
	onRotate func(*models.Session)

	// clamp between timer wakeups; test override
	minWait time.Duration
	now     func() time.Time
}

// NewManager creates a session manager
func NewManager(api API) *Manager {
	return &Manager{
		api:     api,
		minWait: 30 * time.Second,
		now:     time.Now,
	}
}

// OnRotate registers the callback invoked after each successful refresh that
// produced a new access credential. Must be set before Run.
func (m *Manager) OnRotate(fn func(*models.Session)) {
	m.onRotate = fn
}

// Login performs the initial credential exchange
func (m *Manager) Login(ctx context.Context) (*models.Session, error) {
	sess, err := m.api.Login(ctx)
	if err != nil {
		return nil, err
	}
	m.checkTokenExpiry(sess)

	m.mu.Lock()
	m.current = sess
	m.expired = false
	m.mu.Unlock()

	log.Info().
		Int64("customerId", sess.CustomerID).
		Time("refreshAfter", sess.RefreshAfter).
		Msg("Session established")
	return sess, nil
}

// Current returns the current session, or nil before Login
func (m *Manager) Current() *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// EnsureFresh returns a session whose access credential is valid, refreshing
// first if the refresh trigger has passed. Callers that arrive during an
// in-flight refresh block on it and receive its result.
func (m *Manager) EnsureFresh(ctx context.Context) (*models.Session, error) {
	m.mu.RLock()
	cur, expired := m.current, m.expired
	m.mu.RUnlock()

	if cur == nil {
		return nil, ErrNotAuthenticated
	}
	if expired {
		return nil, cloud.ErrSessionExpired
	}
	if !cur.NeedsRefresh(m.now()) {
		return cur, nil
	}

	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Session), nil
}

// refresh performs one refresh attempt. Terminal rejections mark the manager
// expired; transient failures leave the old session in place for retry.
func (m *Manager) refresh(ctx context.Context) (*models.Session, error) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()

	if cur.RefreshExpired(m.now()) {
		m.markExpired()
		return nil, cloud.ErrSessionExpired
	}

	next, err := m.api.Refresh(ctx, cur.RefreshToken)
	if errors.Is(err, cloud.ErrSessionExpired) {
		m.markExpired()
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	m.checkTokenExpiry(next)

	m.mu.Lock()
	prev := m.current
	m.current = next
	m.mu.Unlock()

	log.Info().
		Int64("customerId", next.CustomerID).
		Time("refreshAfter", next.RefreshAfter).
		Msg("Session refreshed")

	if m.onRotate != nil && next.AccessToken != prev.AccessToken {
		m.onRotate(next)
	}
	return next, nil
}

func (m *Manager) markExpired() {
	m.mu.Lock()
	m.expired = true
	m.mu.Unlock()
	log.Warn().Msg("Refresh credential rejected, re-authentication required")
}

// Run refreshes the session in the background, waking at the refresh trigger.
// Transient failures retry with capped exponential backoff. Returns
// cloud.ErrSessionExpired when the refresh credential dies, or ctx.Err on
// shutdown.
func (m *Manager) Run(ctx context.Context) error {
	retry := &backoff.Backoff{
		Min:    5 * time.Second,
		Max:    5 * time.Minute,
		Factor: 2,
		Jitter: true,
	}

	for {
		cur := m.Current()
		if cur == nil {
			return ErrNotAuthenticated
		}

		wait := time.Until(cur.RefreshAfter)
		if wait < m.minWait {
			wait = m.minWait
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		for {
			_, err := m.EnsureFresh(ctx)
			if err == nil {
				retry.Reset()
				break
			}
			if errors.Is(err, cloud.ErrSessionExpired) {
				return err
			}

			d := retry.Duration()
			log.Warn().Err(err).Dur("retryIn", d).Msg("Session refresh failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
	}
}

// checkTokenExpiry cross-checks the reported access expiry against the
// token's own exp claim, filling it in when the auth response omits it.
// The signature is not verified; the cloud is the issuer of record.
func (m *Manager) checkTokenExpiry(sess *models.Session) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(sess.AccessToken, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if sess.AccessExpiresAt.IsZero() || sess.AccessExpiresAt.Unix() == 0 {
		sess.AccessExpiresAt = exp.Time
		return
	}
	if drift := sess.AccessExpiresAt.Sub(exp.Time); drift > time.Minute || drift < -time.Minute {
		log.Debug().
			Time("reported", sess.AccessExpiresAt).
			Time("claim", exp.Time).
			Msg("Access expiry disagrees with token claim")
	}
}
