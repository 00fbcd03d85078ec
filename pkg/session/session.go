// Package session provides cookie-backed login sessions. The browser holds
// only an opaque random session ID; the identity attribute bag lives in the
// shared cache store and expires with the session lifetime.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cascadia-health/musher/pkg/cache"
	"github.com/cascadia-health/musher/pkg/observability"
)

const (
	// CookieName is the default session cookie name.
	CookieName = "musher_session"

	keyPrefix = "sessions."
)

// ErrNoSession is returned when the request carries no valid session.
var ErrNoSession = errors.New("no active session")

// Session is the server-side state bound to one logged-in browser.
type Session struct {
	ID         string                 `json:"id"`
	NetID      string                 `json:"netid"`
	Attributes map[string]interface{} `json:"attributes"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Manager creates, loads, and destroys sessions against a cache store.
type Manager struct {
	store      cache.Store
	cookieName string
	lifetime   time.Duration
	secure     bool
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// NewManager wires a session manager. secure controls the cookie's Secure
// flag and should be true everywhere except local development over plain
// HTTP.
func NewManager(store cache.Store, cookieName string, lifetime time.Duration, secure bool, metrics *observability.Metrics, logger *observability.Logger) *Manager {
	if cookieName == "" {
		cookieName = CookieName
	}
	if lifetime <= 0 {
		lifetime = 8 * time.Hour
	}
	return &Manager{
		store:      store,
		cookieName: cookieName,
		lifetime:   lifetime,
		secure:     secure,
		metrics:    metrics,
		logger:     logger.WithComponent("session"),
	}
}

// Establish creates a fresh session for the authenticated identity and sets
// the cookie on the response. Any previous session on the request is
// destroyed first so a re-login never reuses an ID.
func (m *Manager) Establish(ctx context.Context, w http.ResponseWriter, r *http.Request, netid string, attributes map[string]interface{}) (*Session, error) {
	if netid == "" {
		return nil, fmt.Errorf("cannot establish session without a netid")
	}

	if err := m.Destroy(ctx, w, r); err != nil {
		m.logger.WithError(err).Warn("failed to clear prior session")
	}

	sess := &Session{
		ID:         uuid.New().String(),
		NetID:      netid,
		Attributes: attributes,
		CreatedAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.Set(ctx, keyPrefix+sess.ID, payload, m.lifetime); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	http.SetCookie(w, m.cookie(sess.ID, m.lifetime))
	m.metrics.SessionsEstablishedTotal.Inc()
	m.logger.WithField("netid", netid).Info("session established")
	return sess, nil
}

// Load returns the session identified by the request's cookie, or
// ErrNoSession when the cookie is absent, expired, or unknown.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}

	payload, err := m.store.Get(ctx, keyPrefix+c.Value)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if payload == nil {
		return nil, ErrNoSession
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		// Unreadable entries are dropped rather than served.
		_ = m.store.Delete(ctx, keyPrefix+c.Value)
		return nil, ErrNoSession
	}
	return &sess, nil
}

// Destroy removes the request's session, if any, and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	c, err := r.Cookie(m.cookieName)
	if err == nil && c.Value != "" {
		if err := m.store.Delete(ctx, keyPrefix+c.Value); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}

	http.SetCookie(w, m.cookie("", -time.Hour))
	return nil
}

func (m *Manager) cookie(value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge.Seconds())
	} else {
		c.MaxAge = -1
	}
	return c
}
