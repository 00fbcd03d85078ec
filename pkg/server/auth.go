package server

import (
	"net/http"
	"strings"

	"github.com/cascadia-health/musher/pkg/identity"
)

// handleLogin starts a fresh sign-on: any existing session is dropped and
// the browser is sent to the identity provider.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.sessions.Destroy(ctx, w, r); err != nil {
		s.logger.WithError(err).Warn("failed to clear session at login")
	}

	target, err := s.source.LoginURL(safeReturnTo(r.FormValue("return_to")))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleConsume accepts the identity source's assertion, establishes the
// session, and sends the user on to wherever they were originally headed.
// For the SAML source this is the assertion consumer service; for the mock
// source it doubles as the login endpoint.
func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, relayState, err := s.source.Consume(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	// Reject assertions without a usable netid before a session exists.
	attrs, err := identity.Extract(raw)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	if _, err := s.sessions.Establish(ctx, w, r, attrs.NetID, raw); err != nil {
		s.renderError(w, r, err)
		return
	}

	http.Redirect(w, r, safeReturnTo(relayState), http.StatusFound)
}

// handleLogout drops the session and confirms.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(r.Context(), w, r); err != nil {
		s.renderError(w, r, err)
		return
	}

	renderPage(w, http.StatusOK, pageData{
		Title:   "Signed out",
		Message: "You have been signed out of this service. Your institutional single sign-on session may still be active.",
	})
}

// safeReturnTo confines post-login redirects to this origin. Anything that
// is not a local absolute path falls back to the root.
func safeReturnTo(value string) string {
	if value == "" || !strings.HasPrefix(value, "/") || strings.HasPrefix(value, "//") {
		return "/"
	}
	return value
}
