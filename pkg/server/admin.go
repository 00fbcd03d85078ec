package server

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/cascadia-health/musher/pkg/identity"
	"github.com/cascadia-health/musher/pkg/session"
)

const adminForm = `<form method="POST" action="/admin">
<input type="hidden" name="operation" value="cache_delete">
<label>NetID: <input type="text" name="netid"></label>
<button type="submit">Delete cache entry</button>
</form>`

// handleAdmin serves the operations page. It is the one place a human can
// force a fresh REDCap lookup for a participant whose record was corrected
// out of band.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := s.sessions.Load(ctx, r)
	if errors.Is(err, session.ErrNoSession) {
		s.redirectToLogin(w, r, "/admin")
		return
	}
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	if !s.isAdmin(sess.Attributes) {
		s.logger.WithField("netid", sess.NetID).Warn("admin access denied")
		s.renderForbidden(w)
		return
	}

	message := ""
	if r.Method == http.MethodPost {
		message, err = s.runAdminOperation(r, sess)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
	}

	renderPage(w, http.StatusOK, pageData{
		Title:   "Operations",
		Message: message,
		Body:    template.HTML(adminForm),
	})
}

func (s *Server) runAdminOperation(r *http.Request, sess *session.Session) (string, error) {
	if err := r.ParseForm(); err != nil {
		return "", fmt.Errorf("unreadable form: %w", err)
	}

	switch op := r.PostFormValue("operation"); op {
	case "cache_delete":
		netid := strings.TrimSpace(r.PostFormValue("netid"))
		if netid == "" {
			return "A netid is required.", nil
		}
		if err := s.participants.InvalidateSnapshot(r.Context(), netid); err != nil {
			return "", err
		}
		s.logger.WithFields(map[string]interface{}{
			"netid": netid,
			"admin": sess.NetID,
		}).Info("cache entry deleted")
		return fmt.Sprintf("Cache entry for %q deleted.", netid), nil
	default:
		return fmt.Sprintf("Unknown operation %q.", op), nil
	}
}

// isAdmin reports whether any of the session's asserted groups is in the
// configured admin list.
func (s *Server) isAdmin(raw map[string]interface{}) bool {
	groups := identity.Groups(raw)
	for _, group := range groups {
		for _, allowed := range s.cfg.AdminGroups {
			if group == allowed {
				return true
			}
		}
	}
	return false
}
