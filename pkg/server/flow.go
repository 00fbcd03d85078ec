package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/cascadia-health/musher/pkg/identity"
	"github.com/cascadia-health/musher/pkg/redcap"
	"github.com/cascadia-health/musher/pkg/session"
)

// handleHome resolves the logged-in user to their next survey and redirects
// there. Each step depends on the previous one, so the sequence is strictly
// ordered: load session, extract identity, fetch or register the record,
// pick the target instrument, generate the link.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := s.sessions.Load(ctx, r)
	if errors.Is(err, session.ErrNoSession) {
		s.redirectToLogin(w, r, "/")
		return
	}
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	attrs, err := identity.Extract(sess.Attributes)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	record, err := s.participants.FetchParticipant(ctx, attrs)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if record == nil {
		recordID, err := s.participants.RegisterParticipant(ctx, attrs)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		record = &redcap.Record{RecordID: recordID, NetID: attrs.NetID}
	}

	target := s.surveys.Route(record, time.Now().UTC())

	link, err := s.participants.GenerateSurveyLink(ctx, record.RecordID, target, 0)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	http.Redirect(w, r, link, http.StatusFound)
}
