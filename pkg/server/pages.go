package server

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/cascadia-health/musher/pkg/identity"
	"github.com/cascadia-health/musher/pkg/observability"
	"github.com/cascadia-health/musher/pkg/redcap"
)

const pageShell = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .Body}}{{.Body}}{{end}}
</body>
</html>`

var pageTemplate = template.Must(template.New("page").Parse(pageShell))

type pageData struct {
	Title   string
	Message string
	Body    template.HTML
}

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	pageTemplate.Execute(w, data)
}

// renderError maps an internal failure onto a user-facing page. The user
// sees only which class of thing went wrong; the detail goes to the log.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	logger := s.logger
	if requestID := observability.GetRequestID(r.Context()); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}

	var conflict *redcap.MultipleRecordsError
	switch {
	case errors.Is(err, identity.ErrInvalidIdentity):
		// The netid never appears in the response, only in the log.
		logger.WithError(err).Error("identity attributes unusable")
		renderPage(w, http.StatusBadRequest, pageData{
			Title:   "Unable to identify you",
			Message: "Your institutional login did not include the information this study needs. Please contact the study team.",
		})

	case errors.As(err, &conflict):
		logger.WithError(err).WithField("record_ids", conflict.RecordIDs).Error("duplicate participant records")
		renderPage(w, http.StatusInternalServerError, pageData{
			Title:   "Something went wrong",
			Message: "We hit a problem looking up your study record. The study team has been notified.",
		})

	default:
		logger.WithError(err).Error("request failed")
		renderPage(w, http.StatusInternalServerError, pageData{
			Title:   "Something went wrong",
			Message: "We hit a problem on our end. Please try again in a few minutes.",
		})
	}
}

func (s *Server) renderForbidden(w http.ResponseWriter) {
	renderPage(w, http.StatusForbidden, pageData{
		Title:   "Not authorized",
		Message: "Your account is not in an administrative group for this service.",
	})
}
