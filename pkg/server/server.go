// Package server carries the HTTP surface: the resolve-and-redirect flow,
// the SAML login endpoints, the admin operations page, and the status and
// metrics endpoints.
package server

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/cascadia-health/musher/pkg/config"
	"github.com/cascadia-health/musher/pkg/httputil"
	"github.com/cascadia-health/musher/pkg/identity"
	"github.com/cascadia-health/musher/pkg/observability"
	"github.com/cascadia-health/musher/pkg/redcap"
	"github.com/cascadia-health/musher/pkg/session"
)

const samlLoginPath = "/saml/login"

// ParticipantService is the slice of the REDCap client the handlers need.
type ParticipantService interface {
	FetchParticipant(ctx context.Context, attrs identity.Attributes) (*redcap.Record, error)
	RegisterParticipant(ctx context.Context, attrs identity.Attributes) (string, error)
	GenerateSurveyLink(ctx context.Context, recordID string, target redcap.Target, instance int) (string, error)
	InvalidateSnapshot(ctx context.Context, netid string) error
}

// Server represents the application HTTP server.
type Server struct {
	cfg          *config.Config
	router       *mux.Router
	source       identity.Source
	sessions     *session.Manager
	participants ParticipantService
	surveys      redcap.Router
	metrics      *observability.Metrics
	logger       *observability.Logger
}

// NewServer wires the handlers and builds the route table.
func NewServer(cfg *config.Config, source identity.Source, sessions *session.Manager, participants ParticipantService, surveys redcap.Router, metrics *observability.Metrics, logger *observability.Logger) *Server {
	s := &Server{
		cfg:          cfg,
		router:       mux.NewRouter(),
		source:       source,
		sessions:     sessions,
		participants: participants,
		surveys:      surveys,
		metrics:      metrics,
		logger:       logger.WithComponent("server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.instrumented("/", s.handleHome)).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/admin", s.instrumented("/admin", s.handleAdmin)).Methods("GET", "POST")

	s.router.HandleFunc("/saml/logout", s.handleLogout).Methods("GET")
	if s.cfg.SAML.Source == config.IdentitySourceMock {
		s.router.HandleFunc(identity.MockLoginPath, s.instrumented(identity.MockLoginPath, s.handleConsume)).Methods("GET")
	} else {
		s.router.HandleFunc(samlLoginPath, s.handleLogin).Methods("GET", "POST")
		s.router.HandleFunc(s.cfg.SAML.ACSPath, s.instrumented(s.cfg.SAML.ACSPath, s.handleConsume)).Methods("POST")
	}

	if s.cfg.Observability.MetricsEnabled {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Handler returns the router wrapped in the shared middleware stack.
func (s *Server) Handler() http.Handler {
	return httputil.Chain(
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.NoStoreMiddleware,
	)(s.router)
}

func (s *Server) instrumented(path string, h http.HandlerFunc) http.HandlerFunc {
	wrapped := s.metrics.InstrumentHandler(path, h)
	return wrapped.ServeHTTP
}

// handleStatus reports the running build; load balancers and humans both
// use it, so it takes no auth.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":        "up",
		"version":       s.cfg.Version,
		"deployment_id": s.cfg.DeploymentID,
	})
}

// loginPath is where unauthenticated requests get sent.
func (s *Server) loginPath() string {
	if s.cfg.SAML.Source == config.IdentitySourceMock {
		return identity.MockLoginPath
	}
	return samlLoginPath
}

// redirectToLogin bounces an unauthenticated request to the login endpoint,
// preserving where the user was headed.
func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request, returnTo string) {
	target := s.loginPath()
	if returnTo != "" {
		target += "?return_to=" + url.QueryEscape(returnTo)
	}
	http.Redirect(w, r, target, http.StatusFound)
}
