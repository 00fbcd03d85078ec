package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cascadia-health/musher/pkg/cache"
	"github.com/cascadia-health/musher/pkg/config"
	"github.com/cascadia-health/musher/pkg/identity"
	"github.com/cascadia-health/musher/pkg/observability"
	"github.com/cascadia-health/musher/pkg/redcap"
	"github.com/cascadia-health/musher/pkg/session"
)

// fakeParticipants scripts the REDCap interactions for handler tests.
type fakeParticipants struct {
	record       *redcap.Record
	fetchErr     error
	registeredID string
	registerErr  error
	link         string
	linkErr      error

	registeredAttrs []identity.Attributes
	invalidated     []string
	linkRequests    []redcap.Target
}

func (f *fakeParticipants) FetchParticipant(ctx context.Context, attrs identity.Attributes) (*redcap.Record, error) {
	return f.record, f.fetchErr
}

func (f *fakeParticipants) RegisterParticipant(ctx context.Context, attrs identity.Attributes) (string, error) {
	f.registeredAttrs = append(f.registeredAttrs, attrs)
	return f.registeredID, f.registerErr
}

func (f *fakeParticipants) GenerateSurveyLink(ctx context.Context, recordID string, target redcap.Target, instance int) (string, error) {
	f.linkRequests = append(f.linkRequests, target)
	return f.link, f.linkErr
}

func (f *fakeParticipants) InvalidateSnapshot(ctx context.Context, netid string) error {
	f.invalidated = append(f.invalidated, netid)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		AppName:      "musher",
		Version:      "test",
		DeploymentID: "test-deploy",
		REDCap: config.REDCapConfig{
			StudyStartDate:       time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			EnrollmentEvent:      "enrollment_arm_1",
			EnrollmentInstrument: "enrollment_questions",
			WeeklyEventTemplate:  "week_%d_arm_1",
			WeeklyInstrument:     "test_form",
		},
		Session: config.SessionConfig{
			CookieName: "musher.session",
			Lifetime:   time.Hour,
		},
		SAML: config.SAMLConfig{
			Source: config.IdentitySourceMock,
		},
		AdminGroups: []string{"u_musher_admins"},
		Observability: config.ObservabilityConfig{
			MetricsEnabled: true,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, participants ParticipantService) (*Server, *session.Manager) {
	t.Helper()

	store, err := cache.NewMemoryStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	sessions := session.NewManager(store, cfg.Session.CookieName, cfg.Session.Lifetime, false, metrics, logger)

	source, err := identity.NewMockSource(cfg.SAML.MockFixturePath)
	if err != nil {
		t.Fatalf("failed to create mock source: %v", err)
	}

	surveys := redcap.Router{
		StudyStartDate:       cfg.REDCap.StudyStartDate,
		EnrollmentEvent:      cfg.REDCap.EnrollmentEvent,
		EnrollmentInstrument: cfg.REDCap.EnrollmentInstrument,
		WeeklyEventTemplate:  cfg.REDCap.WeeklyEventTemplate,
		WeeklyInstrument:     cfg.REDCap.WeeklyInstrument,
	}

	return NewServer(cfg, source, sessions, participants, surveys, metrics, logger), sessions
}

// loginCookie establishes a session directly and returns its cookie.
func loginCookie(t *testing.T, sessions *session.Manager, netid string, attrs map[string]interface{}) *http.Cookie {
	t.Helper()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/saml/acs", nil)
	if _, err := sessions.Establish(context.Background(), w, r, netid, attrs); err != nil {
		t.Fatalf("failed to establish session: %v", err)
	}
	for _, c := range w.Result().Cookies() {
		if c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), &fakeParticipants{})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body["version"] != "test" || body["deployment_id"] != "test-deploy" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHomeRedirectsToLoginWithoutSession(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), &fakeParticipants{})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != identity.MockLoginPath+"?return_to=%2F" {
		t.Errorf("Location = %q", got)
	}
}

func TestMockLoginEstablishesSessionAndReturns(t *testing.T) {
	srv, sessions := newTestServer(t, testConfig(), &fakeParticipants{})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, identity.MockLoginPath+"?return_to=%2F", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/" {
		t.Errorf("Location = %q, want /", got)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Value != "" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie set")
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	sess, err := sessions.Load(context.Background(), r)
	if err != nil {
		t.Fatalf("session not loadable: %v", err)
	}
	if sess.NetID == "" {
		t.Error("session has no netid")
	}
}

func TestHomeRoutesKnownParticipantToWeeklySurvey(t *testing.T) {
	participants := &fakeParticipants{
		record: &redcap.Record{
			RecordID:   "42",
			NetID:      "jdoe",
			Completion: map[string]string{redcap.EnrollmentCompleteField: "2"},
		},
		link: "https://redcap.example.edu/surveys/?s=weekly",
	}
	srv, sessions := newTestServer(t, testConfig(), participants)
	cookie := loginCookie(t, sessions, "jdoe", map[string]interface{}{"netid": "jdoe"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302, body: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != participants.link {
		t.Errorf("Location = %q, want %q", got, participants.link)
	}
	if len(participants.registeredAttrs) != 0 {
		t.Error("existing participant was re-registered")
	}
	if len(participants.linkRequests) != 1 {
		t.Fatalf("link requests = %d, want 1", len(participants.linkRequests))
	}
	if participants.linkRequests[0].Instrument != "test_form" {
		t.Errorf("instrument = %q, want test_form", participants.linkRequests[0].Instrument)
	}
}

func TestHomeRegistersNewParticipant(t *testing.T) {
	participants := &fakeParticipants{
		record:       nil,
		registeredID: "101",
		link:         "https://redcap.example.edu/surveys/?s=enroll",
	}
	srv, sessions := newTestServer(t, testConfig(), participants)
	cookie := loginCookie(t, sessions, "newbie", map[string]interface{}{"netid": "newbie"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if len(participants.registeredAttrs) != 1 {
		t.Fatalf("registrations = %d, want 1", len(participants.registeredAttrs))
	}
	// A record fresh from registration has no completion flags, so it must
	// route to enrollment.
	if got := participants.linkRequests[0]; got.Instrument != "enrollment_questions" || got.Event != "enrollment_arm_1" {
		t.Errorf("target = %+v, want enrollment", got)
	}
}

func TestHomeRejectsIdentityWithoutNetID(t *testing.T) {
	srv, sessions := newTestServer(t, testConfig(), &fakeParticipants{})
	cookie := loginCookie(t, sessions, "jdoe", map[string]interface{}{"email": "jdoe@example.edu"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if strings.Contains(w.Body.String(), "jdoe") {
		t.Error("identifier leaked into the error page")
	}
}

func TestHomeFailuresRenderGenericPage(t *testing.T) {
	tests := []struct {
		name         string
		participants *fakeParticipants
	}{
		{
			name:         "fetch transport failure",
			participants: &fakeParticipants{fetchErr: context.DeadlineExceeded},
		},
		{
			name: "duplicate records",
			participants: &fakeParticipants{
				fetchErr: &redcap.MultipleRecordsError{NetID: "jdoe", RecordIDs: []string{"1", "2"}},
			},
		},
		{
			name:         "register failure",
			participants: &fakeParticipants{registerErr: context.DeadlineExceeded},
		},
		{
			name: "link failure",
			participants: &fakeParticipants{
				record:  &redcap.Record{RecordID: "42"},
				linkErr: context.DeadlineExceeded,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, sessions := newTestServer(t, testConfig(), tt.participants)
			cookie := loginCookie(t, sessions, "jdoe", map[string]interface{}{"netid": "jdoe"})

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.AddCookie(cookie)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, r)

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", w.Code)
			}
			body := w.Body.String()
			if strings.Contains(body, "record_id") || strings.Contains(body, "deadline") {
				t.Error("internal detail leaked into the error page")
			}
		})
	}
}

func TestLogout(t *testing.T) {
	srv, sessions := newTestServer(t, testConfig(), &fakeParticipants{})
	cookie := loginCookie(t, sessions, "jdoe", map[string]interface{}{"netid": "jdoe"})

	r := httptest.NewRequest(http.MethodGet, "/saml/logout", nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(cookie)
	if _, err := sessions.Load(context.Background(), r2); err != session.ErrNoSession {
		t.Errorf("session survived logout: err = %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), &fakeParticipants{})

	// Drive one instrumented request so the counters have samples.
	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "musher_http_requests_total") {
		t.Error("metrics output missing request counter")
	}
}

func TestSafeReturnTo(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/admin", "/admin"},
		{"https://evil.example.com/", "/"},
		{"//evil.example.com/", "/"},
		{"admin", "/"},
	}
	for _, tt := range tests {
		if got := safeReturnTo(tt.in); got != tt.want {
			t.Errorf("safeReturnTo(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
