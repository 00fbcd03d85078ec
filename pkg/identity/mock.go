package identity

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// MockLoginPath is where the mock source's login endpoint is mounted.
const MockLoginPath = "/mock-saml/login"

// MockSource is the local-development identity source: it asserts a fixed
// attribute bag loaded from a YAML fixture file instead of talking to an
// IdP. Attribute values may be strings or string lists, mirroring what a
// real assertion carries.
type MockSource struct {
	attrs map[string]interface{}
}

// defaultFixture is used when no fixture file is configured.
var defaultFixture = map[string]interface{}{
	"netid":                 "mushing4",
	"email":                 "mushing4@example.edu",
	"registered_given_name": "Lead",
	"registered_surname":    "Dawg",
	"home_dept":             "Medicine: Sled Operations",
	"affiliations":          []string{"member", "student"},
}

// NewMockSource creates a mock identity source. fixturePath may be empty,
// in which case a built-in student fixture is asserted.
func NewMockSource(fixturePath string) (*MockSource, error) {
	if fixturePath == "" {
		return &MockSource{attrs: defaultFixture}, nil
	}

	data, err := os.ReadFile(fixturePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read mock fixture: %w", err)
	}

	var attrs map[string]interface{}
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to parse mock fixture: %w", err)
	}
	if _, ok := attrs[attrNetID].(string); !ok {
		return nil, fmt.Errorf("mock fixture must assert a netid")
	}

	return &MockSource{attrs: attrs}, nil
}

// Name identifies this source.
func (s *MockSource) Name() string {
	return "mock"
}

// LoginURL points the browser at the local mock login endpoint.
func (s *MockSource) LoginURL(relayState string) (string, error) {
	if relayState == "" {
		return MockLoginPath, nil
	}
	return MockLoginPath + "?return_to=" + url.QueryEscape(relayState), nil
}

// Consume asserts the fixture attributes unconditionally.
func (s *MockSource) Consume(r *http.Request) (map[string]interface{}, string, error) {
	return s.attrs, r.URL.Query().Get("return_to"), nil
}
