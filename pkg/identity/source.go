package identity

import "net/http"

// Source supplies raw attribute bags for authenticated users. Two
// implementations exist: the SAML service provider backed by the
// institutional IdP, and a static fixture for local development. The
// selection is made once from configuration, never by inspecting the
// process environment at request time.
type Source interface {
	// Name identifies the source, e.g. "saml" or "mock".
	Name() string

	// LoginURL returns the URL an unauthenticated browser should be sent
	// to. relayState is the application URL to return to after sign-in.
	LoginURL(relayState string) (string, error)

	// Consume validates the inbound authentication response and returns
	// the asserted attribute bag plus the relay state to redirect to.
	Consume(r *http.Request) (attrs map[string]interface{}, relayState string, err error)
}
