package identity

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

// SAMLSourceConfig holds the service-provider side of the SAML exchange.
type SAMLSourceConfig struct {
	EntityID       string
	ACSURL         string
	IdPSSOURL      string
	IdPIssuer      string
	IdPCertificate string // PEM encoded
}

// SAMLSource is the production identity source: a SAML 2.0 service
// provider that validates assertions from the institutional IdP.
type SAMLSource struct {
	sp *saml2.SAMLServiceProvider
}

// NewSAMLSource creates a SAML identity source from the given configuration.
func NewSAMLSource(cfg SAMLSourceConfig) (*SAMLSource, error) {
	certBlock, _ := pem.Decode([]byte(cfg.IdPCertificate))
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode IdP certificate PEM")
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse IdP certificate: %w", err)
	}

	certStore := dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.IdPSSOURL,
		IdentityProviderIssuer:      cfg.IdPIssuer,
		ServiceProviderIssuer:       cfg.EntityID,
		AssertionConsumerServiceURL: cfg.ACSURL,
		AudienceURI:                 cfg.EntityID,
		IDPCertificateStore:         &certStore,
	}

	return &SAMLSource{sp: sp}, nil
}

// Name identifies this source.
func (s *SAMLSource) Name() string {
	return "saml"
}

// LoginURL builds the IdP redirect URL carrying the relay state.
func (s *SAMLSource) LoginURL(relayState string) (string, error) {
	authURL, err := s.sp.BuildAuthURL(relayState)
	if err != nil {
		return "", fmt.Errorf("failed to build auth URL: %w", err)
	}
	return authURL, nil
}

// Consume validates the POSTed SAML assertion and returns the asserted
// attribute bag. Multi-valued attributes are kept as string slices.
func (s *SAMLSource) Consume(r *http.Request) (map[string]interface{}, string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, "", fmt.Errorf("failed to parse form: %w", err)
	}

	samlResponse := r.FormValue("SAMLResponse")
	if samlResponse == "" {
		return nil, "", fmt.Errorf("missing SAMLResponse parameter")
	}

	assertionBytes, err := base64.StdEncoding.DecodeString(samlResponse)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode SAMLResponse: %w", err)
	}

	assertionInfo, err := s.sp.RetrieveAssertionInfo(string(assertionBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to validate assertion: %w", err)
	}

	if assertionInfo.WarningInfo != nil {
		if assertionInfo.WarningInfo.InvalidTime {
			return nil, "", fmt.Errorf("assertion has invalid time")
		}
		if assertionInfo.WarningInfo.NotInAudience {
			return nil, "", fmt.Errorf("assertion not in expected audience")
		}
	}

	attrs := make(map[string]interface{})
	for _, attr := range assertionInfo.Values {
		if len(attr.Values) == 1 {
			attrs[attr.Name] = attr.Values[0].Value
			continue
		}
		values := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			values = append(values, v.Value)
		}
		attrs[attr.Name] = values
	}

	// NameID backs the netid when the IdP doesn't assert it as an
	// attribute.
	if _, ok := attrs[attrNetID]; !ok && assertionInfo.NameID != "" {
		attrs[attrNetID] = assertionInfo.NameID
	}

	return attrs, r.FormValue("RelayState"), nil
}
