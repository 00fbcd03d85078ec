// Package identity turns SSO assertions into normalized participant
// attributes.
//
// Extract maps a raw attribute bag (friendly names or X.500 OID URNs) onto
// the external record schema's fields, including the multi-value
// affiliation reduction. Source abstracts where the bag comes from: the
// SAML service provider in production, or a YAML fixture during local
// development.
package identity
