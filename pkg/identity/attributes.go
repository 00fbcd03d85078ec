package identity

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalidIdentity indicates the asserted attributes carry no network ID.
var ErrInvalidIdentity = errors.New("no netid in asserted attributes")

// Not every attribute arrives under a friendly name; identity providers
// commonly assert the raw X.500 OID URNs. Friendly names are tried first,
// these second.
const (
	urnDepartment = "urn:oid:2.5.4.11"
	urnSurname    = "urn:oid:1.2.840.113994.200.31"
	urnEmail      = "urn:oid:0.9.2342.19200300.100.1.3"
	urnGivenName  = "urn:oid:1.2.840.113994.200.32"
)

// Friendly attribute names asserted by the IdP.
const (
	attrNetID        = "netid"
	attrEmail        = "email"
	attrGivenName    = "registered_given_name"
	attrSurname      = "registered_surname"
	attrDepartment   = "home_dept"
	attrAffiliations = "affiliations"
	attrGroups       = "groups"
)

// Attributes are the normalized identity fields of one authenticated user,
// named to match the external record schema.
type Attributes struct {
	NetID     string
	Email     string
	FirstName string
	LastName  string
	School    string

	// Affiliation is one of student, faculty, staff, other, or empty.
	// AffiliationOther is non-empty only when Affiliation is "other".
	Affiliation      string
	AffiliationOther string
}

// RecordFields returns the attribute values keyed by external record field
// name, ready to submit on participant creation.
func (a Attributes) RecordFields() map[string]string {
	return map[string]string{
		"netid":             a.NetID,
		"email":             a.Email,
		"first_name":        a.FirstName,
		"last_name":         a.LastName,
		"school":            a.School,
		"affiliation":       a.Affiliation,
		"affiliation_other": a.AffiliationOther,
	}
}

// Extract normalizes a raw SSO attribute bag into Attributes. It is a pure
// function; the only failure is a missing netid.
func Extract(raw map[string]interface{}) (Attributes, error) {
	netid := stringValue(raw, attrNetID)
	if netid == "" {
		return Attributes{}, ErrInvalidIdentity
	}

	attrs := Attributes{
		NetID: netid,
		// This won't always be an institutional address.
		Email:     stringValue(raw, attrEmail, urnEmail),
		FirstName: stringValue(raw, attrGivenName, urnGivenName),
		LastName:  stringValue(raw, attrSurname, urnSurname),
		// Department is generally a colon-separated set of increasingly
		// specific labels, starting with the school.
		School: stringValue(raw, attrDepartment, urnDepartment),
	}
	attrs.Affiliation, attrs.AffiliationOther = extractAffiliation(raw)

	return attrs, nil
}

// extractAffiliation reduces the multi-value affiliation list to the
// external schema's (affiliation, affiliation_other) pair.
//
// The literal value "member" carries no information and is discarded. The
// first match among student, faculty, staff wins, in that fixed order,
// regardless of the list's own ordering. "employee" maps to staff. Anything
// else left over becomes "other" with the values joined in sorted order so
// the stored string is deterministic.
func extractAffiliation(raw map[string]interface{}) (affiliation, other string) {
	var affiliations []string
	for _, a := range stringSlice(raw, attrAffiliations) {
		if a != "member" {
			affiliations = append(affiliations, a)
		}
	}

	for _, candidate := range []string{"student", "faculty", "staff"} {
		for _, a := range affiliations {
			if a == candidate {
				return candidate, ""
			}
		}
	}

	for _, a := range affiliations {
		if a == "employee" {
			return "staff", ""
		}
	}

	if len(affiliations) > 0 {
		sort.Strings(affiliations)
		return "other", strings.Join(affiliations, ";")
	}

	return "", ""
}

// Groups returns the asserted group memberships, used by the admin
// authorization check.
func Groups(raw map[string]interface{}) []string {
	return stringSlice(raw, attrGroups)
}

// stringValue returns the first non-empty string found under the given
// keys.
func stringValue(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := raw[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// stringSlice reads a multi-valued attribute. Bags that round-tripped
// through JSON carry []interface{}; freshly asserted ones carry []string;
// a single-valued assertion may carry a bare string.
func stringSlice(raw map[string]interface{}, key string) []string {
	switch value := raw[key].(type) {
	case []string:
		return value
	case []interface{}:
		var out []string
		for _, v := range value {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if value == "" {
			return nil
		}
		return []string{value}
	default:
		return nil
	}
}
