// Package config loads and validates application configuration from
// environment variables.
//
// All settings have sensible defaults except the REDCap API endpoint and
// token, and the SAML identity-provider settings when the saml identity
// source is selected. Configuration is loaded once at process start:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// No package-level state is kept; the resulting Config is passed explicitly
// to every component that needs it.
package config
