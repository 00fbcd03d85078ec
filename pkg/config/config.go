package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cascadia-health/musher/pkg/observability"
)

// IdentitySourceSAML selects the production SAML service provider.
const IdentitySourceSAML = "saml"

// IdentitySourceMock selects the static-fixture identity source used for
// local development.
const IdentitySourceMock = "mock"

// Config holds all application configuration
type Config struct {
	// AppName prefixes cache and session keys.
	AppName string

	// Version and DeploymentID are reported by the /status endpoint.
	Version      string
	DeploymentID string

	Server  ServerConfig
	REDCap  REDCapConfig
	Cache   CacheConfig
	Session SessionConfig
	SAML    SAMLConfig

	// AdminGroups lists the SSO groups whose members may use /admin.
	// Empty means nobody is an admin.
	AdminGroups []string

	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// REDCapConfig holds the external record API configuration and the survey
// routing parameters.
type REDCapConfig struct {
	APIURL   string
	APIToken string
	Timeout  time.Duration

	// StudyStartDate anchors week numbering: the 7 days starting on this
	// date are week 1.
	StudyStartDate time.Time

	EnrollmentEvent      string
	EnrollmentInstrument string
	// WeeklyEventTemplate is interpolated with the current week number,
	// e.g. "week_%d_arm_1".
	WeeklyEventTemplate string
	WeeklyInstrument    string
}

// CacheConfig holds the participant snapshot cache configuration. An empty
// RedisURL selects the in-memory store.
type CacheConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// SessionConfig holds browser session configuration.
type SessionConfig struct {
	CookieName string
	Lifetime   time.Duration
}

// SAMLConfig holds the service-provider and identity-provider settings.
type SAMLConfig struct {
	// Source selects the identity source: "saml" or "mock".
	Source string

	EntityID       string
	ACSPath        string
	IdPSSOURL      string
	IdPIssuer      string
	IdPCertificate string // PEM encoded

	// MockFixturePath points at a YAML file of asserted attributes,
	// consulted only when Source is "mock".
	MockFixturePath string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	startDate, err := parseDate(getEnv("MUSHER_STUDY_START_DATE", "1970-01-01"))
	if err != nil {
		return nil, fmt.Errorf("invalid MUSHER_STUDY_START_DATE: %w", err)
	}

	cfg := &Config{
		AppName:      getEnv("MUSHER_APP_NAME", "musher"),
		Version:      getEnv("MUSHER_VERSION", "dev"),
		DeploymentID: getEnv("MUSHER_DEPLOYMENT_ID", ""),
		Server: ServerConfig{
			Host:            getEnv("MUSHER_HOST", "0.0.0.0"),
			Port:            getEnv("MUSHER_PORT", "8080"),
			ReadTimeout:     getEnvDuration("MUSHER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("MUSHER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("MUSHER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("MUSHER_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("MUSHER_HEALTH_PORT", "9090"),
		},
		REDCap: REDCapConfig{
			APIURL:               getEnv("REDCAP_API_URL", ""),
			APIToken:             getEnv("REDCAP_API_TOKEN", ""),
			Timeout:              getEnvDuration("REDCAP_TIMEOUT", 10*time.Second),
			StudyStartDate:       startDate,
			EnrollmentEvent:      getEnv("REDCAP_ENROLLMENT_EVENT", "enrollment_arm_1"),
			EnrollmentInstrument: getEnv("REDCAP_ENROLLMENT_INSTRUMENT", "enrollment_questions"),
			WeeklyEventTemplate:  getEnv("REDCAP_WEEKLY_EVENT_TEMPLATE", "week_%d_arm_1"),
			WeeklyInstrument:     getEnv("REDCAP_WEEKLY_INSTRUMENT", "test_form"),
		},
		Cache: CacheConfig{
			RedisURL:      getEnv("MUSHER_REDIS_URL", ""),
			RedisPassword: getEnv("MUSHER_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("MUSHER_REDIS_DB", 0),
			TTL:           getEnvDuration("MUSHER_CACHE_TTL", time.Hour),
		},
		Session: SessionConfig{
			CookieName: getEnv("MUSHER_SESSION_COOKIE_NAME", "musher.session"),
			Lifetime:   getEnvDuration("MUSHER_SESSION_LIFETIME", time.Hour),
		},
		SAML: SAMLConfig{
			Source:          getEnv("MUSHER_IDENTITY_SOURCE", IdentitySourceSAML),
			EntityID:        getEnv("SAML_ENTITY_ID", ""),
			ACSPath:         getEnv("SAML_ACS_PATH", "/saml/acs"),
			IdPSSOURL:       getEnv("SAML_IDP_SSO_URL", ""),
			IdPIssuer:       getEnv("SAML_IDP_ISSUER", ""),
			IdPCertificate:  getEnv("SAML_IDP_CERTIFICATE", ""),
			MockFixturePath: getEnv("MUSHER_MOCK_FIXTURE", ""),
		},
		AdminGroups:   splitList(getEnv("MUSHER_ADMIN_GROUPS", "")),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("MUSHER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("MUSHER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("MUSHER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("MUSHER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("MUSHER_OTEL_SERVICE_NAME", "musher"),
		OTelServiceVersion: getEnv("MUSHER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("MUSHER_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.REDCap.APIURL == "" {
		return fmt.Errorf("REDCap API URL is required")
	}
	if c.REDCap.APIToken == "" {
		return fmt.Errorf("REDCap API token is required")
	}
	if !strings.Contains(c.REDCap.WeeklyEventTemplate, "%d") {
		return fmt.Errorf("weekly event template must contain %%d: %q", c.REDCap.WeeklyEventTemplate)
	}

	switch c.SAML.Source {
	case IdentitySourceSAML:
		if c.SAML.EntityID == "" {
			return fmt.Errorf("SAML entity ID is required for the saml identity source")
		}
		if c.SAML.IdPSSOURL == "" {
			return fmt.Errorf("SAML IdP SSO URL is required for the saml identity source")
		}
		if c.SAML.IdPCertificate == "" {
			return fmt.Errorf("SAML IdP certificate is required for the saml identity source")
		}
	case IdentitySourceMock:
		// A missing fixture file falls back to built-in attributes.
	default:
		return fmt.Errorf("invalid identity source: %s (must be saml or mock)", c.SAML.Source)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// parseDate parses a YYYY-MM-DD date in UTC.
func parseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", value)
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
// Plain integers are interpreted as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
