package redcap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cascadia-health/musher/pkg/cache"
	"github.com/cascadia-health/musher/pkg/identity"
	"github.com/cascadia-health/musher/pkg/observability"
)

// snapshotKeyPrefix namespaces participant snapshots within the cache
// store, next to the session keys.
const snapshotKeyPrefix = "participant:"

// recordIDPlaceholder satisfies REDCap's requirement for a non-blank
// record ID on create; forceAutoNumber makes REDCap assign the real one.
const recordIDPlaceholder = "record ID cannot be blank"

// MultipleRecordsError reports a data-integrity violation: REDCap returned
// more than one record for a single netid. The client never silently picks
// one.
type MultipleRecordsError struct {
	NetID     string
	RecordIDs []string
}

func (e *MultipleRecordsError) Error() string {
	return fmt.Sprintf("multiple records exist with netid %q: %v", e.NetID, e.RecordIDs)
}

// Config holds the client's connection settings.
type Config struct {
	APIURL   string
	APIToken string
	Timeout  time.Duration
	// CacheTTL bounds how long a completed-enrollment snapshot may serve
	// fetches without a REDCap round trip.
	CacheTTL time.Duration
}

// Client wraps the REDCap API: participant lookup, registration, and
// survey-link generation. Every operation is a single form-encoded POST
// with a bounded timeout and no retries; failures propagate to the caller.
type Client struct {
	apiURL   string
	apiToken string
	http     *http.Client
	store    cache.Store
	cacheTTL time.Duration
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewClient creates a REDCap client. The outbound transport is wrapped
// with otelhttp so REDCap calls appear in traces.
func NewClient(cfg Config, store cache.Store, metrics *observability.Metrics, logger *observability.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiURL:   cfg.APIURL,
		apiToken: cfg.APIToken,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		store:    store,
		cacheTTL: cfg.CacheTTL,
		metrics:  metrics,
		logger:   logger.WithComponent("redcap"),
	}
}

// FetchParticipant looks up the record matching the identity's netid.
// Returns (nil, nil) when no record exists. The cache is consulted first;
// REDCap is queried only on a miss, and a snapshot is written back only
// when the fetched record already shows enrollment complete, so a stale
// "incomplete" can never be cached.
func (c *Client) FetchParticipant(ctx context.Context, attrs identity.Attributes) (*Record, error) {
	if attrs.NetID == "" {
		return nil, identity.ErrInvalidIdentity
	}

	if cached, err := c.cachedRecord(ctx, attrs.NetID); err != nil {
		c.logger.WithError(err).Warn("snapshot cache read failed, falling through to REDCap")
	} else if cached != nil {
		return cached, nil
	}

	var record *Record
	err := c.metrics.TimeREDCapRequest("fetch_participant", func() error {
		data := url.Values{
			"content":                {"record"},
			"format":                 {"json"},
			"type":                   {"flat"},
			"csvDelimiter":           {""},
			"filterLogic":            {fmt.Sprintf("[netid] = %q", attrs.NetID)},
			"fields":                 {"netid,record_id," + EnrollmentCompleteField},
			"rawOrLabel":             {"raw"},
			"rawOrLabelHeaders":      {"raw"},
			"exportCheckboxLabel":    {"false"},
			"exportSurveyFields":     {"false"},
			"exportDataAccessGroups": {"false"},
			"returnFormat":           {"json"},
		}

		body, err := c.post(ctx, data, "content", "fields")
		if err != nil {
			return err
		}

		var rows []map[string]string
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("unexpected export response: %w", err)
		}

		switch len(rows) {
		case 0:
			return nil
		case 1:
			record = recordFromFields(rows[0])
			return nil
		default:
			violation := &MultipleRecordsError{NetID: attrs.NetID}
			for _, row := range rows {
				violation.RecordIDs = append(violation.RecordIDs, row["record_id"])
			}
			return violation
		}
	})
	if err != nil {
		return nil, err
	}

	if record.RegistrationComplete() {
		if err := c.storeSnapshot(ctx, attrs.NetID, record); err != nil {
			c.logger.WithError(err).Warn("failed to write snapshot cache entry")
		}
	}

	return record, nil
}

// RegisterParticipant creates exactly one new record carrying the
// identity's attributes and returns the record ID REDCap assigned.
func (c *Client) RegisterParticipant(ctx context.Context, attrs identity.Attributes) (string, error) {
	if attrs.NetID == "" {
		return "", identity.ErrInvalidIdentity
	}

	fields := attrs.RecordFields()
	fields["record_id"] = recordIDPlaceholder

	payload, err := json.Marshal([]map[string]string{fields})
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	var recordID string
	err = c.metrics.TimeREDCapRequest("register_participant", func() error {
		data := url.Values{
			"content":           {"record"},
			"format":            {"json"},
			"type":              {"flat"},
			"overwriteBehavior": {"normal"},
			"forceAutoNumber":   {"true"},
			"data":              {string(payload)},
			"returnContent":     {"ids"},
			"returnFormat":      {"json"},
		}

		body, err := c.post(ctx, data, "content")
		if err != nil {
			return err
		}

		var ids []string
		if err := json.Unmarshal(body, &ids); err != nil {
			return fmt.Errorf("unexpected create response: %w", err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("create returned no record ID")
		}
		recordID = ids[0]
		return nil
	})
	if err != nil {
		return "", err
	}

	return recordID, nil
}

// GenerateSurveyLink requests a survey URL for the given instrument within
// the event of the record. instance, when positive, selects a repeat
// instance of a repeating instrument.
func (c *Client) GenerateSurveyLink(ctx context.Context, recordID string, target Target, instance int) (string, error) {
	var link string
	err := c.metrics.TimeREDCapRequest("generate_survey_link", func() error {
		data := url.Values{
			"content":      {"surveyLink"},
			"format":       {"json"},
			"instrument":   {target.Instrument},
			"event":        {target.Event},
			"record":       {recordID},
			"returnFormat": {"json"},
		}
		if instance > 0 {
			data.Set("repeat_instance", strconv.Itoa(instance))
		}

		body, err := c.post(ctx, data, "content", "instrument", "event", "record")
		if err != nil {
			return err
		}
		link = strings.TrimSpace(string(body))
		return nil
	})
	if err != nil {
		return "", err
	}
	return link, nil
}

// Ping verifies REDCap API reachability, used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.metrics.TimeREDCapRequest("ping", func() error {
		data := url.Values{
			"content": {"version"},
			"format":  {"json"},
		}
		_, err := c.post(ctx, data, "content")
		return err
	})
}

// InvalidateSnapshot drops a participant's cached snapshot, forcing the
// next fetch to hit REDCap. Used by the administrative cache purge.
func (c *Client) InvalidateSnapshot(ctx context.Context, netid string) error {
	return c.store.Delete(ctx, snapshotKeyPrefix+netid)
}

// cachedRecord returns the cached snapshot for a netid, or nil on a miss.
func (c *Client) cachedRecord(ctx context.Context, netid string) (*Record, error) {
	data, err := c.store.Get(ctx, snapshotKeyPrefix+netid)
	if err != nil {
		return nil, err
	}
	if data == nil {
		c.metrics.CacheMissesTotal.WithLabelValues("participant").Inc()
		return nil, nil
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		// Drop the corrupt entry rather than serving it.
		_ = c.store.Delete(ctx, snapshotKeyPrefix+netid)
		return nil, fmt.Errorf("corrupt snapshot for %q: %w", netid, err)
	}

	c.metrics.CacheHitsTotal.WithLabelValues("participant").Inc()
	return &record, nil
}

// storeSnapshot caches a record already confirmed enrollment-complete.
func (c *Client) storeSnapshot(ctx context.Context, netid string, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, snapshotKeyPrefix+netid, data, c.cacheTTL)
}

// post performs one form-encoded POST against the REDCap API. logFields
// names the form fields safe to include in the request log line; the API
// token never is.
func (c *Client) post(ctx context.Context, data url.Values, logFields ...string) ([]byte, error) {
	data.Set("token", c.apiToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)

	logged := make(map[string]interface{}, len(logFields)+2)
	for _, field := range logFields {
		if value := data.Get(field); value != "" {
			logged[field] = value
		}
	}
	logged["duration_ms"] = duration.Milliseconds()

	if err != nil {
		c.logger.WithFields(logged).WithError(err).Error("REDCap request failed")
		return nil, fmt.Errorf("redcap request failed: %w", err)
	}
	defer resp.Body.Close()

	logged["status"] = resp.StatusCode
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.WithFields(logged).WithError(err).Error("REDCap response read failed")
		return nil, fmt.Errorf("redcap response read failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(logged).Error("REDCap returned non-success status")
		return nil, fmt.Errorf("redcap returned status %d", resp.StatusCode)
	}

	c.logger.WithFields(logged).Debug("REDCap request complete")
	return body, nil
}
