package redcap

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EnrollmentCompleteField is the canonical completion flag checked by the
// routing decision. REDCap status codes: 0 incomplete, 1 unverified,
// 2 complete; only 2 counts as done here.
const EnrollmentCompleteField = "enrollment_questions_complete"

const completionThreshold = 2

// Record is a transient snapshot of a participant's record in REDCap.
// REDCap owns the record; this copy may be stale the moment it is fetched.
type Record struct {
	RecordID string
	NetID    string

	// Completion maps <instrument>_complete field names to their raw
	// status codes, which REDCap exports as strings.
	Completion map[string]string
}

// recordFromFields builds a Record from one flat REDCap export row.
func recordFromFields(fields map[string]string) *Record {
	record := &Record{
		RecordID:   fields["record_id"],
		NetID:      fields["netid"],
		Completion: make(map[string]string),
	}
	for name, value := range fields {
		if strings.HasSuffix(name, "_complete") {
			record.Completion[name] = value
		}
	}
	return record
}

// RegistrationComplete reports whether the participant has finished the
// enrollment surveys. A nil record, a missing flag, or an unparseable
// status code all mean not complete.
func (r *Record) RegistrationComplete() bool {
	if r == nil {
		return false
	}
	code := r.Completion[EnrollmentCompleteField]
	if code == "" {
		return false
	}
	status, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return status >= completionThreshold
}

// recordJSON is the cache serialization of a Record.
type recordJSON struct {
	RecordID   string            `json:"record_id"`
	NetID      string            `json:"netid"`
	Completion map[string]string `json:"completion,omitempty"`
}

// MarshalJSON serializes the record for the snapshot cache.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		RecordID:   r.RecordID,
		NetID:      r.NetID,
		Completion: r.Completion,
	})
}

// UnmarshalJSON restores a cached record snapshot.
func (r *Record) UnmarshalJSON(data []byte) error {
	var decoded recordJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	r.RecordID = decoded.RecordID
	r.NetID = decoded.NetID
	r.Completion = decoded.Completion
	if r.Completion == nil {
		r.Completion = make(map[string]string)
	}
	return nil
}
