package redcap

import (
	"encoding/json"
	"testing"
)

func TestRegistrationComplete(t *testing.T) {
	tests := []struct {
		name   string
		record *Record
		want   bool
	}{
		{name: "nil record", record: nil, want: false},
		{name: "no completion flags", record: &Record{RecordID: "1"}, want: false},
		{
			name:   "incomplete",
			record: &Record{Completion: map[string]string{EnrollmentCompleteField: "0"}},
			want:   false,
		},
		{
			name:   "unverified does not count",
			record: &Record{Completion: map[string]string{EnrollmentCompleteField: "1"}},
			want:   false,
		},
		{
			name:   "complete",
			record: &Record{Completion: map[string]string{EnrollmentCompleteField: "2"}},
			want:   true,
		},
		{
			name:   "above threshold",
			record: &Record{Completion: map[string]string{EnrollmentCompleteField: "3"}},
			want:   true,
		},
		{
			name:   "empty code",
			record: &Record{Completion: map[string]string{EnrollmentCompleteField: ""}},
			want:   false,
		},
		{
			name:   "garbage code",
			record: &Record{Completion: map[string]string{EnrollmentCompleteField: "yes"}},
			want:   false,
		},
		{
			name:   "other instrument complete does not count",
			record: &Record{Completion: map[string]string{"weekly_attestation_complete": "2"}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.RegistrationComplete(); got != tt.want {
				t.Errorf("RegistrationComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordFromFields(t *testing.T) {
	record := recordFromFields(map[string]string{
		"record_id":              "17",
		"netid":                  "jdoe",
		EnrollmentCompleteField:  "2",
		"first_name":             "Jo",
	})

	if record.RecordID != "17" {
		t.Errorf("RecordID = %q", record.RecordID)
	}
	if record.NetID != "jdoe" {
		t.Errorf("NetID = %q", record.NetID)
	}
	if record.Completion[EnrollmentCompleteField] != "2" {
		t.Errorf("Completion = %v", record.Completion)
	}
	if _, ok := record.Completion["first_name"]; ok {
		t.Error("non-completion fields must not land in Completion")
	}
}

func TestRecordJSONRoundTrip(t *testing.T) {
	original := &Record{
		RecordID:   "42",
		NetID:      "jdoe",
		Completion: map[string]string{EnrollmentCompleteField: "2"},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var restored Record
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if restored.RecordID != "42" || restored.NetID != "jdoe" {
		t.Errorf("restored = %+v", restored)
	}
	if !restored.RegistrationComplete() {
		t.Error("restored record lost its completion state")
	}
}
