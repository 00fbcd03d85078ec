package redcap

import (
	"fmt"
	"time"
)

// Target selects which survey to present next: an event (workflow stage)
// and an instrument (form) within it. REDCap's own survey queue chains any
// further instruments inside the event, so pointing at the first one is
// enough.
type Target struct {
	Event      string
	Instrument string
}

// Router computes routing targets from a record's completion state and the
// calendar position within the study.
type Router struct {
	StudyStartDate       time.Time
	EnrollmentEvent      string
	EnrollmentInstrument string
	// WeeklyEventTemplate is interpolated with the current week number.
	WeeklyEventTemplate string
	WeeklyInstrument    string
}

// CurrentWeek returns the 1-based study week for today. Week 1 covers the
// seven days starting on the study start date. Days before the start date
// clamp to week 1.
func CurrentWeek(today, studyStartDate time.Time) int {
	week := 1 + daysBetween(studyStartDate, today)/7
	if week < 1 {
		return 1
	}
	return week
}

// daysBetween counts whole calendar days from start to end, ignoring the
// time of day on either side.
func daysBetween(start, end time.Time) int {
	startDate := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDate := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(endDate.Sub(startDate) / (24 * time.Hour))
}

// Route decides which survey the participant should land on. Until the
// enrollment surveys are complete the target is the enrollment instrument;
// after that, the current week's attestation instrument. Pure given
// (record, today).
func (r Router) Route(record *Record, today time.Time) Target {
	if !record.RegistrationComplete() {
		return Target{
			Event:      r.EnrollmentEvent,
			Instrument: r.EnrollmentInstrument,
		}
	}

	return Target{
		Event:      fmt.Sprintf(r.WeeklyEventTemplate, CurrentWeek(today, r.StudyStartDate)),
		Instrument: r.WeeklyInstrument,
	}
}
