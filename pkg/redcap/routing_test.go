package redcap

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCurrentWeek(t *testing.T) {
	start := date(2026, time.January, 5)

	tests := []struct {
		name  string
		today time.Time
		want  int
	}{
		{name: "start date is week 1", today: start, want: 1},
		{name: "day 6 is still week 1", today: start.AddDate(0, 0, 6), want: 1},
		{name: "day 7 begins week 2", today: start.AddDate(0, 0, 7), want: 2},
		{name: "day 13 is week 2", today: start.AddDate(0, 0, 13), want: 2},
		{name: "day 14 begins week 3", today: start.AddDate(0, 0, 14), want: 3},
		{name: "before the start clamps to week 1", today: start.AddDate(0, 0, -3), want: 1},
		{
			name: "time of day does not matter",
			today: time.Date(2026, time.January, 11, 23, 59, 0, 0, time.UTC),
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CurrentWeek(tt.today, start); got != tt.want {
				t.Errorf("CurrentWeek() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRoute(t *testing.T) {
	router := Router{
		StudyStartDate:       date(2026, time.January, 5),
		EnrollmentEvent:      "enrollment_arm_1",
		EnrollmentInstrument: "enrollment_questions",
		WeeklyEventTemplate:  "week_%d_arm_1",
		WeeklyInstrument:     "test_form",
	}

	t.Run("incomplete enrollment routes to enrollment", func(t *testing.T) {
		record := &Record{
			RecordID:   "1",
			Completion: map[string]string{EnrollmentCompleteField: "1"},
		}
		target := router.Route(record, date(2026, time.January, 20))
		if target.Event != "enrollment_arm_1" || target.Instrument != "enrollment_questions" {
			t.Errorf("Route() = %+v", target)
		}
	})

	t.Run("new record routes to enrollment", func(t *testing.T) {
		record := &Record{RecordID: "2"}
		target := router.Route(record, date(2026, time.January, 20))
		if target.Event != "enrollment_arm_1" {
			t.Errorf("Route() = %+v", target)
		}
	})

	t.Run("complete enrollment routes to current week", func(t *testing.T) {
		record := &Record{
			RecordID:   "3",
			Completion: map[string]string{EnrollmentCompleteField: "2"},
		}
		// January 20 is day 15, week 3.
		target := router.Route(record, date(2026, time.January, 20))
		if target.Event != "week_3_arm_1" {
			t.Errorf("Event = %q, want week_3_arm_1", target.Event)
		}
		if target.Instrument != "test_form" {
			t.Errorf("Instrument = %q, want test_form", target.Instrument)
		}
	})
}
