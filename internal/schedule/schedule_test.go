package schedule_test

import (
	"errors"
	"testing"
	"time"

	"fieldline/internal/schedule"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name       string
		cond       schedule.Condition
		freq       int
		last       *time.Time
		closed     bool
		now        time.Time
		wantReason string
	}{
		{
			name: "before never answered",
			cond: schedule.Before,
			now:  ts("2024-01-01T12:00:00Z"),

			wantReason: "BEFORE: never answered",
		},
		{
			name: "before answered once is settled forever",
			cond: schedule.Before,
			last: tsp("2023-06-01T00:00:00Z"),
			now:  ts("2024-01-01T12:00:00Z"),
		},
		{
			name:   "after stays silent while campaign open",
			cond:   schedule.After,
			closed: false,
			now:    ts("2024-05-31T23:59:59Z"),
		},
		{
			name:       "after fires once campaign closed",
			cond:       schedule.After,
			closed:     true,
			now:        ts("2024-06-01T00:00:01Z"),
			wantReason: "AFTER: campaign closed and never answered",
		},
		{
			name:   "after answered before closure stays silent",
			cond:   schedule.After,
			closed: true,
			last:   tsp("2024-05-01T00:00:00Z"),
			now:    ts("2024-06-02T00:00:00Z"),
		},
		{
			name: "daily answered earlier today",
			cond: schedule.Daily,
			last: tsp("2024-01-01T23:00:00Z"),
			now:  ts("2024-01-01T23:30:00Z"),
		},
		{
			name:       "daily rolls over at midnight",
			cond:       schedule.Daily,
			last:       tsp("2024-01-01T23:59:59Z"),
			now:        ts("2024-01-02T00:00:01Z"),
			wantReason: "DAILY: no answer today",
		},
		{
			name:       "daily never answered",
			cond:       schedule.Daily,
			now:        ts("2024-01-02T00:30:00Z"),
			wantReason: "DAILY: no answer today",
		},
		{
			name: "every_x_days inside window",
			cond: schedule.EveryXDays,
			freq: 7,
			last: tsp("2024-01-01T00:00:00Z"),
			now:  ts("2024-01-07T23:00:00Z"),
		},
		{
			name: "every_x_days exactly at boundary is not pending",
			cond: schedule.EveryXDays,
			freq: 7,
			last: tsp("2024-01-01T00:00:00Z"),
			now:  ts("2024-01-08T00:00:00Z"),
		},
		{
			name:       "every_x_days one second past window",
			cond:       schedule.EveryXDays,
			freq:       7,
			last:       tsp("2024-01-01T00:00:00Z"),
			now:        ts("2024-01-08T00:00:01Z"),
			wantReason: "EVERY_X_DAYS: last response too old",
		},
		{
			name:       "every_x_days never answered",
			cond:       schedule.EveryXDays,
			freq:       3,
			now:        ts("2024-01-01T00:00:00Z"),
			wantReason: "EVERY_X_DAYS: last response too old",
		},
		{
			name: "every_x_days without frequency never pending",
			cond: schedule.EveryXDays,
			freq: 0,
			now:  ts("2024-01-01T00:00:00Z"),
		},
		{
			name: "unknown condition never pending",
			cond: schedule.Condition("WEEKLY"),
			now:  ts("2024-01-01T00:00:00Z"),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, pending := schedule.Evaluate(tc.cond, tc.freq, tc.last, tc.closed, tc.now, time.UTC)
			if pending != (tc.wantReason != "") {
				t.Fatalf("pending = %v, want %v", pending, tc.wantReason != "")
			}
			if reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", reason, tc.wantReason)
			}
		})
	}
}

func TestAdmitComplementsEvaluate(t *testing.T) {
	// For DAILY and EVERY_X_DAYS, a questionnaire that is not pending must be
	// rejected at write time and vice versa; both sides share Window.
	instants := []time.Time{
		ts("2024-01-01T23:30:00Z"),
		ts("2024-01-02T00:00:01Z"),
		ts("2024-01-08T00:00:00Z"),
		ts("2024-01-08T00:00:01Z"),
	}
	last := tsp("2024-01-01T23:00:00Z")
	for _, cond := range []schedule.Condition{schedule.Daily, schedule.EveryXDays} {
		for _, now := range instants {
			_, pending := schedule.Evaluate(cond, 7, last, false, now, time.UTC)
			err := schedule.Admit(cond, 7, last, now, time.UTC)
			if pending && err != nil {
				t.Fatalf("%s at %s: pending but admission rejected: %v", cond, now, err)
			}
			if !pending && err == nil {
				t.Fatalf("%s at %s: not pending but admission allowed", cond, now)
			}
		}
	}
}

func TestAdmitMessages(t *testing.T) {
	last := tsp("2024-01-01T10:00:00Z")
	now := ts("2024-01-01T12:00:00Z")

	err := schedule.Admit(schedule.Before, 0, last, now, time.UTC)
	var rej schedule.RejectionError
	if !errors.As(err, &rej) || rej.Message != "This questionnaire has already been answered." {
		t.Fatalf("BEFORE rejection = %v", err)
	}
	if err := schedule.Admit(schedule.Daily, 0, last, now, time.UTC); err == nil || err.Error() != "This questionnaire can only be answered once per day." {
		t.Fatalf("DAILY rejection = %v", err)
	}
	if err := schedule.Admit(schedule.EveryXDays, 5, last, now, time.UTC); err == nil || err.Error() != "This questionnaire can only be answered every 5 days." {
		t.Fatalf("EVERY_X_DAYS rejection = %v", err)
	}
	if err := schedule.Admit(schedule.EveryXDays, 0, last, now, time.UTC); err != nil {
		t.Fatalf("missing frequency should disable interval check, got %v", err)
	}
	if err := schedule.Admit(schedule.Before, 0, nil, now, time.UTC); err != nil {
		t.Fatalf("first response should always be admitted, got %v", err)
	}
}

func TestStartOfDayRespectsLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 23:30 UTC on Jan 1 is already Jan 2 in Paris.
	now := ts("2024-01-01T23:30:00Z")
	utcMidnight := schedule.StartOfDay(now, time.UTC)
	parisMidnight := schedule.StartOfDay(now, paris)
	if !utcMidnight.Equal(ts("2024-01-01T00:00:00Z")) {
		t.Fatalf("utc midnight = %s", utcMidnight)
	}
	if parisMidnight.UTC().Day() != 1 || parisMidnight.In(paris).Day() != 2 {
		t.Fatalf("paris midnight = %s", parisMidnight)
	}
}

func TestParseCondition(t *testing.T) {
	for _, raw := range []string{"BEFORE", "AFTER", "DAILY", "EVERY_X_DAYS"} {
		if _, err := schedule.ParseCondition(raw); err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
	}
	if _, err := schedule.ParseCondition("monthly"); err == nil {
		t.Fatalf("expected error for unknown condition")
	}
}
