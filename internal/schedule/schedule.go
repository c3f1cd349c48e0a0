// Package schedule decides when a questionnaire must be answered again.
//
// The evaluator is a pure function: callers supply the last-response
// timestamp, the campaign state and the current instant, and get back
// whether the questionnaire is pending and why. All day arithmetic goes
// through StartOfDay so the read path (pending lists) and the write path
// (admission) agree on where a day begins.
package schedule

import (
	"fmt"
	"time"
)

// Condition is the recurrence policy of a questionnaire.
type Condition string

const (
	// Before must be answered once, before campaign activity starts.
	Before Condition = "BEFORE"
	// After must be answered once, after the campaign has closed.
	After Condition = "AFTER"
	// Daily must be answered once per calendar day.
	Daily Condition = "DAILY"
	// EveryXDays must be answered once per rolling N-day window.
	EveryXDays Condition = "EVERY_X_DAYS"
)

// ParseCondition validates a raw condition value.
func ParseCondition(raw string) (Condition, error) {
	switch Condition(raw) {
	case Before, After, Daily, EveryXDays:
		return Condition(raw), nil
	}
	return "", fmt.Errorf("unknown condition %q", raw)
}

// StartOfDay truncates t to midnight in loc. A nil loc means UTC.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Window returns the instant before which a previous response no longer
// blocks a new one, given the condition's recurrence. The second return is
// false when the condition has no time window (BEFORE/AFTER block forever,
// a misconfigured EVERY_X_DAYS never blocks).
func Window(cond Condition, frequencyDays int, now time.Time, loc *time.Location) (time.Time, bool) {
	switch cond {
	case Daily:
		return StartOfDay(now, loc), true
	case EveryXDays:
		if frequencyDays <= 0 {
			return time.Time{}, false
		}
		return now.Add(-time.Duration(frequencyDays) * 24 * time.Hour), true
	}
	return time.Time{}, false
}

// Evaluate reports whether a questionnaire is pending for a user.
// lastResponseAt is nil when the user has never answered. The function is
// total: unknown conditions and misconfigured frequencies evaluate to not
// pending rather than erroring.
func Evaluate(cond Condition, frequencyDays int, lastResponseAt *time.Time, campaignClosed bool, now time.Time, loc *time.Location) (string, bool) {
	switch cond {
	case Before:
		if lastResponseAt == nil {
			return "BEFORE: never answered", true
		}
	case After:
		if campaignClosed && lastResponseAt == nil {
			return "AFTER: campaign closed and never answered", true
		}
	case Daily:
		if lastResponseAt == nil || lastResponseAt.Before(StartOfDay(now, loc)) {
			return "DAILY: no answer today", true
		}
	case EveryXDays:
		cutoff, ok := Window(cond, frequencyDays, now, loc)
		if !ok {
			return "", false
		}
		if lastResponseAt == nil || lastResponseAt.Before(cutoff) {
			return "EVERY_X_DAYS: last response too old", true
		}
	}
	return "", false
}

// Admit re-checks the recurrence policy at write time against the freshest
// last response. It returns nil when a new response may be recorded, or a
// RejectionError carrying a user-facing message. The DAILY and EVERY_X_DAYS
// guards are the exact complements of Evaluate, through the same Window.
func Admit(cond Condition, frequencyDays int, lastResponseAt *time.Time, now time.Time, loc *time.Location) error {
	if lastResponseAt == nil {
		return nil
	}
	switch cond {
	case Before, After:
		return RejectionError{Message: "This questionnaire has already been answered."}
	case Daily:
		if !lastResponseAt.Before(StartOfDay(now, loc)) {
			return RejectionError{Message: "This questionnaire can only be answered once per day."}
		}
	case EveryXDays:
		cutoff, ok := Window(cond, frequencyDays, now, loc)
		if !ok {
			return nil
		}
		if !lastResponseAt.Before(cutoff) {
			return RejectionError{Message: fmt.Sprintf("This questionnaire can only be answered every %d days.", frequencyDays)}
		}
	}
	return nil
}

// RejectionError blocks a submission that violates the recurrence policy.
// The message is meant for direct display to the contributor.
type RejectionError struct {
	Message string
}

func (e RejectionError) Error() string { return e.Message }
