package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// RecurrenceKind represents how an automation rule repeats
type RecurrenceKind string

const (
	RecurrenceInterval  RecurrenceKind = "INTERVAL"
	RecurrenceThreshold RecurrenceKind = "THRESHOLD"
	RecurrenceCron      RecurrenceKind = "CRON"
)

// IntervalUnit is the calendar unit of an interval step
type IntervalUnit string

const (
	IntervalDay   IntervalUnit = "DAY"
	IntervalWeek  IntervalUnit = "WEEK"
	IntervalMonth IntervalUnit = "MONTH"
)

// maxCronPeriods bounds the walk from a stale anchor to now
const maxCronPeriods = 100000

// ErrNotYetEligible is returned when the anchor lies after the evaluation time
var ErrNotYetEligible = errors.New("rule is not yet eligible")

// Interval is a calendar step: Every × Unit
type Interval struct {
	Unit  IntervalUnit
	Every int
}

// Validate ensures the interval adheres to domain rules
func (i Interval) Validate() error {
	if i.Every < 1 {
		return errors.New("interval must repeat at least every 1 unit")
	}

	switch i.Unit {
	case IntervalDay, IntervalWeek, IntervalMonth:
		return nil
	default:
		return errors.New("interval unit must be DAY, WEEK, or MONTH")
	}
}

// add advances t by n steps. Monthly steps clamp to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29).
func (i Interval) add(t time.Time, n int) time.Time {
	switch i.Unit {
	case IntervalDay:
		return t.AddDate(0, 0, n*i.Every)
	case IntervalWeek:
		return t.AddDate(0, 0, 7*n*i.Every)
	default:
		return addMonthsClamped(t, n*i.Every)
	}
}

// stepsUntil returns the largest k with add(anchor, k) <= t
func (i Interval) stepsUntil(anchor, t time.Time) int {
	var k int
	switch i.Unit {
	case IntervalDay, IntervalWeek:
		days := i.Every
		if i.Unit == IntervalWeek {
			days *= 7
		}
		k = int(t.Sub(anchor) / (time.Duration(days) * 24 * time.Hour))
	default:
		months := (t.Year()-anchor.Year())*12 + int(t.Month()) - int(anchor.Month())
		k = months / i.Every
	}

	for k > 0 && i.add(anchor, k).After(t) {
		k--
	}
	for !i.add(anchor, k+1).After(t) {
		k++
	}

	return k
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// RecurrencePolicy decides when an automation rule becomes eligible again.
//   - INTERVAL: every Interval
//   - THRESHOLD: whenever the source balance >= Threshold, at most once per Interval (cooldown)
//   - CRON: standard 5-field expression, evaluated in UTC
type RecurrencePolicy struct {
	Kind      RecurrenceKind
	Interval  Interval
	Threshold decimal.Decimal
	Cron      string
}

// Validate ensures the policy adheres to domain rules
func (p RecurrencePolicy) Validate() error {
	switch p.Kind {
	case RecurrenceInterval:
		return p.Interval.Validate()
	case RecurrenceThreshold:
		if !p.Threshold.IsPositive() {
			return errors.New("threshold must be positive")
		}
		return p.Interval.Validate()
	case RecurrenceCron:
		if _, err := cron.ParseStandard(p.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", p.Cron, err)
		}
		return nil
	default:
		return errors.New("recurrence kind must be INTERVAL, THRESHOLD, or CRON")
	}
}

// Next returns the first occurrence strictly after t
func (p RecurrencePolicy) Next(t time.Time) (time.Time, error) {
	t = t.UTC()

	if p.Kind == RecurrenceCron {
		schedule, err := cron.ParseStandard(p.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", p.Cron, err)
		}
		next := schedule.Next(t)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron expression %q has no future occurrence", p.Cron)
		}
		return next, nil
	}

	if err := p.Interval.Validate(); err != nil {
		return time.Time{}, err
	}
	return p.Interval.add(t, 1), nil
}

// CurrentPeriod returns the start of the recurrence window containing now:
// the latest occurrence, walking from anchor, that is not after now.
// Missed windows are skipped rather than replayed.
func (p RecurrencePolicy) CurrentPeriod(anchor, now time.Time) (time.Time, error) {
	anchor, now = anchor.UTC(), now.UTC()
	if now.Before(anchor) {
		return time.Time{}, ErrNotYetEligible
	}

	if p.Kind == RecurrenceCron {
		schedule, err := cron.ParseStandard(p.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", p.Cron, err)
		}

		current := anchor
		for i := 0; i < maxCronPeriods; i++ {
			next := schedule.Next(current)
			if next.IsZero() || next.After(now) {
				return current, nil
			}
			current = next
		}
		return time.Time{}, fmt.Errorf("cron expression %q: anchor %s too far behind", p.Cron, anchor.Format(time.RFC3339))
	}

	if err := p.Interval.Validate(); err != nil {
		return time.Time{}, err
	}
	return p.Interval.add(anchor, p.Interval.stepsUntil(anchor, now)), nil
}
