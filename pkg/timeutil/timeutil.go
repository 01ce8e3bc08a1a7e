// Package timeutil provides calendar helpers for the progression engine.
// All day and week boundaries are computed in an explicit location so that
// "today" for a streak and the Sunday that opens a league season agree.
package timeutil

import (
	"time"
)

// DefaultLocation is used when no timezone is configured.
// Kazakhstan abolished DST in 2005, so a fixed zone is exact year-round.
var DefaultLocation = time.FixedZone("Asia/Almaty", 5*60*60)

// LoadLocation resolves an IANA zone name, falling back to DefaultLocation.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return DefaultLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return DefaultLocation
	}
	return loc
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock returns the current time. Engines take a Clock so tests can pin "now".
type Clock func() time.Time

// SystemClock returns time.Now in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// ══════════════════════════════════════════════════════════════════════════════
// DAYS
// ══════════════════════════════════════════════════════════════════════════════

// StartOfDay returns 00:00:00 of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last nanosecond of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 999999999, loc)
}

// DaysBetween returns the number of calendar days from -> to in loc.
// It counts midnights crossed rather than 24h periods, so 23:59 -> 00:01 is 1.
func DaysBetween(from, to time.Time, loc *time.Location) int {
	a := StartOfDay(from, loc)
	b := StartOfDay(to, loc)
	// Work in UTC date arithmetic to stay exact across DST shifts.
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

// IsSameDay checks whether two instants fall on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return DaysBetween(t1, t2, loc) == 0
}

// IsWeekend reports whether t is a Saturday or Sunday in loc.
func IsWeekend(t time.Time, loc *time.Location) bool {
	wd := t.In(loc).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DateKey formats t's calendar day in loc as YYYY-MM-DD.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKS
// ══════════════════════════════════════════════════════════════════════════════

// StartOfWeek returns Sunday 00:00:00 of the week containing t in loc.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	day := StartOfDay(t, loc)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// EndOfWeek returns Saturday 23:59:59.999999999 of the week containing t in loc.
func EndOfWeek(t time.Time, loc *time.Location) time.Time {
	return EndOfDay(StartOfWeek(t, loc).AddDate(0, 0, 6), loc)
}
