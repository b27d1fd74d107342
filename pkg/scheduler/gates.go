package scheduler

import (
	"time"
)

// clockAt returns today's instant of the "15:04" clock time in loc.
func clockAt(now time.Time, hhmm string, loc *time.Location) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		// Validated at startup; an unparseable value here gates forever.
		return now.Add(24 * time.Hour)
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(),
		t.Hour(), t.Minute(), 0, 0, loc)
}

// marketOpen reports whether now falls inside the Mon-Fri trading session.
func marketOpen(now time.Time, open, close string, loc *time.Location) bool {
	local := now.In(loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return !local.Before(clockAt(now, open, loc)) && local.Before(clockAt(now, close, loc))
}

// sameLocalDay reports whether a and b fall on the same calendar day in loc.
func sameLocalDay(a, b time.Time, loc *time.Location) bool {
	al, bl := a.In(loc), b.In(loc)
	return al.Year() == bl.Year() && al.YearDay() == bl.YearDay()
}

// sameISOWeek reports whether a and b fall in the same ISO week in loc.
func sameISOWeek(a, b time.Time, loc *time.Location) bool {
	ay, aw := a.In(loc).ISOWeek()
	by, bw := b.In(loc).ISOWeek()
	return ay == by && aw == bw
}

// nextMarketOpen returns the next session start at or after now.
func nextMarketOpen(now time.Time, open string, loc *time.Location) time.Time {
	candidate := clockAt(now, open, loc)
	local := now.In(loc)
	for !candidate.After(local) || candidate.Weekday() == time.Saturday || candidate.Weekday() == time.Sunday {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
