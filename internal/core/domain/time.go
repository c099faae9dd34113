package domain

import "time"

// DayString returns the UTC calendar day a timestamp falls in, used by the
// Realtime Cache's rolling "today" bucket and by retention cutoffs. "Today"
// is defined as UTC midnight rather than local-machine midnight, for
// reproducibility across deployments. Dimension rows key on HourBucket, not
// this.
func DayString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// HourBucket returns the UTC hour floor a timestamp falls in, used as the
// time_bucket component of time-series aggregates.
func HourBucket(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(time.RFC3339)
}

// Today returns the current UTC day string for a given instant.
func Today(now time.Time) string {
	return DayString(now)
}
