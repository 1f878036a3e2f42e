package util //nolint:revive // package name util hosts formatting helpers shared by the terminal views

import "time"

// TimestampLayout is the local-time layout used in job tables.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatElapsed renders how long a stage has been running, rounded to the
// second. Unknown or negative durations render as "—".
func FormatElapsed(d time.Duration) string {
	switch {
	case d < 0:
		return "—"
	case d < time.Second:
		return "0s"
	default:
		return d.Round(time.Second).String()
	}
}

// FormatTimestamp renders t in local time, or "" for nil and zero times.
func FormatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format(TimestampLayout)
}
