package weather

import "time"

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthsBefore subtracts n calendar months from t. When the target month is
// shorter than t's day, the result is clamped to the target month's last day
// (Mar 31 minus one month is Feb 28, or Feb 29 in leap years).
func MonthsBefore(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m-time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// HistoryWindow returns the closed request range [date - 1 month, date].
func HistoryWindow(date time.Time) (from, to time.Time) {
	to = Day(date)
	return MonthsBefore(to, 1), to
}

// DailyRange returns one timestamp per day in [start, end), stepping by
// interval. A non-positive interval yields an empty range.
func DailyRange(start, end time.Time, interval time.Duration) []time.Time {
	if interval <= 0 || !start.Before(end) {
		return nil
	}
	out := make([]time.Time, 0, int(end.Sub(start)/interval)+1)
	for ts := start; ts.Before(end); ts = ts.Add(interval) {
		out = append(out, ts)
	}
	return out
}
