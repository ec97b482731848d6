package models

import "time"

// AdvancePeriod rolls a billing period forward by whole months until its end
// is in the future relative to now. Returns the new start and end.
func AdvancePeriod(start, end, now time.Time) (time.Time, time.Time) {
	for !end.After(now) {
		start = end
		end = end.AddDate(0, 1, 0)
	}
	return start, end
}
