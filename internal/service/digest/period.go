package digest

import (
	"time"

	"github.com/ignite/repogrowth/internal/domain"
)

// PeriodFor returns the most recent fully elapsed period for freq, in UTC.
// Weeks start on Monday. ok is false for DigestNone or unknown values.
func PeriodFor(freq domain.DigestFrequency, now time.Time) (start, end time.Time, ok bool) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch freq {
	case domain.DigestDaily:
		return today.AddDate(0, 0, -1), today, true
	case domain.DigestWeekly:
		offset := (int(today.Weekday()) + 6) % 7 // days since Monday
		thisWeek := today.AddDate(0, 0, -offset)
		return thisWeek.AddDate(0, 0, -7), thisWeek, true
	case domain.DigestMonthly:
		thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return thisMonth.AddDate(0, -1, 0), thisMonth, true
	}
	return time.Time{}, time.Time{}, false
}
