package calendar

import "time"

// Features are the calendar regressors of an hourly slot.
type Features struct {
	Hour      int // 0-23, UTC
	DayOfWeek int // Monday=0 .. Sunday=6
	IsHoliday int // 0 or 1
}

// DeriveFeatures computes the calendar features of ts. Training rows and
// prediction rows both go through this function.
func DeriveFeatures(ts time.Time, holidays HolidaySet) Features {
	ts = ts.UTC()
	f := Features{
		Hour:      ts.Hour(),
		DayOfWeek: MondayFirstWeekday(ts),
	}
	if holidays.Contains(ts) {
		f.IsHoliday = 1
	}
	return f
}

// MondayFirstWeekday maps time.Weekday (Sunday=0) onto Monday=0 .. Sunday=6.
func MondayFirstWeekday(ts time.Time) int {
	return (int(ts.Weekday()) + 6) % 7
}
