package overview

import (
	"time"

	"crewcal/internal/model"
)

// ISOWeek returns the ISO-8601 week number of d: move to the Thursday of
// d's week (weeks start on Monday), then count weeks from January 1 of that
// Thursday's year.
func ISOWeek(d model.Date) int {
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0
	thursday := d.AddDays(3 - offset)
	jan1 := model.NewDate(thursday.Year, time.January, 1)
	days := jan1.DaysUntil(thursday) + 1
	return (days + 6) / 7
}

var dayNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func dayName(d model.Date) string {
	return dayNames[(int(d.Weekday())+6)%7]
}

func isWeekend(d model.Date) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
