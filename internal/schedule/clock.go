// package schedule computes business-hours deadlines. Given a weekly
// calendar of per-day open/close windows it advances a minute budget
// forward from a starting instant, skipping closed days and hours.
package schedule

import (
	"log/slog"
	"time"

	"github.com/crmforge/policy-engine/internal/domain"
)

// maxWalkDays caps the calendar walk so a misconfigured calendar with
// zero usable windows cannot loop forever.
const maxWalkDays = 365

// fallbackWindow is returned past the iteration cap.
const fallbackWindow = 30 * 24 * time.Hour

var dayToWeekday = map[string]time.Weekday{
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
	"Sun": time.Sunday,
}

// DayAbbreviations lists the accepted day labels, Monday first.
var DayAbbreviations = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// ValidDay reports whether day is one of the accepted abbreviations.
func ValidDay(day string) bool {
	_, ok := dayToWeekday[day]
	return ok
}

type Calculator struct {
	log *slog.Logger
}

func NewCalculator(log *slog.Logger) *Calculator {
	return &Calculator{log: log}
}

// Deadline walks forward from `from` until budgetMinutes of business
// time is consumed and returns the resulting instant in UTC.
//
// The walk is O(days consumed), not O(minutes): for each day it either
// jumps to the next day start (closed day, or window already over),
// snaps to the window open (closed time consumes no budget), or
// settles inside a window when the remaining budget fits.
//
// A budget of zero or less returns `from` unchanged. When the walk
// exceeds maxWalkDays the calendar is considered misconfigured and a
// conservative `from + 30 days` is returned instead of failing.
func (c *Calculator) Deadline(budgetMinutes int, days []domain.BusinessDay, from time.Time) time.Time {
	const op = "internal.schedule.Deadline"

	if budgetMinutes <= 0 {
		return from
	}

	windows := make(map[time.Weekday]domain.BusinessDay, len(days))
	for _, d := range days {
		if wd, ok := dayToWeekday[d.Day]; ok {
			windows[wd] = d
		}
	}

	cursor := from.UTC()
	budget := time.Duration(budgetMinutes) * time.Minute

	for i := 0; i < maxWalkDays; i++ {
		day, ok := windows[cursor.Weekday()]
		if !ok {
			cursor = nextDayStart(cursor)
			continue
		}

		dayStart := startOfDay(cursor)
		open := dayStart.Add(time.Duration(day.OpenMinute) * time.Minute)
		close := dayStart.Add(time.Duration(day.CloseMinute) * time.Minute)

		if !cursor.Before(close) {
			cursor = nextDayStart(cursor)
			continue
		}

		if cursor.Before(open) {
			cursor = open
		}

		available := close.Sub(cursor)
		if available >= budget {
			return cursor.Add(budget)
		}

		budget -= available
		cursor = nextDayStart(cursor)
	}

	c.log.Warn("business-hours walk exceeded the day cap, returning fallback deadline",
		slog.String("op", op),
		slog.Int("budget_minutes", budgetMinutes),
		slog.Time("from", from),
	)

	return from.Add(fallbackWindow)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nextDayStart(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}
