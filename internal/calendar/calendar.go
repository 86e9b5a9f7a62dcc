// Package calendar produces exchange trading sessions. The built-in XNYS
// implementation covers NYSE weekday sessions, the full US market holiday
// set, and scheduled early closes; an Alpaca-backed implementation serves
// the same interface from the live trading calendar API.
package calendar

import (
	"context"
	"fmt"
	"time"

	"nlquant/internal/domain"
)

// Calendar lists the trading sessions inside a date range.
type Calendar interface {
	// Sessions returns every trading session whose date falls in
	// [start, end], ascending. It returns DATA_UNAVAILABLE when the range
	// contains no sessions.
	Sessions(ctx context.Context, start, end time.Time) ([]domain.Session, error)
}

// XNYS is the built-in NYSE calendar: weekday sessions 09:30–16:00 ET minus
// holidays, with 13:00 early closes around Independence Day, Thanksgiving,
// and Christmas.
type XNYS struct {
	loc *time.Location
}

var _ Calendar = (*XNYS)(nil)

// NewXNYS loads the exchange timezone.
func NewXNYS() (*XNYS, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading exchange timezone: %w", err)
	}
	return &XNYS{loc: loc}, nil
}

// Sessions implements Calendar.
func (c *XNYS) Sessions(ctx context.Context, start, end time.Time) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sessions []domain.Session
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, c.loc)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, c.loc)
	for !day.After(last) {
		if c.isTradingDay(day) {
			closeHour, closeMin := 16, 0
			if c.isEarlyClose(day) {
				closeHour, closeMin = 13, 0
			}
			sessions = append(sessions, domain.Session{
				Date:  day,
				Open:  time.Date(day.Year(), day.Month(), day.Day(), 9, 30, 0, 0, c.loc),
				Close: time.Date(day.Year(), day.Month(), day.Day(), closeHour, closeMin, 0, 0, c.loc),
			})
		}
		day = day.AddDate(0, 0, 1)
	}
	if len(sessions) == 0 {
		return nil, domain.E(domain.ErrDataUnavailable, "no trading sessions in range", map[string]any{
			"start": start.Format("2006-01-02"),
			"end":   end.Format("2006-01-02"),
		})
	}
	return sessions, nil
}

func (c *XNYS) isTradingDay(day time.Time) bool {
	wd := day.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !isHoliday(day)
}

// isEarlyClose reports the scheduled 13:00 ET closes: July 3rd when the 4th
// is a weekday, the day after Thanksgiving, and Christmas Eve.
func (c *XNYS) isEarlyClose(day time.Time) bool {
	y, m, d := day.Year(), day.Month(), day.Day()
	switch {
	case m == time.July && d == 3:
		return time.Date(y, time.July, 4, 0, 0, 0, 0, c.loc).Weekday() != time.Saturday
	case m == time.November && d == nthWeekday(y, time.November, time.Thursday, 4)+1:
		return true
	case m == time.December && d == 24:
		return true
	}
	return false
}

// isHoliday reports full-day NYSE closures.
func isHoliday(day time.Time) bool {
	y, m, d := day.Year(), day.Month(), day.Day()

	// Fixed-date holidays with weekend observance. A Saturday New Year's Day
	// is not observed on the preceding Friday (it belongs to the prior year).
	if observes(day, y, time.January, 1) && !(m == time.December && d == 31) {
		return true
	}
	if y >= 2022 && observes(day, y, time.June, 19) {
		return true
	}
	if observes(day, y, time.July, 4) {
		return true
	}
	if observes(day, y, time.December, 25) {
		return true
	}

	switch m {
	case time.January:
		return d == nthWeekday(y, time.January, time.Monday, 3) // MLK Day
	case time.February:
		return d == nthWeekday(y, time.February, time.Monday, 3) // Washington's Birthday
	case time.May:
		return d == lastWeekday(y, time.May, time.Monday) // Memorial Day
	case time.September:
		return d == nthWeekday(y, time.September, time.Monday, 1) // Labor Day
	case time.November:
		return d == nthWeekday(y, time.November, time.Thursday, 4) // Thanksgiving
	}

	gm, gd := goodFriday(y)
	return m == gm && d == gd
}

// observes reports whether day is holMonth/holDay or its weekend observance
// (Saturday → preceding Friday, Sunday → following Monday).
func observes(day time.Time, y int, holMonth time.Month, holDay int) bool {
	hol := time.Date(y, holMonth, holDay, 0, 0, 0, 0, day.Location())
	switch hol.Weekday() {
	case time.Saturday:
		hol = hol.AddDate(0, 0, -1)
	case time.Sunday:
		hol = hol.AddDate(0, 0, 1)
	}
	return day.Month() == hol.Month() && day.Day() == hol.Day()
}

// nthWeekday returns the day-of-month of the nth weekday of a month.
func nthWeekday(y int, m time.Month, wd time.Weekday, n int) int {
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return 1 + offset + (n-1)*7
}

// lastWeekday returns the day-of-month of the last weekday of a month.
func lastWeekday(y int, m time.Month, wd time.Weekday) int {
	lastDay := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	offset := (int(lastDay.Weekday()) - int(wd) + 7) % 7
	return lastDay.Day() - offset
}

// goodFriday computes the Friday before Easter using the Gregorian computus
// (anonymous algorithm).
func goodFriday(y int) (time.Month, int) {
	a := y % 19
	b := y / 100
	c := y % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(y, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	gf := easter.AddDate(0, 0, -2)
	return gf.Month(), gf.Day()
}
