package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"nlquant/internal/domain"
)

func mustXNYS(t *testing.T) *XNYS {
	t.Helper()
	c, err := NewXNYS()
	if err != nil {
		t.Fatalf("NewXNYS() returned error: %v", err)
	}
	return c
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestXNYSRegularWeek(t *testing.T) {
	c := mustXNYS(t)
	// Mon 2024-03-04 through Sun 2024-03-10: five sessions.
	sessions, err := c.Sessions(context.Background(), date(2024, 3, 4), date(2024, 3, 10))
	if err != nil {
		t.Fatalf("Sessions() returned error: %v", err)
	}
	if len(sessions) != 5 {
		t.Fatalf("sessions = %d, want 5", len(sessions))
	}
	first := sessions[0]
	if first.Open.Hour() != 9 || first.Open.Minute() != 30 {
		t.Errorf("open = %v, want 09:30 ET", first.Open)
	}
	if first.Close.Hour() != 16 {
		t.Errorf("close = %v, want 16:00 ET", first.Close)
	}
	if got := first.Decision(); !got.Equal(first.Close.Add(-2 * time.Minute)) {
		t.Errorf("decision = %v, want close - 2m", got)
	}
}

func TestXNYSHolidays(t *testing.T) {
	c := mustXNYS(t)
	closed := []time.Time{
		date(2024, 1, 1),   // New Year's Day
		date(2024, 1, 15),  // MLK Day
		date(2024, 2, 19),  // Washington's Birthday
		date(2024, 3, 29),  // Good Friday
		date(2024, 5, 27),  // Memorial Day
		date(2024, 6, 19),  // Juneteenth
		date(2024, 7, 4),   // Independence Day
		date(2024, 9, 2),   // Labor Day
		date(2024, 11, 28), // Thanksgiving
		date(2024, 12, 25), // Christmas
		date(2023, 4, 7),   // Good Friday (different Easter)
		date(2021, 7, 5),   // July 4th observed (Sunday -> Monday)
		date(2021, 12, 24), // Christmas observed (Saturday -> Friday)
	}
	for _, day := range closed {
		_, err := c.Sessions(context.Background(), day, day)
		if err == nil {
			t.Errorf("Sessions(%s) succeeded, want closed", day.Format("2006-01-02"))
			continue
		}
		if !domain.IsCode(err, domain.ErrDataUnavailable) {
			t.Errorf("Sessions(%s) error = %v, want DATA_UNAVAILABLE", day.Format("2006-01-02"), err)
		}
	}

	// Juneteenth was not an exchange holiday before 2022.
	if _, err := c.Sessions(context.Background(), date(2021, 6, 18), date(2021, 6, 18)); err != nil {
		t.Errorf("2021-06-18 should be a trading day: %v", err)
	}
}

func TestXNYSEarlyCloses(t *testing.T) {
	c := mustXNYS(t)
	early := []time.Time{
		date(2024, 7, 3),   // day before Independence Day
		date(2024, 11, 29), // day after Thanksgiving
		date(2024, 12, 24), // Christmas Eve
	}
	for _, day := range early {
		sessions, err := c.Sessions(context.Background(), day, day)
		if err != nil {
			t.Errorf("Sessions(%s) returned error: %v", day.Format("2006-01-02"), err)
			continue
		}
		if got := sessions[0].Close.Hour(); got != 13 {
			t.Errorf("%s close hour = %d, want 13", day.Format("2006-01-02"), got)
		}
	}
}

func TestXNYSEmptyRange(t *testing.T) {
	c := mustXNYS(t)
	// A weekend-only range has no sessions.
	_, err := c.Sessions(context.Background(), date(2024, 3, 9), date(2024, 3, 10))
	if !domain.IsCode(err, domain.ErrDataUnavailable) {
		t.Fatalf("error = %v, want DATA_UNAVAILABLE", err)
	}
}

// fakeTradingAPI scripts GetCalendar responses.
type fakeTradingAPI struct {
	days []alpaca.CalendarDay
	errs []error
	call int
}

func (f *fakeTradingAPI) GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	if f.call < len(f.errs) && f.errs[f.call] != nil {
		f.call++
		return nil, f.errs[f.call-1]
	}
	f.call++
	return f.days, nil
}

func TestAlpacaSessions(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	c := &Alpaca{
		client: &fakeTradingAPI{days: []alpaca.CalendarDay{
			{Date: "2024-03-04", Open: "09:30", Close: "16:00"},
			{Date: "2024-07-03", Open: "09:30", Close: "13:00"},
		}},
		loc: loc,
	}
	sessions, err := c.Sessions(context.Background(), date(2024, 3, 4), date(2024, 7, 3))
	if err != nil {
		t.Fatalf("Sessions() returned error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	if sessions[1].Close.Hour() != 13 {
		t.Errorf("early close hour = %d, want 13", sessions[1].Close.Hour())
	}
	if sessions[0].Open.Location().String() != "America/New_York" {
		t.Errorf("open location = %v, want exchange timezone", sessions[0].Open.Location())
	}
}

func TestAlpacaEmptyCalendar(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	c := &Alpaca{client: &fakeTradingAPI{}, loc: loc}
	_, err := c.Sessions(context.Background(), date(2024, 3, 9), date(2024, 3, 10))
	if !domain.IsCode(err, domain.ErrDataUnavailable) {
		t.Fatalf("error = %v, want DATA_UNAVAILABLE", err)
	}
}
