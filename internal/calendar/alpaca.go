package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"nlquant/internal/domain"
	"nlquant/internal/util"
)

// alpacaTradingAPI is the slice of the Alpaca trading client the calendar
// needs. Narrowed for testability.
type alpacaTradingAPI interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// Alpaca serves sessions from the Alpaca trading calendar API. It agrees
// with XNYS on regular days and additionally reflects ad-hoc closures the
// static calendar cannot know about.
type Alpaca struct {
	client alpacaTradingAPI
	loc    *time.Location
}

// bounded retries against transient calendar API failures.
const (
	calendarRetryAttempts = 3
	calendarRetryDelay    = 500 * time.Millisecond
)

var _ Calendar = (*Alpaca)(nil)

// NewAlpaca builds a calendar over the Alpaca trading API.
func NewAlpaca(apiKey, apiSecret, baseURL string) (*Alpaca, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading exchange timezone: %w", err)
	}
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &Alpaca{client: client, loc: loc}, nil
}

// Sessions implements Calendar.
func (c *Alpaca) Sessions(ctx context.Context, start, end time.Time) ([]domain.Session, error) {
	var days []alpaca.CalendarDay
	err := util.Retry(ctx, calendarRetryAttempts, calendarRetryDelay, func() error {
		var err error
		days, err = c.client.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
		return err
	})
	if err != nil {
		return nil, domain.E(domain.ErrDataUnavailable, "trading calendar request failed", map[string]any{
			"start": start.Format("2006-01-02"),
			"end":   end.Format("2006-01-02"),
			"cause": err.Error(),
		})
	}

	sessions := make([]domain.Session, 0, len(days))
	for _, day := range days {
		date, err := time.ParseInLocation("2006-01-02", day.Date, c.loc)
		if err != nil {
			return nil, domain.E(domain.ErrDataUnavailable, "trading calendar returned unparseable day", map[string]any{
				"date": day.Date, "cause": err.Error(),
			})
		}
		open, err := time.ParseInLocation("2006-01-02 15:04", day.Date+" "+day.Open, c.loc)
		if err != nil {
			return nil, domain.E(domain.ErrDataUnavailable, "trading calendar returned unparseable open", map[string]any{
				"date": day.Date, "open": day.Open, "cause": err.Error(),
			})
		}
		closeTS, err := time.ParseInLocation("2006-01-02 15:04", day.Date+" "+day.Close, c.loc)
		if err != nil {
			return nil, domain.E(domain.ErrDataUnavailable, "trading calendar returned unparseable close", map[string]any{
				"date": day.Date, "close": day.Close, "cause": err.Error(),
			})
		}
		sessions = append(sessions, domain.Session{Date: date, Open: open, Close: closeTS})
	}
	if len(sessions) == 0 {
		return nil, domain.E(domain.ErrDataUnavailable, "no trading sessions in range", map[string]any{
			"start": start.Format("2006-01-02"),
			"end":   end.Format("2006-01-02"),
		})
	}
	return sessions, nil
}
