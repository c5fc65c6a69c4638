package indicator

import (
	"time"

	"rule_trader/internal/models"

	"github.com/pkg/errors"
)

// MarketHours описывает торговую сессию биржи: будни, [Open, Close] включительно.
type MarketHours struct {
	Location    *time.Location
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

func NewMarketHours(tz, open, close string) (MarketHours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return MarketHours{}, errors.Wrapf(err, "load timezone %q", tz)
	}
	oh, om, err := models.ParseClock(open)
	if err != nil {
		return MarketHours{}, errors.Wrap(err, "market open")
	}
	ch, cm, err := models.ParseClock(close)
	if err != nil {
		return MarketHours{}, errors.Wrap(err, "market close")
	}
	return MarketHours{Location: loc, OpenHour: oh, OpenMinute: om, CloseHour: ch, CloseMinute: cm}, nil
}

func (m MarketHours) loc() *time.Location {
	if m.Location == nil {
		return time.UTC
	}
	return m.Location
}

// IsOpen сообщает, идет ли торговая сессия в момент t.
func (m MarketHours) IsOpen(t time.Time) bool {
	t = t.In(m.loc())
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	open := m.At(t, m.OpenHour, m.OpenMinute)
	closeAt := m.At(t, m.CloseHour, m.CloseMinute)
	return !t.Before(open) && !t.After(closeAt)
}

// At возвращает момент hour:minute в день t по времени биржи.
func (m MarketHours) At(t time.Time, hour, minute int) time.Time {
	t = t.In(m.loc())
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, m.loc())
}

// NextWeekday возвращает ближайший будний момент hour:minute строго после t.
func (m MarketHours) NextWeekday(t time.Time, hour, minute int) time.Time {
	next := m.At(t, hour, minute)
	for !next.After(t) || next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (m MarketHours) In(t time.Time) time.Time { return t.In(m.loc()) }
