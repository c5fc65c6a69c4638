package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Instrument struct {
	ID             int64
	Name           string
	Exchange       string
	ExchangeToken  string // ключ в кеше LTP
	TradingSymbol  string
	TickSize       decimal.Decimal
	LotSize        int
	LTP            decimal.Decimal
	PreviousDayLTP decimal.Decimal
	UpdatedAt      time.Time
}

// Unit это единица таймфрейма свечи.
type Unit string

const (
	UnitMinute Unit = "minute"
	UnitHour   Unit = "hour"
	UnitDay    Unit = "day"
	UnitWeek   Unit = "week"
	UnitMonth  Unit = "month"
)

// Code возвращает числовой код единицы в таблице instrument_histories.
func (u Unit) Code() int {
	switch u {
	case UnitMinute:
		return 1
	case UnitHour:
		return 2
	case UnitDay:
		return 3
	case UnitWeek:
		return 4
	case UnitMonth:
		return 5
	}
	return 0
}

func UnitFromCode(code int) (Unit, error) {
	switch code {
	case 1:
		return UnitMinute, nil
	case 2:
		return UnitHour, nil
	case 3:
		return UnitDay, nil
	case 4:
		return UnitWeek, nil
	case 5:
		return UnitMonth, nil
	}
	return "", errors.Errorf("unknown unit code %d", code)
}

// ParseUnit понимает единственное и множественное число в любом регистре.
func ParseUnit(s string) (Unit, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimSuffix(v, "s")
	switch Unit(v) {
	case UnitMinute, UnitHour, UnitDay, UnitWeek, UnitMonth:
		return Unit(v), nil
	}
	return "", errors.Errorf("unknown unit %q", s)
}

type Candle struct {
	InstrumentID int64
	Unit         Unit
	Interval     int
	Timestamp    time.Time
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       int64
}

// ParseClock разбирает "HH:MM".
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("bad clock %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, errors.Errorf("bad hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, errors.Errorf("bad minute in %q", s)
	}
	return hour, minute, nil
}
