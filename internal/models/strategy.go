package models

import (
	"time"

	"github.com/pkg/errors"
)

// SourceKind определяет, откуда стратегия берет список инструментов.
type SourceKind string

const (
	SourceRuleBased       SourceKind = "rule_based"
	SourceInstrumentBased SourceKind = "instrument_based"
	SourceScreenerBased   SourceKind = "screener_based"
)

const (
	DefaultDailyMaxEntries = 5
	DefaultReEnter         = 0
)

var ErrEmptyRule = errors.New("rule must not be empty")

// Strategy одна на все варианты, вариант задается Kind.
type Strategy struct {
	ID     int64
	UserID int64
	Name   string
	Kind   SourceKind

	EntryRule string
	ExitRule  string

	Deployed     bool
	OnlySimulate bool

	DailyMaxEntries int
	ReEnter         int

	// Для instrument_based: явный список; для screener_based: последний шортлист скринера.
	InstrumentIDs        []int64
	EnteredInstrumentIDs []int64
	CloseOrderIDs        []int64

	// screener_based
	ScreenerID            int64
	ScreenerExecutionTime string // "HH:MM" в часовом поясе биржи

	Parameters map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Strategy) ScreenerBased() bool { return s.Kind == SourceScreenerBased }

// DistinctEntered считает уникальные инструменты, по которым был вход.
func (s *Strategy) DistinctEntered() int {
	seen := make(map[int64]struct{}, len(s.EnteredInstrumentIDs))
	for _, id := range s.EnteredInstrumentIDs {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// ReEnterBlocked возвращает инструменты, встречающиеся в entered не меньше ReEnter раз.
func (s *Strategy) ReEnterBlocked() map[int64]struct{} {
	tally := make(map[int64]int, len(s.EnteredInstrumentIDs))
	for _, id := range s.EnteredInstrumentIDs {
		tally[id]++
	}
	blocked := make(map[int64]struct{})
	for id, n := range tally {
		if n >= s.ReEnter {
			blocked[id] = struct{}{}
		}
	}
	return blocked
}

func (s *Strategy) ResetDaily() {
	s.EnteredInstrumentIDs = []int64{}
}

func (s *Strategy) CheckRules() error {
	if s.EntryRule == "" {
		return errors.Wrap(ErrEmptyRule, "entry_rule")
	}
	if s.ExitRule == "" {
		return errors.Wrap(ErrEmptyRule, "exit_rule")
	}
	switch s.Kind {
	case SourceRuleBased, SourceInstrumentBased:
	case SourceScreenerBased:
		if s.ScreenerID == 0 {
			return errors.New("screener_id is required for screener based strategy")
		}
		if _, _, err := ParseClock(s.ScreenerExecutionTime); err != nil {
			return errors.Wrap(err, "screener_execution_time")
		}
	default:
		return errors.Errorf("unknown strategy kind %q", s.Kind)
	}
	return nil
}
