package models

import "time"

type Screener struct {
	ID                   int64
	UserID               int64
	Name                 string
	Rules                string
	Active               bool
	ScannedInstrumentIDs []int64
	ScannedAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
