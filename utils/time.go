package utils

import (
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/model"
)

// TimeProvider interface for time operations
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider implements TimeProvider using actual system time
type RealTimeProvider struct{}

func (p RealTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider always returns Time. Used for backfills and tests.
type FixedTimeProvider struct {
	Time time.Time
}

func (p FixedTimeProvider) Now() time.Time {
	return p.Time
}

// Today returns midnight UTC of the provider's current calendar date.
func Today(p TimeProvider) time.Time {
	return model.CalendarDate(p.Now())
}
