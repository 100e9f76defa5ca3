package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the plain calendar-date format used in staged files.
const DateLayout = "2006-01-02"

// Columns lists the staged CSV columns in warehouse schema order.
var Columns = []string{
	"Date",
	"Open",
	"High",
	"Low",
	"Close",
	"Volume",
	"Dividends",
	"Stock_Splits",
	"Symbol",
}

// PriceRecord is one row per (symbol, trading date).
type PriceRecord struct {
	Date        time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      int64
	Dividends   decimal.Decimal
	StockSplits decimal.Decimal
	Symbol      string
}

// DateString returns Date formatted as YYYY-MM-DD.
func (r PriceRecord) DateString() string {
	return r.Date.Format(DateLayout)
}

// Dataset is the ordered collection of records produced by one run.
type Dataset []PriceRecord

// Symbols returns the distinct symbols in first-seen order.
func (d Dataset) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range d {
		if !seen[r.Symbol] {
			seen[r.Symbol] = true
			out = append(out, r.Symbol)
		}
	}
	return out
}

// CalendarDate truncates t to midnight UTC of its calendar date in t's location.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
