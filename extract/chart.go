package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
	_ "time/tzdata"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/model"
	"github.com/shopspring/decimal"
)

// chartResponse is the response structure from the Yahoo Finance chart API.
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol               string `json:"symbol"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
		GMTOffset            int    `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp []int64 `json:"timestamp"`
	Events    struct {
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
		Splits map[string]struct {
			Date        int64   `json:"date"`
			Numerator   float64 `json:"numerator"`
			Denominator float64 `json:"denominator"`
		} `json:"splits"`
	} `json:"events"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// ParseChart converts a chart response into price records, one per bar.
// Dates are calendar dates in the exchange's timezone. Bars with no prices
// (holidays, halted sessions) are skipped. An empty result is not an error.
func ParseChart(body []byte) ([]model.PriceRecord, error) {
	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("failed to decode chart response: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("chart api error: %s: %s", chart.Chart.Error.Code, chart.Chart.Error.Description)
	}

	records := make([]model.PriceRecord, 0)
	if len(chart.Chart.Result) == 0 {
		return records, nil
	}

	result := chart.Chart.Result[0]
	if len(result.Timestamp) == 0 {
		return records, nil
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("chart response has %d timestamps but no quote", len(result.Timestamp))
	}

	loc := exchangeLocation(result.Meta.ExchangeTimezoneName, result.Meta.GMTOffset)
	dateKey := func(ts int64) string {
		return time.Unix(ts, 0).In(loc).Format(model.DateLayout)
	}

	dividends := make(map[string]decimal.Decimal)
	for _, div := range result.Events.Dividends {
		key := dateKey(div.Date)
		dividends[key] = dividends[key].Add(decimal.NewFromFloat(div.Amount))
	}

	splits := make(map[string]decimal.Decimal)
	for _, split := range result.Events.Splits {
		if split.Denominator == 0 {
			continue
		}
		splits[dateKey(split.Date)] = decimal.NewFromFloat(split.Numerator).Div(decimal.NewFromFloat(split.Denominator))
	}

	quote := result.Indicators.Quote[0]
	for i, ts := range result.Timestamp {
		open, high, low, closePrice := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if open == nil && high == nil && low == nil && closePrice == nil {
			continue
		}

		local := time.Unix(ts, 0).In(loc)
		key := local.Format(model.DateLayout)

		var volume int64
		if v := at(quote.Volume, i); v != nil {
			volume = int64(math.Round(*v))
		}

		records = append(records, model.PriceRecord{
			Date:        model.CalendarDate(local),
			Open:        toDecimal(open),
			High:        toDecimal(high),
			Low:         toDecimal(low),
			Close:       toDecimal(closePrice),
			Volume:      volume,
			Dividends:   dividends[key],
			StockSplits: splits[key],
		})
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
	return records, nil
}

func exchangeLocation(name string, gmtOffset int) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if gmtOffset != 0 {
		return time.FixedZone("exchange", gmtOffset)
	}
	return time.UTC
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

func toDecimal(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}
