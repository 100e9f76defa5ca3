package transform

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/model"
	"github.com/shopspring/decimal"
)

// WriteCSV writes a header row followed by one line per record.
func WriteCSV(w io.Writer, records []model.PriceRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(model.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i, rec := range records {
		if err := writer.Write(FormatRecord(rec)); err != nil {
			return fmt.Errorf("failed to write CSV record %d: %w", i, err)
		}
	}

	// Flush the writer to ensure all data is written
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}

	return nil
}

// EncodeCSV is WriteCSV into a byte slice.
func EncodeCSV(records []model.PriceRecord) ([]byte, error) {
	var buffer bytes.Buffer
	if err := WriteCSV(&buffer, records); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// FormatRecord renders a record in column order.
func FormatRecord(rec model.PriceRecord) []string {
	return []string{
		rec.DateString(),
		rec.Open.String(),
		rec.High.String(),
		rec.Low.String(),
		rec.Close.String(),
		strconv.FormatInt(rec.Volume, 10),
		rec.Dividends.String(),
		rec.StockSplits.String(),
		rec.Symbol,
	}
}

// ReadCSV parses a staged CSV. The header must match model.Columns.
func ReadCSV(r io.Reader) ([]model.PriceRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(model.Columns)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, col := range model.Columns {
		if header[i] != col {
			return nil, fmt.Errorf("mismatched column name: expected '%s', got '%s' at position %d", col, header[i], i+1)
		}
	}

	records := make([]model.PriceRecord, 0)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV data: %w", err)
		}

		rec, err := ParseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV line %d: %w", line, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// ParseRecord is the inverse of FormatRecord.
func ParseRecord(row []string) (model.PriceRecord, error) {
	if len(row) != len(model.Columns) {
		return model.PriceRecord{}, fmt.Errorf("expected %d fields, got %d", len(model.Columns), len(row))
	}

	date, err := time.Parse(model.DateLayout, row[0])
	if err != nil {
		return model.PriceRecord{}, fmt.Errorf("invalid Date %q: %w", row[0], err)
	}

	var decimals [4]decimal.Decimal
	for i := range decimals {
		decimals[i], err = decimal.NewFromString(row[i+1])
		if err != nil {
			return model.PriceRecord{}, fmt.Errorf("invalid %s %q: %w", model.Columns[i+1], row[i+1], err)
		}
	}

	volume, err := strconv.ParseInt(row[5], 10, 64)
	if err != nil {
		return model.PriceRecord{}, fmt.Errorf("invalid Volume %q: %w", row[5], err)
	}

	dividends, err := decimal.NewFromString(row[6])
	if err != nil {
		return model.PriceRecord{}, fmt.Errorf("invalid Dividends %q: %w", row[6], err)
	}

	splits, err := decimal.NewFromString(row[7])
	if err != nil {
		return model.PriceRecord{}, fmt.Errorf("invalid Stock_Splits %q: %w", row[7], err)
	}

	return model.PriceRecord{
		Date:        date,
		Open:        decimals[0],
		High:        decimals[1],
		Low:         decimals[2],
		Close:       decimals[3],
		Volume:      volume,
		Dividends:   dividends,
		StockSplits: splits,
		Symbol:      row[8],
	}, nil
}

// CountRows returns the number of data rows in a CSV, excluding the header.
func CountRows(csvData []byte) (int, error) {
	if len(bytes.TrimSpace(csvData)) == 0 {
		return 0, fmt.Errorf("received empty CSV data")
	}

	reader := csv.NewReader(bytes.NewReader(csvData))
	if _, err := reader.Read(); err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	n := 0
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read CSV data: %w", err)
		}
		n++
	}
	return n, nil
}
