package transform

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "Date,Open,High,Low,Close,Volume,Dividends,Stock_Splits,Symbol\n"

func nvdaRecord() model.PriceRecord {
	return model.PriceRecord{
		Date:        time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Open:        decimal.RequireFromString("136.25"),
		High:        decimal.RequireFromString("138.88"),
		Low:         decimal.RequireFromString("134.63"),
		Close:       decimal.RequireFromString("138.31"),
		Volume:      198247200,
		Dividends:   decimal.Zero,
		StockSplits: decimal.Zero,
		Symbol:      "NVDA",
	}
}

func TestWriteCSV(t *testing.T) {
	msft := nvdaRecord()
	msft.Symbol = "MSFT"
	msft.Dividends = decimal.RequireFromString("0.83")

	tests := []struct {
		name           string
		records        []model.PriceRecord
		expectedOutput string
	}{
		{
			name:           "No records writes header only",
			records:        nil,
			expectedOutput: header,
		},
		{
			name:    "Single record",
			records: []model.PriceRecord{nvdaRecord()},
			expectedOutput: header +
				"2026-01-02,136.25,138.88,134.63,138.31,198247200,0,0,NVDA\n",
		},
		{
			name:    "Order is preserved",
			records: []model.PriceRecord{msft, nvdaRecord()},
			expectedOutput: header +
				"2026-01-02,136.25,138.88,134.63,138.31,198247200,0.83,0,MSFT\n" +
				"2026-01-02,136.25,138.88,134.63,138.31,198247200,0,0,NVDA\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := WriteCSV(&buf, tt.records)
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedOutput, buf.String())
		})
	}
}

func TestWriteCSV_NineColumns(t *testing.T) {
	out, err := EncodeCSV([]model.PriceRecord{nvdaRecord(), nvdaRecord()})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Len(t, strings.Split(line, ","), 9)
	}
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name          string
		csvData       string
		expected      []model.PriceRecord
		expectedError string
	}{
		{
			name:     "Header only",
			csvData:  header,
			expected: []model.PriceRecord{},
		},
		{
			name:     "One row",
			csvData:  header + "2026-01-02,136.25,138.88,134.63,138.31,198247200,0,0,NVDA\n",
			expected: []model.PriceRecord{nvdaRecord()},
		},
		{
			name:          "Empty input",
			csvData:       "",
			expectedError: "failed to read CSV header",
		},
		{
			name:          "Mismatched header",
			csvData:       "Date,Open,High,Low,Close,Volume,Dividends,Stock Splits,Symbol\n",
			expectedError: "mismatched column name: expected 'Stock_Splits', got 'Stock Splits' at position 8",
		},
		{
			name:          "Wrong field count",
			csvData:       header + "2026-01-02,1,2,3\n",
			expectedError: "failed to read CSV data",
		},
		{
			name:          "Bad date",
			csvData:       header + "01/02/2026,136.25,138.88,134.63,138.31,198247200,0,0,NVDA\n",
			expectedError: "failed to parse CSV line 2: invalid Date",
		},
		{
			name:          "Bad volume",
			csvData:       header + "2026-01-02,136.25,138.88,134.63,138.31,lots,0,0,NVDA\n",
			expectedError: "invalid Volume",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ReadCSV(strings.NewReader(tt.csvData))
			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}
			require.NoError(t, err)
			require.Len(t, records, len(tt.expected))
			for i := range tt.expected {
				assert.Equal(t, FormatRecord(tt.expected[i]), FormatRecord(records[i]))
				assert.True(t, tt.expected[i].Date.Equal(records[i].Date))
			}
		})
	}
}

func TestCountRows(t *testing.T) {
	n, err := CountRows([]byte(header))
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = CountRows([]byte(header + "2026-01-02,1,1,1,1,1,0,0,A\n2026-01-02,1,1,1,1,1,0,0,B\n"))
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = CountRows([]byte("  \n"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "received empty CSV data")
}
