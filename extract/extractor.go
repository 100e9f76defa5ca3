package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/model"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/transform"
	"github.com/sourcegraph/conc/iter"
)

// PriceFetcher returns the latest trading day's rows for one symbol.
type PriceFetcher interface {
	GetLastTradingDay(ctx context.Context, symbol string) ([]model.PriceRecord, error)
}

// Extractor fetches every configured symbol and stages the result as a CSV file.
type Extractor struct {
	Fetcher        PriceFetcher
	Logger         *slog.Logger
	Symbols        []string
	MaxConcurrency int
	LocalDir       string
	FilePrefix     string
}

func NewExtractor(config *config.Config, fetcher PriceFetcher, logger *slog.Logger) *Extractor {
	return &Extractor{
		Fetcher:        fetcher,
		Logger:         logger,
		Symbols:        config.Extract.Symbols,
		MaxConcurrency: config.Extract.MaxConcurrency,
		LocalDir:       config.Staging.LocalDir,
		FilePrefix:     config.Staging.FilePrefix,
	}
}

// StagedFileName returns e.g. stock_data_20260102.csv.
func StagedFileName(prefix string, date time.Time) string {
	return fmt.Sprintf("%s%s.csv", prefix, date.Format("20060102"))
}

// FetchAll fetches every symbol and concatenates the rows in symbol order.
// With MaxConcurrency 1 the fetches run one after another.
func (e *Extractor) FetchAll(ctx context.Context) (model.Dataset, error) {
	maxGoroutines := e.MaxConcurrency
	if maxGoroutines < 1 {
		maxGoroutines = 1
	}

	mapper := iter.Mapper[string, []model.PriceRecord]{
		MaxGoroutines: maxGoroutines,
	}

	perSymbol, err := mapper.MapErr(e.Symbols, func(symbol *string) ([]model.PriceRecord, error) {
		records, err := e.Fetcher.GetLastTradingDay(ctx, *symbol)
		if err != nil {
			return nil, fmt.Errorf("error fetching data for symbol %s: %w", *symbol, err)
		}
		if len(records) == 0 {
			e.Logger.Warn("Provider returned no rows", "symbol", *symbol)
		}
		for i := range records {
			records[i].Symbol = *symbol
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}

	dataset := make(model.Dataset, 0, len(e.Symbols))
	for _, records := range perSymbol {
		dataset = append(dataset, records...)
	}
	return dataset, nil
}

// Extract fetches all symbols and writes <LocalDir>/<prefix><YYYYMMDD>.csv.
// It returns the file name without directory. Nothing is written on error,
// and an existing file for the same date is replaced.
func (e *Extractor) Extract(ctx context.Context, date time.Time) (string, error) {
	e.Logger.Info(fmt.Sprintf("Fetching data for: %v", e.Symbols))

	dataset, err := e.FetchAll(ctx)
	if err != nil {
		return "", fmt.Errorf("error fetching stock data: %w", err)
	}

	fileName := StagedFileName(e.FilePrefix, date)
	filePath := filepath.Join(e.LocalDir, fileName)

	if err := writeFileAtomic(filePath, dataset); err != nil {
		return "", fmt.Errorf("error writing %s: %w", filePath, err)
	}

	e.Logger.Info(fmt.Sprintf("Saved data to %s", filePath), "rows", len(dataset), "symbols", dataset.Symbols())
	return fileName, nil
}

func writeFileAtomic(path string, dataset model.Dataset) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if err := tmpFile.Chmod(0o644); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}

	if err := transform.WriteCSV(tmpFile, dataset); err != nil {
		tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), path); err != nil {
		return fmt.Errorf("failed to move temporary file into place: %w", err)
	}
	return nil
}
