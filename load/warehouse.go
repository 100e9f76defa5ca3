package load

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
)

// Warehouse appends staged CSV files to a table. Implementations never replace existing rows.
type Warehouse interface {
	AppendCSV(ctx context.Context, table TableID, schema Schema, csv []byte) (int64, error)
	Close()
}

func NewWarehouse(config *config.Config, logger *slog.Logger) (Warehouse, error) {
	switch config.Warehouse.Backend {
	case "duckdb", "":
		return NewDuckDB(config, logger)
	case "postgres":
		return NewPostgres(config, logger)
	default:
		return nil, fmt.Errorf("unknown warehouse backend: %s", config.Warehouse.Backend)
	}
}
