package load

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/model"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/template"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/transform"
	"github.com/lib/pq"
)

type Postgres struct {
	Logger *slog.Logger
	DB     *sql.DB
}

// NewPostgres opens a lazy connection pool. Nothing is dialled until the first query.
func NewPostgres(config *config.Config, logger *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", config.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening postgres connection: %w", err)
	}

	logger.Info(fmt.Sprintf("Connected to Postgres database %s at %s:%d",
		config.Postgres.DBName, config.Postgres.Host, config.Postgres.Port))

	return &Postgres{Logger: logger, DB: db}, nil
}

func (p *Postgres) Close() {
	p.DB.Close()
}

// AppendCSV parses the CSV and copies its rows into table inside a single transaction.
func (p *Postgres) AppendCSV(ctx context.Context, table TableID, schema Schema, csv []byte) (int64, error) {
	records, err := transform.ReadCSV(bytes.NewReader(csv))
	if err != nil {
		return 0, fmt.Errorf("error parsing CSV for %s: %w", table, err)
	}

	columnDefs, err := schema.columnDefs(postgresTypes)
	if err != nil {
		return 0, err
	}
	params := table.params()
	params["ColumnDefs"] = columnDefs

	createQuery, err := template.ExecuteSqlTemplate(sqlFiles, "sql/postgres__create_table.sql", params)
	if err != nil {
		return 0, err
	}

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createQuery); err != nil {
		return 0, fmt.Errorf("error creating table %s: %w", table, err)
	}

	if len(records) == 0 {
		p.Logger.Warn("CSV contains no data rows, nothing to load", "table", table.String())
		return 0, tx.Commit()
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(table.Dataset, table.Table, schema.Names()...))
	if err != nil {
		return 0, fmt.Errorf("error preparing copy into %s: %w", table, err)
	}

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, copyValues(rec)...); err != nil {
			stmt.Close()
			return 0, fmt.Errorf("error copying row for %s on %s: %w", rec.Symbol, rec.DateString(), err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("error flushing copy into %s: %w", table, err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("error closing copy statement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing load into %s: %w", table, err)
	}

	p.Logger.Info(fmt.Sprintf("Loaded %d rows into %s", len(records), table))
	return int64(len(records)), nil
}

// copyValues orders a record's fields like PriceSchema.
func copyValues(rec model.PriceRecord) []any {
	return []any{
		rec.DateString(),
		rec.Open.String(),
		rec.High.String(),
		rec.Low.String(),
		rec.Close.String(),
		rec.Volume,
		rec.Dividends.String(),
		rec.StockSplits.String(),
		rec.Symbol,
	}
}
