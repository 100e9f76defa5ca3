package load

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/template"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/transform"
	"github.com/marcboeker/go-duckdb"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

const tmpCSVFile = "wallstreet_*.csv"

type DuckDB struct {
	Logger    *slog.Logger
	DB        *sql.DB
	Connector *duckdb.Connector
	DBType    string
}

func NewDuckDB(config *config.Config, logger *slog.Logger) (*DuckDB, error) {
	var path string
	var dbType string
	if strings.HasPrefix(config.DuckDB.Path, "md:") {
		motherduckToken := config.DuckDB.MotherDuckToken
		if motherduckToken == "" {
			motherduckToken = os.Getenv("MOTHERDUCK_TOKEN")
		}
		if motherduckToken == "" {
			return nil, fmt.Errorf("MOTHERDUCK_TOKEN env variable is not set")
		}
		path = fmt.Sprintf("%s?motherduck_token=%s", config.DuckDB.Path, motherduckToken)
		dbType = ":md:"
	} else if config.DuckDB.Path == "" || config.DuckDB.Path == ":memory:" {
		path = ""
		dbType = ":memory:"
	} else {
		path = config.DuckDB.Path
		dbType = path
	}

	var connInitFn func(driver.ExecerContext) error
	if len(config.DuckDB.ConnInitFnQueries) > 0 {
		connInitFn = func(exec driver.ExecerContext) error {
			for _, path := range config.DuckDB.ConnInitFnQueries {
				query, err := readQuery(path)
				if err != nil {
					return err
				}

				if _, err = exec.ExecContext(context.Background(), string(query), nil); err != nil {
					return fmt.Errorf("failed to execute query from file %s: %w", path, err)
				}
			}
			return nil
		}
		logger.Debug(fmt.Sprintf("Connection initialization queries: %v", config.DuckDB.ConnInitFnQueries))
	}

	connector, err := duckdb.NewConnector(path, connInitFn)
	if err != nil {
		return nil, fmt.Errorf("error creating duckdb connector: %w", err)
	}

	db := sql.OpenDB(connector)

	switch dbType {
	case ":memory:":
		logger.Info("Connected to DuckDB in-memory database")
	case ":md:":
		logger.Info("Connected to MotherDuck database")
	default:
		logger.Info(fmt.Sprintf("Connected to local DuckDB database at %s", dbType))
	}

	return &DuckDB{
		Logger:    logger,
		DB:        db,
		Connector: connector,
		DBType:    dbType,
	}, nil
}

func readQuery(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	query, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return query, nil
}

func (db *DuckDB) Close() {
	db.DB.Close()
	db.Connector.Close()
}

// EnsureTable creates the dataset schema and the table if they do not exist.
func (db *DuckDB) EnsureTable(ctx context.Context, table TableID, schema Schema) error {
	columnDefs, err := schema.columnDefs(duckDBTypes)
	if err != nil {
		return err
	}

	params := table.params()
	params["ColumnDefs"] = columnDefs

	query, err := template.ExecuteSqlTemplate(sqlFiles, "sql/duckdb__create_table.sql", params)
	if err != nil {
		return err
	}

	if err := db.RunQuery(ctx, query); err != nil {
		return fmt.Errorf("error creating table %s: %w", table, err)
	}
	return nil
}

// AppendCSV appends the rows of a CSV file with a header row to table,
// creating the table first if needed. Existing rows are never replaced.
func (db *DuckDB) AppendCSV(ctx context.Context, table TableID, schema Schema, csv []byte) (int64, error) {
	if err := db.EnsureTable(ctx, table, schema); err != nil {
		return 0, err
	}

	rows, err := transform.CountRows(csv)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		db.Logger.Warn("CSV contains no data rows, nothing to load", "table", table.String())
		return 0, nil
	}

	columns, err := schema.duckDBColumns()
	if err != nil {
		return 0, err
	}

	params := table.params()
	params["Columns"] = columns

	res, err := db.LoadCSVWithQuery(ctx, csv, "sql/duckdb__append_csv.sql", params)
	if err != nil {
		return 0, fmt.Errorf("error appending to %s: %w", table, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading rows affected: %w", err)
	}

	db.Logger.Info(fmt.Sprintf("Loaded %d rows into %s", affected, table))
	return affected, nil
}

// LoadCSVWithQuery loads CSV data using an embedded SQL template.
// The template should use {{.CsvFile}} where the temporary CSV filename should be inserted.
func (db *DuckDB) LoadCSVWithQuery(ctx context.Context, csv []byte, templateName string, params map[string]any) (sql.Result, error) {
	tmpFile, err := createTmpFile(csv)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpFile.Name())

	if params == nil {
		params = make(map[string]any)
	}
	params["CsvFile"] = tmpFile.Name()

	query, err := template.ExecuteSqlTemplate(sqlFiles, templateName, params)
	if err != nil {
		return nil, err
	}

	db.Logger.Debug("Executing DuckDB query", "query", query)

	res, err := db.DB.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	return res, nil
}

func createTmpFile(csv []byte) (*os.File, error) {
	if len(csv) == 0 {
		return nil, fmt.Errorf("received empty CSV data")
	}

	tmpFile, err := os.CreateTemp("", tmpCSVFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := tmpFile.Write(csv); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("failed to write to temporary file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("failed to close temporary file: %w", err)
	}

	return tmpFile, nil
}

func (db *DuckDB) RunQuery(ctx context.Context, query string) error {
	if _, err := db.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	return nil
}

// GetQueryResults executes a query and returns the results as a map of column names to slices of values
func (db *DuckDB) GetQueryResults(ctx context.Context, query string) (map[string][]string, error) {
	rows, err := db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := make(map[string][]string)
	for _, col := range columns {
		results[col] = []string{}
	}

	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, col := range columns {
			results[col] = append(results[col], fmt.Sprintf("%v", values[i]))
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}

	return results, nil
}
