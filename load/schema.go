package load

import (
	"fmt"
	"regexp"
	"strings"
)

// Column is a warehouse column with a logical type (DATE, FLOAT, INTEGER, STRING).
type Column struct {
	Name string
	Type string
}

type Schema []Column

// PriceSchema is the fixed schema of the raw stock prices table.
var PriceSchema = Schema{
	{Name: "Date", Type: "DATE"},
	{Name: "Open", Type: "FLOAT"},
	{Name: "High", Type: "FLOAT"},
	{Name: "Low", Type: "FLOAT"},
	{Name: "Close", Type: "FLOAT"},
	{Name: "Volume", Type: "INTEGER"},
	{Name: "Dividends", Type: "FLOAT"},
	{Name: "Stock_Splits", Type: "FLOAT"},
	{Name: "Symbol", Type: "STRING"},
}

var duckDBTypes = map[string]string{
	"DATE":    "DATE",
	"FLOAT":   "DOUBLE",
	"INTEGER": "BIGINT",
	"STRING":  "VARCHAR",
}

var postgresTypes = map[string]string{
	"DATE":    "DATE",
	"FLOAT":   "DOUBLE PRECISION",
	"INTEGER": "BIGINT",
	"STRING":  "TEXT",
}

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, col := range s {
		names[i] = col.Name
	}
	return names
}

// columnDefs renders `"Name" TYPE` lines for a CREATE TABLE statement.
func (s Schema) columnDefs(types map[string]string) (string, error) {
	defs := make([]string, len(s))
	for i, col := range s {
		t, ok := types[col.Type]
		if !ok {
			return "", fmt.Errorf("unsupported column type %s for column %s", col.Type, col.Name)
		}
		defs[i] = fmt.Sprintf("    \"%s\" %s", col.Name, t)
	}
	return strings.Join(defs, ",\n"), nil
}

// duckDBColumns renders the struct literal read_csv expects, e.g. {'Date': 'DATE'}.
func (s Schema) duckDBColumns() (string, error) {
	cols := make([]string, len(s))
	for i, col := range s {
		t, ok := duckDBTypes[col.Type]
		if !ok {
			return "", fmt.Errorf("unsupported column type %s for column %s", col.Type, col.Name)
		}
		cols[i] = fmt.Sprintf("'%s': '%s'", col.Name, t)
	}
	return "{" + strings.Join(cols, ", ") + "}", nil
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableID is a fully-qualified <dataset>.<table> identifier.
type TableID struct {
	Dataset string
	Table   string
}

func NewTableID(dataset, table string) (TableID, error) {
	if !identifier.MatchString(dataset) {
		return TableID{}, fmt.Errorf("invalid dataset name %q", dataset)
	}
	if !identifier.MatchString(table) {
		return TableID{}, fmt.Errorf("invalid table name %q", table)
	}
	return TableID{Dataset: dataset, Table: table}, nil
}

func ParseTableID(s string) (TableID, error) {
	dataset, table, ok := strings.Cut(s, ".")
	if !ok {
		return TableID{}, fmt.Errorf("table %q is not of the form <dataset>.<table>", s)
	}
	return NewTableID(dataset, table)
}

func (t TableID) String() string {
	return t.Dataset + "." + t.Table
}

func (t TableID) params() map[string]any {
	return map[string]any{
		"Dataset": t.Dataset,
		"Table":   t.Table,
	}
}
