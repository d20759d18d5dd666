// Package connector implements the uniform query/schema API (C1) over
// PostgreSQL, MySQL, SQLite, Oracle, CSV, Excel, and JSON datasources.
package connector

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// QueryResult is the uniform shape every connector returns from ExecuteQuery.
type QueryResult struct {
	Columns         []string   `json:"columns"`
	Rows            [][]string `json:"rows"`
	RowCount        int        `json:"row_count"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
}

// DatabaseStats is the result of AnalyzeDatabase.
type DatabaseStats struct {
	TableCount    int      `json:"table_count"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	TotalRows     int64    `json:"total_rows"`
	TableNames    []string `json:"table_names"`
	KeyTables     []string `json:"key_tables"`
	LargestTables []string `json:"largest_tables"`
}

// TableSchema describes one table/sheet's columns.
type TableSchema struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes a single inferred or introspected column.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Connector is the polymorphic capability every datasource variant
// implements, per SPEC_FULL.md §4.1.
type Connector interface {
	TestConnection(ctx context.Context) error
	ExecuteQuery(ctx context.Context, query string, limit int) (*QueryResult, error)
	FetchSchema(ctx context.Context) ([]TableSchema, error)
	ListTables(ctx context.Context) ([]string, error)
	AnalyzeDatabase(ctx context.Context) (*DatabaseStats, error)
	GetTablesSchema(ctx context.Context, names []string) ([]TableSchema, error)
	SearchTables(ctx context.Context, pattern string) ([]string, error)
	GetRelatedTables(ctx context.Context, table string) ([]string, error)
	Close() error
}

var selectPrefix = regexp.MustCompile(`(?i)^\s*select\b`)

// IsSelectOnly reports whether a query's normalized form begins with
// "select", the guard every ExecuteQuery must enforce per §4.1/§4.3.
func IsSelectOnly(query string) bool {
	return selectPrefix.MatchString(query)
}

// New constructs the connector variant for a datasource's source type. SQL
// variants require a live *sql.DB obtained from the connection pool registry
// (C2); file variants ignore it and open the file directly.
func New(sourceType model.SourceType, cfg Config, pooledDB SQLExecutor) (Connector, error) {
	switch sourceType {
	case model.SourcePostgres, model.SourceMySQL, model.SourceSQLite, model.SourceOracle:
		return newSQLConnector(sourceType, pooledDB)
	case model.SourceCSV:
		return newCSVConnector(cfg)
	case model.SourceExcel:
		return newExcelConnector(cfg)
	case model.SourceJSON:
		return newJSONConnector(cfg)
	default:
		return nil, &ConnectorError{Kind: Unsupported, Detail: "unknown source type: " + string(sourceType)}
	}
}

// Config is the decoded per-type connection configuration. Only the fields
// relevant to the active SourceType are populated; all of it round-trips
// through Datasource.ConnectionConfig as JSON (§9's tagged-sum design note).
type Config struct {
	// SQL variants
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Schema   string `json:"schema,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty"`

	// File variants
	FilePath  string   `json:"file_path,omitempty"`
	Delimiter string   `json:"delimiter,omitempty"`
	Sheet     string   `json:"sheet,omitempty"`
	JSONPaths []string `json:"json_paths,omitempty"`
}

func timeSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

func normalizeTableStem(path string) string {
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '.'); idx >= 0 {
		base = base[:idx]
	}
	return base
}
