package connector

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// SQLExecutor is the subset of *sql.DB the SQL connector variants need. C2
// hands the connector a pool-backed *sql.DB through this interface so the
// connector never owns connection lifecycle itself.
type SQLExecutor interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PingContext(ctx context.Context) error
}

type sqlConnector struct {
	sourceType model.SourceType
	db         SQLExecutor
}

func newSQLConnector(sourceType model.SourceType, db SQLExecutor) (Connector, error) {
	if db == nil {
		return nil, connectionFailed("no pooled connection supplied", nil)
	}
	return &sqlConnector{sourceType: sourceType, db: db}, nil
}

func (c *sqlConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return connectionFailed("ping failed", err)
	}
	return nil
}

// ExecuteQuery enforces the select-only guard, appends a dialect-appropriate
// LIMIT if the statement doesn't already carry one, runs it, and coerces
// every cell through the type-probe chain.
func (c *sqlConnector) ExecuteQuery(ctx context.Context, query string, limit int) (*QueryResult, error) {
	if !IsSelectOnly(query) {
		return nil, unsupported("only SELECT statements are permitted")
	}

	bounded := c.applyLimit(query, limit)

	start := time.Now()
	rows, err := c.db.QueryContext(ctx, bounded)
	if err != nil {
		return nil, queryFailed("query execution failed", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, queryFailed("reading columns", err)
	}

	result := &QueryResult{Columns: columns, Rows: [][]string{}}
	vals := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, queryFailed("scanning row", err)
		}
		row := make([]string, len(columns))
		for i, v := range vals {
			row[i] = stringifyCell(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed("iterating rows", err)
	}

	result.RowCount = len(result.Rows)
	result.ExecutionTimeMs = timeSince(start)
	return result, nil
}

var limitClauseRe = regexp.MustCompile(`(?i)\blimit\b`)

// applyLimit appends a server-side LIMIT when the query text doesn't
// already carry one, following the per-dialect pattern from §4.1: Oracle
// has no LIMIT clause, so it wraps the statement instead.
func (c *sqlConnector) applyLimit(query string, limit int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(query), ";")
	if limit <= 0 || limitClauseRe.MatchString(trimmed) {
		return trimmed
	}
	if c.sourceType == model.SourceOracle {
		return fmt.Sprintf("SELECT * FROM (%s) WHERE ROWNUM <= %d", trimmed, limit)
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, limit)
}

func (c *sqlConnector) FetchSchema(ctx context.Context) ([]TableSchema, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	return c.GetTablesSchema(ctx, tables)
}

func (c *sqlConnector) ListTables(ctx context.Context) ([]string, error) {
	q := c.catalogQuery()
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, queryFailed("listing tables", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, queryFailed("scanning table name", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// catalogQuery returns the per-dialect table-listing query, scoped to the
// configured schema/owner for Oracle per §4.1's tenant-safety requirement.
func (c *sqlConnector) catalogQuery() string {
	switch c.sourceType {
	case model.SourcePostgres:
		return `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`
	case model.SourceMySQL:
		return `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
	case model.SourceSQLite:
		return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	case model.SourceOracle:
		return `SELECT table_name FROM user_tables ORDER BY table_name`
	default:
		return ``
	}
}

func (c *sqlConnector) GetTablesSchema(ctx context.Context, names []string) ([]TableSchema, error) {
	out := make([]TableSchema, 0, len(names))
	for _, name := range names {
		cols, err := c.columnsFor(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, TableSchema{Name: name, Columns: cols})
	}
	return out, nil
}

func (c *sqlConnector) columnsFor(ctx context.Context, table string) ([]ColumnInfo, error) {
	q, args := c.columnQuery(table)
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, queryFailed("describing table "+table, err)
	}
	defer rows.Close()

	var out []ColumnInfo
	for rows.Next() {
		var name, dtype, nullable string
		if err := rows.Scan(&name, &dtype, &nullable); err != nil {
			return nil, queryFailed("scanning column", err)
		}
		out = append(out, ColumnInfo{
			Name:     name,
			Type:     dtype,
			Nullable: nullable == "YES" || nullable == "yes" || nullable == "1",
		})
	}
	return out, rows.Err()
}

func (c *sqlConnector) columnQuery(table string) (string, []interface{}) {
	switch c.sourceType {
	case model.SourcePostgres:
		return `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`, []interface{}{table}
	case model.SourceMySQL:
		return `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position`, []interface{}{table}
	case model.SourceSQLite:
		return `SELECT name, type, CASE WHEN "notnull" = 0 THEN 'YES' ELSE 'NO' END FROM pragma_table_info(?)`, []interface{}{table}
	case model.SourceOracle:
		return `SELECT column_name, data_type, nullable FROM user_tab_columns WHERE table_name = :1 ORDER BY column_id`, []interface{}{table}
	default:
		return ``, nil
	}
}

func (c *sqlConnector) SearchTables(ctx context.Context, pattern string) ([]string, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(pattern)
	var out []string
	for _, t := range tables {
		if strings.Contains(strings.ToLower(t), lower) {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetRelatedTables lists the tables that table's own foreign keys reference;
// tables whose foreign keys point at table are not included.
// Oracle/SQLite fall back to an empty result rather than a dialect-specific
// FK catalog query, since neither exposes one cheaply through database/sql.
func (c *sqlConnector) GetRelatedTables(ctx context.Context, table string) ([]string, error) {
	switch c.sourceType {
	case model.SourcePostgres:
		rows, err := c.db.QueryContext(ctx, `
			SELECT DISTINCT ccu.table_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.constraint_column_usage ccu ON tc.constraint_name = ccu.constraint_name
			WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_name = $1`, table)
		if err != nil {
			return nil, queryFailed("related tables", err)
		}
		defer rows.Close()
		var out []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, queryFailed("scanning related table", err)
			}
			out = append(out, name)
		}
		return out, rows.Err()
	case model.SourceMySQL:
		rows, err := c.db.QueryContext(ctx, `
			SELECT DISTINCT referenced_table_name FROM information_schema.key_column_usage
			WHERE table_schema = DATABASE() AND table_name = ? AND referenced_table_name IS NOT NULL`, table)
		if err != nil {
			return nil, queryFailed("related tables", err)
		}
		defer rows.Close()
		var out []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, queryFailed("scanning related table", err)
			}
			out = append(out, name)
		}
		return out, rows.Err()
	default:
		return nil, nil
	}
}

func (c *sqlConnector) AnalyzeDatabase(ctx context.Context) (*DatabaseStats, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	stats := &DatabaseStats{TableCount: len(tables), TableNames: tables}

	type tableSize struct {
		name string
		rows int64
	}
	var sizes []tableSize
	for _, t := range tables {
		var count int64
		row := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(t)))
		if err := row.Scan(&count); err == nil {
			sizes = append(sizes, tableSize{name: t, rows: count})
			stats.TotalRows += count
		}
	}

	// largest_tables: top 5 by row count, descending.
	for i := 0; i < len(sizes); i++ {
		for j := i + 1; j < len(sizes); j++ {
			if sizes[j].rows > sizes[i].rows {
				sizes[i], sizes[j] = sizes[j], sizes[i]
			}
		}
	}
	limit := 5
	if len(sizes) < limit {
		limit = len(sizes)
	}
	for i := 0; i < limit; i++ {
		stats.LargestTables = append(stats.LargestTables, sizes[i].name)
	}
	if limit > 0 {
		stats.KeyTables = append(stats.KeyTables, sizes[0].name)
	}
	return stats, nil
}

func (c *sqlConnector) Close() error { return nil }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// stringifyCell runs the type-probe coercion chain from §4.1: string, i64,
// f64, bool, date — the first successful form wins, and NULL stringifies to
// the literal "NULL".
func stringifyCell(v interface{}) string {
	if v == nil {
		return "NULL"
	}
	switch val := v.(type) {
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
