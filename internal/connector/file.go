package connector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// fileTable holds one parsed tabular source (a CSV file, an Excel sheet, or
// a flattened JSON array) in memory.
type fileTable struct {
	name   string
	header []string
	rows   [][]string
}

// fileConnector implements Connector over one or more in-memory fileTables.
// No embedded analytical SQL engine exists in the retrieval pack (see
// DESIGN.md), so ExecuteQuery only accepts "select * from <stem>" and
// answers it by scanning/paginating the in-memory rows directly.
type fileConnector struct {
	sourceName string
	tables     []fileTable
}

var selectStarRe = regexp.MustCompile(`(?i)^select\s+\*\s+from\s+([a-zA-Z0-9_]+)\s*(?:limit\s+(\d+))?\s*;?\s*$`)

func (c *fileConnector) TestConnection(ctx context.Context) error {
	if len(c.tables) == 0 {
		return connectionFailed("no readable data found in "+c.sourceName, nil)
	}
	return nil
}

func (c *fileConnector) ExecuteQuery(ctx context.Context, query string, limit int) (*QueryResult, error) {
	if !IsSelectOnly(query) {
		return nil, unsupported("only SELECT statements are permitted")
	}
	m := selectStarRe.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return nil, unsupported("file datasources only support \"select * from <table>\" without an embedded SQL engine")
	}
	table := c.findTable(m[1])
	if table == nil {
		return nil, &ConnectorError{Kind: NotFound, Detail: "table " + m[1] + " not found"}
	}

	if m[2] != "" {
		if n, err := strconv.Atoi(m[2]); err == nil {
			limit = n
		}
	}

	rows := table.rows
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return &QueryResult{
		Columns:  table.header,
		Rows:     rows,
		RowCount: len(rows),
	}, nil
}

func (c *fileConnector) findTable(name string) *fileTable {
	for i := range c.tables {
		if strings.EqualFold(c.tables[i].name, name) {
			return &c.tables[i]
		}
	}
	return nil
}

func (c *fileConnector) FetchSchema(ctx context.Context) ([]TableSchema, error) {
	out := make([]TableSchema, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, TableSchema{Name: t.name, Columns: inferColumnTypes(t.header, t.rows)})
	}
	return out, nil
}

func (c *fileConnector) ListTables(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t.name)
	}
	return out, nil
}

func (c *fileConnector) GetTablesSchema(ctx context.Context, names []string) ([]TableSchema, error) {
	all, err := c.FetchSchema(ctx)
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, n := range names {
		wanted[strings.ToLower(n)] = true
	}
	out := make([]TableSchema, 0, len(names))
	for _, s := range all {
		if wanted[strings.ToLower(s.Name)] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *fileConnector) SearchTables(ctx context.Context, pattern string) ([]string, error) {
	lower := strings.ToLower(pattern)
	var out []string
	for _, t := range c.tables {
		if strings.Contains(strings.ToLower(t.name), lower) {
			out = append(out, t.name)
		}
	}
	return out, nil
}

// GetRelatedTables is a no-op for file connectors: there is no foreign-key
// catalog over flat files.
func (c *fileConnector) GetRelatedTables(ctx context.Context, table string) ([]string, error) {
	return nil, nil
}

func (c *fileConnector) AnalyzeDatabase(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{TableCount: len(c.tables)}
	for _, t := range c.tables {
		stats.TableNames = append(stats.TableNames, t.name)
		stats.TotalRows += int64(len(t.rows))
		stats.LargestTables = append(stats.LargestTables, t.name)
	}
	if len(stats.TableNames) > 0 {
		stats.KeyTables = []string{stats.TableNames[0]}
	}
	return stats, nil
}

func (c *fileConnector) Close() error { return nil }

func unsupportedFileErr(sourceName string, err error) error {
	return connectionFailed(fmt.Sprintf("failed to read %s", sourceName), err)
}
