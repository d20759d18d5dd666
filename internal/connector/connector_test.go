package connector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

func TestIsSelectOnly(t *testing.T) {
	cases := map[string]bool{
		"select * from users":        true,
		"  SELECT id FROM orders":    true,
		"DELETE FROM users":         false,
		"drop table users":          false,
		"update users set x = 1":    false,
	}
	for query, want := range cases {
		if got := IsSelectOnly(query); got != want {
			t.Errorf("IsSelectOnly(%q) = %v, want %v", query, got, want)
		}
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestCSVConnector_QuerySchemaAndTables(t *testing.T) {
	path := writeTempFile(t, "people.csv", "id,name\n1,alice\n2,bob\n")

	conn, err := New(model.SourceCSV, Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	if err := conn.TestConnection(ctx); err != nil {
		t.Fatalf("TestConnection failed: %v", err)
	}

	tables, err := conn.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(tables) != 1 || tables[0] != "people" {
		t.Fatalf("expected a single table named 'people', got %v", tables)
	}

	result, err := conn.ExecuteQuery(ctx, "select * from people", 0)
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if result.RowCount != 2 {
		t.Errorf("expected 2 rows, got %d", result.RowCount)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "id" || result.Columns[1] != "name" {
		t.Errorf("unexpected columns: %v", result.Columns)
	}
}

func TestCSVConnector_ExecuteQuery_RespectsLimit(t *testing.T) {
	path := writeTempFile(t, "nums.csv", "n\n1\n2\n3\n4\n")

	conn, err := New(model.SourceCSV, Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer conn.Close()

	result, err := conn.ExecuteQuery(context.Background(), "select * from nums limit 2", 0)
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if result.RowCount != 2 {
		t.Errorf("expected the inline LIMIT clause to cap rows at 2, got %d", result.RowCount)
	}
}

func TestCSVConnector_ExecuteQuery_RejectsNonSelect(t *testing.T) {
	path := writeTempFile(t, "people.csv", "id\n1\n")

	conn, err := New(model.SourceCSV, Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.ExecuteQuery(context.Background(), "delete from people", 0); err == nil {
		t.Error("expected a non-SELECT statement to be rejected")
	}
}

func TestCSVConnector_ExecuteQuery_UnknownTable(t *testing.T) {
	path := writeTempFile(t, "people.csv", "id\n1\n")

	conn, err := New(model.SourceCSV, Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.ExecuteQuery(context.Background(), "select * from ghosts", 0); err == nil {
		t.Error("expected querying an unknown table to fail")
	}
}

func TestJSONConnector_ArrayOfObjects(t *testing.T) {
	path := writeTempFile(t, "events.json", `[{"id":1,"kind":"a"},{"id":2,"kind":"b"}]`)

	conn, err := New(model.SourceJSON, Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	schema, err := conn.FetchSchema(ctx)
	if err != nil {
		t.Fatalf("FetchSchema failed: %v", err)
	}
	if len(schema) != 1 || len(schema[0].Columns) != 2 {
		t.Fatalf("expected a single table with 2 columns, got %+v", schema)
	}

	result, err := conn.ExecuteQuery(ctx, "select * from events", 0)
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if result.RowCount != 2 {
		t.Errorf("expected 2 rows, got %d", result.RowCount)
	}
}

func TestJSONConnector_SingleObjectBecomesOneRowTable(t *testing.T) {
	path := writeTempFile(t, "single.json", `{"id":1,"name":"only"}`)

	conn, err := New(model.SourceJSON, Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer conn.Close()

	result, err := conn.ExecuteQuery(context.Background(), "select * from single", 0)
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if result.RowCount != 1 {
		t.Errorf("expected a single top-level object to yield one row, got %d", result.RowCount)
	}
}

func TestNew_UnknownSourceType(t *testing.T) {
	if _, err := New(model.SourceType("carrier-pigeon"), Config{}, nil); err == nil {
		t.Error("expected an unrecognized source type to fail")
	}
}

func TestFileConnector_SearchAndSchemaFiltering(t *testing.T) {
	path := writeTempFile(t, "customers.csv", "id,email\n1,a@example.com\n")

	conn, err := New(model.SourceCSV, Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	matches, err := conn.SearchTables(ctx, "custom")
	if err != nil {
		t.Fatalf("SearchTables failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one matching table, got %v", matches)
	}

	schemas, err := conn.GetTablesSchema(ctx, []string{"customers"})
	if err != nil {
		t.Fatalf("GetTablesSchema failed: %v", err)
	}
	if len(schemas) != 1 {
		t.Fatalf("expected schema for the requested table, got %d entries", len(schemas))
	}

	stats, err := conn.AnalyzeDatabase(ctx)
	if err != nil {
		t.Fatalf("AnalyzeDatabase failed: %v", err)
	}
	if stats.TableCount != 1 {
		t.Errorf("expected table count 1, got %d", stats.TableCount)
	}
}
