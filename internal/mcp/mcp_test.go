package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/connector"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
	"github.com/rizrmd/clay-studio-sub001/internal/pool"
	"github.com/rizrmd/clay-studio-sub001/internal/store"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

func testRepository(t *testing.T) *store.Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp.db")
	writerDB, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	readerDB, err := store.OpenSQLiteReader(path)
	if err != nil {
		t.Fatalf("OpenSQLiteReader failed: %v", err)
	}
	p := store.NewPool(sqlx.NewDb(writerDB, "sqlite3"), sqlx.NewDb(readerDB, "sqlite3"))
	t.Cleanup(func() { _ = p.Close() })

	repo, err := store.NewRepository(p)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	return repo
}

func noopOpener(sourceType model.SourceType, cfg connector.Config) (*sql.DB, error) {
	return nil, apperrUnsupported()
}

func apperrUnsupported() error {
	return &connector.ConnectorError{Kind: connector.Unsupported, Detail: "not wired in this test"}
}

type stubSandbox struct {
	result json.RawMessage
	err    error
	called bool
}

func (s *stubSandbox) RunScript(ctx context.Context, tenantID, projectID uuid.UUID, script string, parameters json.RawMessage, datasources []string, metadata map[string]interface{}) (json.RawMessage, error) {
	s.called = true
	return s.result, s.err
}

// newOperationServer builds a ProfileOperation server scoped to a freshly
// created tenant/project, with a CSV datasource's file already on disk.
func newOperationServer(t *testing.T, sandbox SandboxRunner) (*Server, Scope, string) {
	t.Helper()
	repo := testRepository(t)
	ctx := context.Background()

	tenant, err := repo.CreateTenant(ctx, "acme", model.TenantConfig{})
	if err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	project, err := repo.CreateProject(ctx, tenant.ID, "analytics")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	csvPath := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(csvPath, []byte("id,name\n1,alice\n2,bob\n"), 0o600); err != nil {
		t.Fatalf("failed to write csv fixture: %v", err)
	}

	registry := pool.New(pool.Config{}, noopOpener, testLogger(t))
	t.Cleanup(func() { _ = registry.Close() })

	scope := Scope{TenantID: tenant.ID.String(), ProjectID: project.ID.String()}
	deps := Deps{Repo: repo, Pool: registry, Sandbox: sandbox}
	srv := New(Config{Scope: scope, Profile: ProfileOperation, Deps: deps}, testLogger(t))
	return srv, scope, csvPath
}

func TestDispatch_ContextGetAndUpdateRoundTrip(t *testing.T) {
	srv, _, _ := newOperationServer(t, nil)
	ctx := context.Background()

	params, _ := json.Marshal(map[string]string{"content": "# hello"})
	if _, err := srv.Dispatch(ctx, "context_update", params); err != nil {
		t.Fatalf("context_update failed: %v", err)
	}

	result, err := srv.Dispatch(ctx, "context_get", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("context_get failed: %v", err)
	}
	if string(result) != "# hello" {
		t.Errorf("expected '# hello', got %q", string(result))
	}
}

func TestDispatch_DatasourceAddListQueryRemove(t *testing.T) {
	srv, _, csvPath := newOperationServer(t, nil)
	ctx := context.Background()

	connCfg, _ := json.Marshal(map[string]string{"file_path": csvPath})
	addParams, _ := json.Marshal(map[string]string{
		"name":              "people",
		"source_type":       "csv",
		"connection_config": string(connCfg),
	})
	addResult, err := srv.Dispatch(ctx, "datasource_add", addParams)
	if err != nil {
		t.Fatalf("datasource_add failed: %v", err)
	}
	var added model.Datasource
	if err := json.Unmarshal(addResult, &added); err != nil {
		t.Fatalf("failed to decode datasource_add result: %v", err)
	}

	listResult, err := srv.Dispatch(ctx, "datasource_list", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("datasource_list failed: %v", err)
	}
	var listed []model.Datasource
	if err := json.Unmarshal(listResult, &listed); err != nil {
		t.Fatalf("failed to decode datasource_list result: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 datasource, got %d", len(listed))
	}

	queryParams, _ := json.Marshal(map[string]string{
		"datasource_id": added.ID.String(),
		"query":         "select * from people",
	})
	queryResult, err := srv.Dispatch(ctx, "datasource_query", queryParams)
	if err != nil {
		t.Fatalf("datasource_query failed: %v", err)
	}
	var qr connector.QueryResult
	if err := json.Unmarshal(queryResult, &qr); err != nil {
		t.Fatalf("failed to decode datasource_query result: %v", err)
	}
	if qr.RowCount != 2 {
		t.Errorf("expected 2 rows, got %d", qr.RowCount)
	}

	removeParams, _ := json.Marshal(map[string]string{"datasource_id": added.ID.String()})
	if _, err := srv.Dispatch(ctx, "datasource_remove", removeParams); err != nil {
		t.Fatalf("datasource_remove failed: %v", err)
	}

	listResult, err = srv.Dispatch(ctx, "datasource_list", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("datasource_list after remove failed: %v", err)
	}
	listed = nil
	if err := json.Unmarshal(listResult, &listed); err != nil {
		t.Fatalf("failed to decode datasource_list result: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("expected no datasources after removal, got %d", len(listed))
	}
}

func TestDispatch_DatasourceQuery_RejectsNonSelect(t *testing.T) {
	srv, _, csvPath := newOperationServer(t, nil)
	ctx := context.Background()

	connCfg, _ := json.Marshal(map[string]string{"file_path": csvPath})
	addParams, _ := json.Marshal(map[string]string{
		"name":              "people",
		"source_type":       "csv",
		"connection_config": string(connCfg),
	})
	addResult, err := srv.Dispatch(ctx, "datasource_add", addParams)
	if err != nil {
		t.Fatalf("datasource_add failed: %v", err)
	}
	var added model.Datasource
	if err := json.Unmarshal(addResult, &added); err != nil {
		t.Fatalf("failed to decode datasource_add result: %v", err)
	}

	badParams, _ := json.Marshal(map[string]string{
		"datasource_id": added.ID.String(),
		"query":         "delete from people",
	})
	if _, err := srv.Dispatch(ctx, "datasource_query", badParams); err == nil {
		t.Error("expected a non-SELECT query to be rejected")
	}
}

func TestDispatch_RunAnalysis_NoSandboxConfigured(t *testing.T) {
	srv, _, _ := newOperationServer(t, nil)

	params, _ := json.Marshal(map[string]string{"script": "return 1"})
	if _, err := srv.Dispatch(context.Background(), "run_analysis", params); err == nil {
		t.Error("expected run_analysis to fail when no sandbox is wired")
	}
}

func TestDispatch_RunAnalysis_DelegatesToSandbox(t *testing.T) {
	sandbox := &stubSandbox{result: json.RawMessage(`{"ok":true}`)}
	srv, _, _ := newOperationServer(t, sandbox)

	params, _ := json.Marshal(map[string]interface{}{
		"script":      "return ctx.query('select 1')",
		"datasources": `["people"]`,
	})
	result, err := srv.Dispatch(context.Background(), "run_analysis", params)
	if err != nil {
		t.Fatalf("run_analysis failed: %v", err)
	}
	if !sandbox.called {
		t.Error("expected run_analysis to delegate to the sandbox runner")
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("expected the sandbox's result to be returned verbatim, got %s", string(result))
	}
}

func TestDispatch_UnknownTool(t *testing.T) {
	srv, _, _ := newOperationServer(t, nil)
	if _, err := srv.Dispatch(context.Background(), "does_not_exist", json.RawMessage(`{}`)); err == nil {
		t.Error("expected dispatching an unregistered tool to fail")
	}
}
