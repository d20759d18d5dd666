package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/connector"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
	"github.com/rizrmd/clay-studio-sub001/internal/pool"
)

// registerOperationTools wires the datasource CRUD / schema / query /
// context tools, every one scoped to the (tenant, project) the owning
// subprocess was spawned for (§4.3).
func registerOperationTools(s *server.MCPServer, scope Scope, deps Deps, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("datasource_list",
			mcp.WithDescription("List datasources registered for the current project."),
		),
		datasourceListHandler(scope, deps, log),
	)

	s.AddTool(
		mcp.NewTool("datasource_add",
			mcp.WithDescription("Register a new datasource. The connection is tested before it is saved; a failing connection is never persisted."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Display name for the datasource")),
			mcp.WithString("source_type", mcp.Required(), mcp.Description("One of: postgres, mysql, sqlite, oracle, csv, excel, json")),
			mcp.WithString("connection_config", mcp.Required(), mcp.Description("JSON object with the connection fields for source_type (host/port/database/username/password/ssl_mode for SQL types, file_path/delimiter/sheet for file types)")),
		),
		datasourceAddHandler(scope, deps, log),
	)

	s.AddTool(
		mcp.NewTool("datasource_remove",
			mcp.WithDescription("Remove a datasource and evict its pooled connection."),
			mcp.WithString("datasource_id", mcp.Required(), mcp.Description("Datasource id")),
		),
		datasourceRemoveHandler(scope, deps, log),
	)

	s.AddTool(
		mcp.NewTool("datasource_query",
			mcp.WithDescription("Run a read-only SELECT query against a datasource. Non-SELECT statements are rejected."),
			mcp.WithString("datasource_id", mcp.Required(), mcp.Description("Datasource id")),
			mcp.WithString("query", mcp.Required(), mcp.Description("SELECT statement")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return, capped at 1000")),
		),
		datasourceQueryHandler(scope, deps, log),
	)

	s.AddTool(
		mcp.NewTool("schema_get",
			mcp.WithDescription("Fetch a datasource's table/column schema, paginated for large schemas."),
			mcp.WithString("datasource_id", mcp.Required(), mcp.Description("Datasource id")),
			mcp.WithString("table_name", mcp.Description("Restrict to a single table")),
			mcp.WithBoolean("summary_only", mcp.Description("Return table names only, no columns")),
			mcp.WithNumber("limit", mcp.Description("Max tables to return")),
			mcp.WithNumber("offset", mcp.Description("Tables to skip")),
		),
		schemaGetHandler(scope, deps, log),
	)

	s.AddTool(
		mcp.NewTool("context_get",
			mcp.WithDescription("Read the project's markdown context document."),
		),
		contextGetHandler(scope, deps, log),
	)

	s.AddTool(
		mcp.NewTool("context_update",
			mcp.WithDescription("Replace the project's markdown context document. Clears the compiled cache so the next turn recompiles it."),
			mcp.WithString("content", mcp.Required(), mcp.Description("New markdown content")),
		),
		contextUpdateHandler(scope, deps, log),
	)

	s.AddTool(
		mcp.NewTool("run_analysis",
			mcp.WithDescription("Run a JavaScript analysis script in the project's sandbox. The script receives a `ctx` object exposing query/queryDatasource/loadData/files/datasource helpers."),
			mcp.WithString("script", mcp.Required(), mcp.Description("JavaScript source to run")),
			mcp.WithString("parameters", mcp.Description("JSON object passed to the script as ctx.parameters")),
			mcp.WithString("datasources", mcp.Description("JSON array of datasource names the script may query")),
		),
		runAnalysisHandler(scope, deps, log),
	)
}

func datasourceListHandler(scope Scope, deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := scopedProjectID(scope)
		if err != nil {
			return errResult(err)
		}
		list, err := deps.Repo.ListDatasources(ctx, projectID)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(list), nil
	}
}

func datasourceAddHandler(scope Scope, deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := scopedProjectID(scope)
		if err != nil {
			return errResult(err)
		}
		name, err := req.RequireString("name")
		if err != nil {
			return errResult(err)
		}
		sourceType, err := req.RequireString("source_type")
		if err != nil {
			return errResult(err)
		}
		rawConfig, err := req.RequireString("connection_config")
		if err != nil {
			return errResult(err)
		}

		var cfg connector.Config
		if err := json.Unmarshal([]byte(rawConfig), &cfg); err != nil {
			return errResult(apperr.BadRequest(fmt.Sprintf("connection_config is not valid JSON: %v", err)))
		}

		st := model.SourceType(sourceType)
		if st.IsSQL() {
			// SQL variants need a live handle to test; there is no
			// datasource id yet to route through the pool registry, so
			// open one directly for the pre-insert probe and discard it.
			db, openErr := pool.DefaultOpener(st, cfg)
			if openErr != nil {
				return errResult(apperr.UpstreamFailure("connection test failed", openErr))
			}
			defer db.Close()
			if pingErr := db.PingContext(ctx); pingErr != nil {
				return errResult(apperr.UpstreamFailure("connection test failed", pingErr))
			}
		} else {
			conn, err := connector.New(st, cfg, nil)
			if err != nil {
				return errResult(err)
			}
			if err := conn.TestConnection(ctx); err != nil {
				_ = conn.Close()
				return errResult(apperr.UpstreamFailure("connection test failed", err))
			}
			_ = conn.Close()
		}

		ds, err := deps.Repo.CreateDatasource(ctx, projectID, name, st, json.RawMessage(rawConfig))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(ds), nil
	}
}

func datasourceRemoveHandler(scope Scope, deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := scopedProjectID(scope)
		if err != nil {
			return errResult(err)
		}
		idStr, err := req.RequireString("datasource_id")
		if err != nil {
			return errResult(err)
		}
		dsUUID, err := parseUUIDArg(idStr)
		if err != nil {
			return errResult(err)
		}

		// Evict any pooled connection before the row disappears so a
		// concurrent datasource_query can't resurrect a stale cache entry
		// keyed off it.
		if ds, getErr := deps.Repo.GetDatasource(ctx, projectID, dsUUID); getErr == nil {
			var cfg connector.Config
			if len(ds.ConnectionConfig) > 0 {
				_ = json.Unmarshal(ds.ConnectionConfig, &cfg)
			}
			deps.Pool.Remove(ds.ID, pool.Identity{
				Host: cfg.Host, Port: cfg.Port, Database: cfg.Database,
				Username: cfg.Username, FilePath: cfg.FilePath,
			})
		}

		if err := deps.Repo.DeleteDatasource(ctx, projectID, dsUUID); err != nil {
			return errResult(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("datasource %s removed", idStr)), nil
	}
}

func datasourceQueryHandler(scope Scope, deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		idStr, err := req.RequireString("datasource_id")
		if err != nil {
			return errResult(err)
		}
		query, err := req.RequireString("query")
		if err != nil {
			return errResult(err)
		}
		if !connector.IsSelectOnly(query) {
			return errResult(apperr.BadRequest("only SELECT statements are permitted"))
		}
		limit := getInt(req, "limit", 1000)
		if limit <= 0 || limit > 1000 {
			limit = 1000
		}

		conn, _, err := resolveConnector(ctx, deps, scope, idStr)
		if err != nil {
			return errResult(err)
		}
		defer conn.Close()

		result, err := conn.ExecuteQuery(ctx, query, limit)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(result), nil
	}
}

func schemaGetHandler(scope Scope, deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		idStr, err := req.RequireString("datasource_id")
		if err != nil {
			return errResult(err)
		}
		conn, _, err := resolveConnector(ctx, deps, scope, idStr)
		if err != nil {
			return errResult(err)
		}
		defer conn.Close()

		tableName := req.GetString("table_name", "")
		summaryOnly := getBool(req, "summary_only", false)
		limit := getInt(req, "limit", 0)
		offset := getInt(req, "offset", 0)

		if tableName != "" {
			schemas, err := conn.GetTablesSchema(ctx, []string{tableName})
			if err != nil {
				return errResult(err)
			}
			return jsonResult(schemas), nil
		}

		names, err := conn.ListTables(ctx)
		if err != nil {
			return errResult(err)
		}
		names = paginateStrings(names, limit, offset)

		if summaryOnly {
			return jsonResult(names), nil
		}

		schemas, err := conn.GetTablesSchema(ctx, names)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(schemas), nil
	}
}

func contextGetHandler(scope Scope, deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := scopedProjectID(scope)
		if err != nil {
			return errResult(err)
		}
		tenantID, err := parseUUIDArg(scope.TenantID)
		if err != nil {
			return errResult(err)
		}
		project, err := deps.Repo.GetProject(ctx, tenantID, projectID)
		if err != nil {
			return errResult(err)
		}
		return mcp.NewToolResultText(project.ContextRaw), nil
	}
}

func contextUpdateHandler(scope Scope, deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := scopedProjectID(scope)
		if err != nil {
			return errResult(err)
		}
		tenantID, err := parseUUIDArg(scope.TenantID)
		if err != nil {
			return errResult(err)
		}
		content, err := req.RequireString("content")
		if err != nil {
			return errResult(err)
		}
		if err := deps.Repo.UpdateProjectContext(ctx, tenantID, projectID, content); err != nil {
			return errResult(err)
		}
		return mcp.NewToolResultText("context updated"), nil
	}
}

func runAnalysisHandler(scope Scope, deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Sandbox == nil {
			return errResult(apperr.UpstreamFailure("sandbox bridge unavailable", nil))
		}
		projectID, err := scopedProjectID(scope)
		if err != nil {
			return errResult(err)
		}
		tenantID, err := parseUUIDArg(scope.TenantID)
		if err != nil {
			return errResult(err)
		}
		script, err := req.RequireString("script")
		if err != nil {
			return errResult(err)
		}

		var parameters json.RawMessage
		if raw := req.GetString("parameters", ""); raw != "" {
			parameters = json.RawMessage(raw)
		}
		var datasources []string
		if raw := req.GetString("datasources", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &datasources); err != nil {
				return errResult(apperr.BadRequest("datasources is not a valid JSON array"))
			}
		}

		result, err := deps.Sandbox.RunScript(ctx, tenantID, projectID, script, parameters, datasources, nil)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(json.RawMessage(result)), nil
	}
}

func getInt(req mcp.CallToolRequest, key string, def int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return def
	}
	return int(v)
}

func getBool(req mcp.CallToolRequest, key string, def bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return def
	}
	return v
}

func parseUUIDArg(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, apperr.BadRequest("invalid id: " + s)
	}
	return id, nil
}

func paginateStrings(all []string, limit, offset int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []string{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
