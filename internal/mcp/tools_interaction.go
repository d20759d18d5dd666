package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/connector"
)

// registerInteractionTools wires the UI-driven tools: ask_user, show_table,
// show_chart, export_excel, and the file_* family over the scoped upload
// directory (§4.3).
func registerInteractionTools(s *server.MCPServer, scope Scope, deps Deps, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("ask_user",
			mcp.WithDescription("Ask the user a clarifying question. Broadcasts the prompt over the conversation's event stream and blocks until the client answers."),
			mcp.WithString("prompt", mcp.Required(), mcp.Description("Question to show the user")),
			mcp.WithArray("options", mcp.Description("Optional suggested answers")),
		),
		askUserHandler(scope, deps, log),
	)

	s.AddTool(
		mcp.NewTool("show_table",
			mcp.WithDescription("Display tabular data to the user. Synchronous: returns a display envelope, no response is awaited."),
			mcp.WithString("columns", mcp.Required(), mcp.Description("JSON array of column names")),
			mcp.WithString("rows", mcp.Required(), mcp.Description("JSON array of row arrays")),
		),
		showTableHandler(log),
	)

	s.AddTool(
		mcp.NewTool("show_chart",
			mcp.WithDescription("Display a chart to the user. Synchronous: returns a display envelope, no response is awaited."),
			mcp.WithString("chart_type", mcp.Required(), mcp.Description("bar, line, pie, scatter, etc.")),
			mcp.WithString("data", mcp.Required(), mcp.Description("JSON chart data")),
		),
		showChartHandler(log),
	)

	s.AddTool(
		mcp.NewTool("export_excel",
			mcp.WithDescription("Write tabular data to a new .xlsx workbook under the attachment directory and return its file_id."),
			mcp.WithString("columns", mcp.Required(), mcp.Description("JSON array of column names")),
			mcp.WithString("rows", mcp.Required(), mcp.Description("JSON array of row arrays")),
			mcp.WithString("filename", mcp.Description("Base filename, defaults to export.xlsx")),
		),
		exportExcelHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("file_list",
			mcp.WithDescription("List uploaded files available to this conversation."),
		),
		fileListHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("file_read",
			mcp.WithDescription("Read the full contents of an uploaded file."),
			mcp.WithString("file_id", mcp.Required()),
		),
		fileReadHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("file_metadata",
			mcp.WithDescription("Return size, modification time, and inferred kind of an uploaded file."),
			mcp.WithString("file_id", mcp.Required()),
		),
		fileMetadataHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("file_search",
			mcp.WithDescription("Search uploaded file names by substring."),
			mcp.WithString("pattern", mcp.Required()),
		),
		fileSearchHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("file_search_content",
			mcp.WithDescription("Search the text contents of an uploaded file for a substring, returning matching lines."),
			mcp.WithString("file_id", mcp.Required()),
			mcp.WithString("query", mcp.Required()),
		),
		fileSearchContentHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("file_peek",
			mcp.WithDescription("Sample a slice of a file without reading it in full."),
			mcp.WithString("file_id", mcp.Required()),
			mcp.WithString("strategy", mcp.Description("overview, head, tail, middle, distributed, smart")),
			mcp.WithNumber("sample_size", mcp.Description("Lines to sample, default 20")),
		),
		filePeekHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("file_range",
			mcp.WithDescription("Read a bounded range of a file by unit (lines, rows, pages)."),
			mcp.WithString("file_id", mcp.Required()),
			mcp.WithString("unit", mcp.Required(), mcp.Description("lines, rows, or pages")),
			mcp.WithNumber("start", mcp.Required()),
			mcp.WithNumber("end", mcp.Description("defaults to start+50")),
		),
		fileRangeHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("file_download_url",
			mcp.WithDescription("Return a reference URI the client can use to download an uploaded file."),
			mcp.WithString("file_id", mcp.Required()),
		),
		fileDownloadURLHandler(deps, log),
	)
}

// askUserHandler publishes the question envelope (the stream engine relays
// it to the WebSocket as a stream.ask_user event) and then blocks on
// awaitAskUserResponse — the tool call itself is the thing that waits, not
// the conversation's stdout-parse loop (§4.5 step 7).
func askUserHandler(scope Scope, deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return errResult(err)
		}
		var options []string
		if raw, ok := req.GetArguments()["options"].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					options = append(options, s)
				}
			}
		}

		interactionID := newInteractionID()
		if log != nil {
			log.Debug(fmt.Sprintf("mcp: ask_user %s awaiting response", interactionID))
		}

		publishStreamEvent(ctx, deps, scope, "ask_user", map[string]interface{}{
			"interaction_id": interactionID,
			"prompt":         prompt,
			"options":        options,
		})

		response, err := awaitAskUserResponse(ctx, deps, scope, interactionID)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(struct {
			InteractionID string          `json:"interaction_id"`
			Response      json.RawMessage `json:"response"`
		}{InteractionID: interactionID, Response: response}), nil
	}
}

func showTableHandler(log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		columnsRaw, err := req.RequireString("columns")
		if err != nil {
			return errResult(err)
		}
		rowsRaw, err := req.RequireString("rows")
		if err != nil {
			return errResult(err)
		}
		var payload struct {
			Columns []string        `json:"columns"`
			Rows    [][]interface{} `json:"rows"`
		}
		if err := json.Unmarshal([]byte(columnsRaw), &payload.Columns); err != nil {
			return errResult(apperr.BadRequest("columns is not a JSON array"))
		}
		if err := json.Unmarshal([]byte(rowsRaw), &payload.Rows); err != nil {
			return errResult(apperr.BadRequest("rows is not a JSON array"))
		}
		return jsonResult(displayEnvelope{
			InteractionID:   newInteractionID(),
			InteractionType: "table",
			Data:            payload,
			Features:        features{Sortable: true, Filterable: true, Exportable: true},
		}), nil
	}
}

func showChartHandler(log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		chartType, err := req.RequireString("chart_type")
		if err != nil {
			return errResult(err)
		}
		dataRaw, err := req.RequireString("data")
		if err != nil {
			return errResult(err)
		}
		var data interface{}
		if err := json.Unmarshal([]byte(dataRaw), &data); err != nil {
			return errResult(apperr.BadRequest("data is not valid JSON"))
		}
		return jsonResult(displayEnvelope{
			InteractionID:   newInteractionID(),
			InteractionType: "chart:" + chartType,
			Data:            data,
			Features:        features{Exportable: true},
		}), nil
	}
}

func exportExcelHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		columnsRaw, err := req.RequireString("columns")
		if err != nil {
			return errResult(err)
		}
		rowsRaw, err := req.RequireString("rows")
		if err != nil {
			return errResult(err)
		}
		var columns []string
		if err := json.Unmarshal([]byte(columnsRaw), &columns); err != nil {
			return errResult(apperr.BadRequest("columns is not a JSON array"))
		}
		var rawRows [][]interface{}
		if err := json.Unmarshal([]byte(rowsRaw), &rawRows); err != nil {
			return errResult(apperr.BadRequest("rows is not a JSON array"))
		}
		rows := make([][]string, len(rawRows))
		for i, r := range rawRows {
			row := make([]string, len(r))
			for j, v := range r {
				row[j] = fmt.Sprintf("%v", v)
			}
			rows[i] = row
		}

		filename := req.GetString("filename", "export.xlsx")
		filename = filepath.Base(filename)
		if !strings.HasSuffix(filename, ".xlsx") {
			filename += ".xlsx"
		}
		if err := os.MkdirAll(deps.AttachDir, 0o755); err != nil {
			return errResult(apperr.Internal("create attachment directory", err))
		}
		outPath := filepath.Join(deps.AttachDir, filename)
		if err := connector.ExportExcel(outPath, columns, rows); err != nil {
			return errResult(apperr.Internal("write workbook", err))
		}
		return jsonResult(map[string]string{"file_id": filename}), nil
	}
}

func fileListHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := os.ReadDir(deps.AttachDir)
		if err != nil {
			if os.IsNotExist(err) {
				return jsonResult([]string{}), nil
			}
			return errResult(apperr.Internal("list attachment directory", err))
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		return jsonResult(names), nil
	}
}

func fileReadHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID, err := req.RequireString("file_id")
		if err != nil {
			return errResult(err)
		}
		path, err := resolveAttachPath(deps, fileID)
		if err != nil {
			return errResult(err)
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return errResult(apperr.NotFound("file", fileID))
		}
		return mcp.NewToolResultText(string(contents)), nil
	}
}

func fileMetadataHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID, err := req.RequireString("file_id")
		if err != nil {
			return errResult(err)
		}
		path, err := resolveAttachPath(deps, fileID)
		if err != nil {
			return errResult(err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return errResult(apperr.NotFound("file", fileID))
		}
		return jsonResult(map[string]interface{}{
			"file_id":       fileID,
			"size_bytes":    info.Size(),
			"modified_at":   info.ModTime(),
			"kind":          fileKind(fileID),
		}), nil
	}
}

func fileSearchHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pattern, err := req.RequireString("pattern")
		if err != nil {
			return errResult(err)
		}
		entries, err := os.ReadDir(deps.AttachDir)
		if err != nil {
			if os.IsNotExist(err) {
				return jsonResult([]string{}), nil
			}
			return errResult(apperr.Internal("list attachment directory", err))
		}
		var matches []string
		for _, e := range entries {
			if !e.IsDir() && strings.Contains(strings.ToLower(e.Name()), strings.ToLower(pattern)) {
				matches = append(matches, e.Name())
			}
		}
		return jsonResult(matches), nil
	}
}

func fileSearchContentHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID, err := req.RequireString("file_id")
		if err != nil {
			return errResult(err)
		}
		query, err := req.RequireString("query")
		if err != nil {
			return errResult(err)
		}
		path, err := resolveAttachPath(deps, fileID)
		if err != nil {
			return errResult(err)
		}
		f, err := os.Open(path)
		if err != nil {
			return errResult(apperr.NotFound("file", fileID))
		}
		defer f.Close()

		var matches []string
		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if strings.Contains(strings.ToLower(line), strings.ToLower(query)) {
				matches = append(matches, fmt.Sprintf("%d: %s", lineNo, line))
			}
		}
		return jsonResult(matches), nil
	}
}

// peekRange maps a peek strategy to the slice of a file's lines it
// samples, given the total line count and a requested sample size.
func peekRange(total, sampleSize int, strategy string) (start, end int) {
	if sampleSize <= 0 {
		sampleSize = 20
	}
	if sampleSize > total {
		sampleSize = total
	}
	switch strategy {
	case "tail":
		return total - sampleSize, total
	case "middle":
		mid := total / 2
		half := sampleSize / 2
		start = mid - half
		if start < 0 {
			start = 0
		}
		return start, start + sampleSize
	case "head", "overview", "smart", "distributed", "":
		return 0, sampleSize
	default:
		return 0, sampleSize
	}
}

func filePeekHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID, err := req.RequireString("file_id")
		if err != nil {
			return errResult(err)
		}
		path, err := resolveAttachPath(deps, fileID)
		if err != nil {
			return errResult(err)
		}
		lines, err := readLines(path)
		if err != nil {
			return errResult(apperr.NotFound("file", fileID))
		}

		strategy := req.GetString("strategy", "overview")
		var correction *parameterCorrection
		if fileKind(fileID) == "excel" && strategy == "pages" {
			correction = &parameterCorrection{Field: "strategy", Original: "pages", Applied: "rows", Reason: "excel files are sampled by row, not page"}
			strategy = "rows"
		}

		sampleSize := getInt(req, "sample_size", 20)
		start, end := peekRange(len(lines), sampleSize, strategy)

		return jsonResult(map[string]interface{}{
			"file_id":              fileID,
			"strategy":             strategy,
			"lines":                lines[start:end],
			"total_lines":          len(lines),
			"parameter_correction": correction,
		}), nil
	}
}

func fileRangeHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID, err := req.RequireString("file_id")
		if err != nil {
			return errResult(err)
		}
		unit, err := req.RequireString("unit")
		if err != nil {
			return errResult(err)
		}
		path, err := resolveAttachPath(deps, fileID)
		if err != nil {
			return errResult(err)
		}
		lines, err := readLines(path)
		if err != nil {
			return errResult(apperr.NotFound("file", fileID))
		}

		var correction *parameterCorrection
		kind := fileKind(fileID)
		if kind == "excel" && unit == "pages" {
			correction = &parameterCorrection{Field: "unit", Original: "pages", Applied: "rows", Reason: "excel files have no page boundaries"}
			unit = "rows"
		} else if kind == "pdf" && unit == "rows" {
			correction = &parameterCorrection{Field: "unit", Original: "rows", Applied: "lines", Reason: "pdf text extraction yields lines, not rows"}
			unit = "lines"
		}

		start := getInt(req, "start", 0)
		end := getInt(req, "end", start+50)
		if start < 0 {
			start = 0
		}
		if end > len(lines) {
			end = len(lines)
		}
		if start > end {
			start = end
		}

		return jsonResult(map[string]interface{}{
			"file_id":              fileID,
			"start":                start,
			"end":                  end,
			"lines":                lines[start:end],
			"parameter_correction": correction,
		}), nil
	}
}

func fileDownloadURLHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID, err := req.RequireString("file_id")
		if err != nil {
			return errResult(err)
		}
		if _, err := resolveAttachPath(deps, fileID); err != nil {
			return errResult(err)
		}
		return mcp.NewToolResultText("attachment://" + fileID), nil
	}
}

// resolveAttachPath joins fileID under the scoped attachment directory,
// rejecting any path that escapes it.
func resolveAttachPath(deps Deps, fileID string) (string, error) {
	clean := filepath.Clean("/" + fileID)
	path := filepath.Join(deps.AttachDir, clean)
	if !strings.HasPrefix(path, filepath.Clean(deps.AttachDir)+string(os.PathSeparator)) && path != filepath.Clean(deps.AttachDir) {
		return "", apperr.BadRequest("invalid file_id")
	}
	return path, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func fileKind(fileID string) string {
	switch strings.ToLower(filepath.Ext(fileID)) {
	case ".xlsx", ".xls":
		return "excel"
	case ".pdf":
		return "pdf"
	case ".csv":
		return "csv"
	case ".json":
		return "json"
	default:
		return "text"
	}
}
