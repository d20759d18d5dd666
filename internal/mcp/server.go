// Package mcp implements the tool server (C3): JSON-RPC 2.0 over a
// line-delimited transport, served to whichever subprocess stdio channel
// the caller wires it to (the agent CLI's embedded MCP pipe, or the
// sandbox bridge's stdin/stdout). The server itself is transport-agnostic;
// Serve reads one JSON-RPC request per line from an io.Reader and writes
// one response per line to an io.Writer.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
)

// Profile selects which tool set a Server exposes.
type Profile string

const (
	// ProfileOperation exposes datasource CRUD, schema introspection, query
	// execution, and context read/update/compile.
	ProfileOperation Profile = "operation"
	// ProfileInteraction exposes UI-driven tools: ask_user, show_table,
	// show_chart, export_excel, and the file_* family. This is the only
	// profile the sandbox bridge (C6) wires its RPC channel to.
	ProfileInteraction Profile = "interaction"
	// ProfileFull registers both tool sets on one server.MCPServer — the
	// agent CLI's embedded MCP pipe is a single physical channel, so its
	// operation and interaction tools are dispatched by one instance
	// rather than two instances contending over the same transport.
	ProfileFull Profile = "full"
)

// Scope pins a Server to the (tenant, project) the owning subprocess was
// spawned for. Every tool handler refuses to touch a datasource or project
// outside this scope.
type Scope struct {
	TenantID  string
	ProjectID string
	// ConversationID is set when the owning subprocess is an agent turn
	// (not the sandbox bridge), so ask_user can poll the right row.
	ConversationID string
}

// Config wires a Server to its dependencies.
type Config struct {
	Scope   Scope
	Profile Profile
	Deps    Deps
}

// Server is one JSON-RPC endpoint serving either the operation or the
// interaction tool profile over a line-delimited transport.
type Server struct {
	cfg       Config
	mcpServer *server.MCPServer
	logger    *logger.Logger
}

// New builds a Server and registers the tools for cfg.Profile.
func New(cfg Config, log *logger.Logger) *Server {
	mcpServer := server.NewMCPServer("Clay Studio MCP Server", "1.0.0", server.WithToolCapabilities(true))

	s := &Server{cfg: cfg, mcpServer: mcpServer, logger: log}

	switch cfg.Profile {
	case ProfileOperation:
		registerOperationTools(mcpServer, cfg.Scope, cfg.Deps, log)
	case ProfileInteraction:
		registerInteractionTools(mcpServer, cfg.Scope, cfg.Deps, log)
	case ProfileFull:
		registerOperationTools(mcpServer, cfg.Scope, cfg.Deps, log)
		registerInteractionTools(mcpServer, cfg.Scope, cfg.Deps, log)
	}

	return s
}

// Serve runs the hand-rolled stdio loop: one JSON-RPC request per input
// line, one JSON-RPC response per output line. It blocks until in is
// exhausted or ctx is cancelled. The HTTP/SSE transports the mcp-go library
// ships (server.NewSSEServer/NewStreamableHTTPServer) assume a network
// listener; this channel is always a subprocess's stdio, so there is no
// listener to bind and no session handshake beyond JSON-RPC itself.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req mcp.JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			if s.logger != nil {
				s.logger.Warn(fmt.Sprintf("mcp: malformed request line: %v", err))
			}
			continue
		}

		resp := s.mcpServer.HandleMessage(ctx, line)
		if resp == nil {
			// notifications (no id) get no response
			continue
		}

		encoded, err := json.Marshal(resp)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn(fmt.Sprintf("mcp: failed to encode response: %v", err))
			}
			continue
		}
		if _, err := out.Write(append(encoded, '\n')); err != nil {
			return fmt.Errorf("mcp: writing response line: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mcp: reading request line: %w", err)
	}
	return nil
}

// dispatchParams/dispatchRequest/dispatchContent/dispatchResult/
// dispatchResponse mirror just enough of the JSON-RPC 2.0 "tools/call"
// wire shape to drive HandleMessage directly, without depending on the
// exact Go field layout of mcp-go's request/result types — the same
// shape HandleMessage already decodes off the stdio transport above.
type dispatchParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type dispatchRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  dispatchParams  `json:"params"`
}

type dispatchContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type dispatchResult struct {
	Content []dispatchContent `json:"content"`
	IsError bool               `json:"isError"`
}

type dispatchResponse struct {
	Result *dispatchResult `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Dispatch invokes one tool call in-process, bypassing the line-delimited
// transport entirely. The sandbox bridge (C6) uses this: its RPC envelope
// already carries a method name and params, one call at a time, with no
// subprocess stdio of its own to frame as JSON-RPC lines.
func (s *Server) Dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	line, err := json.Marshal(dispatchRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  dispatchParams{Name: method, Arguments: params},
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: encoding dispatch request: %w", err)
	}

	resp := s.mcpServer.HandleMessage(ctx, line)
	if resp == nil {
		return nil, fmt.Errorf("mcp: dispatch produced no response")
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("mcp: encoding dispatch response: %w", err)
	}

	var rpcResp dispatchResponse
	if err := json.Unmarshal(encoded, &rpcResp); err != nil {
		return nil, fmt.Errorf("mcp: decoding dispatch response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("mcp: %s", rpcResp.Error.Message)
	}
	if rpcResp.Result == nil || len(rpcResp.Result.Content) == 0 {
		return json.RawMessage("null"), nil
	}
	text := rpcResp.Result.Content[0].Text
	if rpcResp.Result.IsError {
		return nil, fmt.Errorf("mcp: %s", text)
	}
	return json.RawMessage(text), nil
}
