package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rizrmd/clay-studio-sub001/internal/common/config"
	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	mcpserver "github.com/rizrmd/clay-studio-sub001/internal/mcp"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

// nopWriteCloser adapts a bytes.Buffer to io.WriteCloser for readLoop's
// stdin parameter, since the bridge's real usage is a subprocess pipe.
type nopWriteCloser struct {
	*bytes.Buffer
}

func (nopWriteCloser) Close() error { return nil }

func TestBridge_ReadLoop_DispatchesRPCLineAndCapturesFinalResult(t *testing.T) {
	log := testLogger(t)
	scope := mcpserver.Scope{TenantID: "tenant-1", ProjectID: "project-1"}
	mcpSrv := mcpserver.New(mcpserver.Config{Scope: scope, Profile: mcpserver.ProfileInteraction, Deps: mcpserver.Deps{}}, log)

	rpcParams, _ := json.Marshal(map[string]string{
		"columns": `["id","name"]`,
		"rows":    `[["1","alice"]]`,
	})
	rpcLine := "RPC:" + string(mustMarshal(t, map[string]interface{}{
		"id":     1,
		"method": "show_table",
		"params": json.RawMessage(rpcParams),
	}))
	finalLine := `{"success":true,"result":{"ok":true}}`

	stdout := strings.NewReader(rpcLine + "\n" + finalLine + "\n")
	stdin := nopWriteCloser{&bytes.Buffer{}}

	b := &Bridge{cfg: config.SandboxConfig{RPCTimeoutSeconds: 5}, log: log}

	result, err := b.readLoop(context.Background(), mcpSrv, stdin, stdout, log)
	if err != nil {
		t.Fatalf("readLoop failed: %v", err)
	}
	if result == nil || !result.Success {
		t.Fatalf("expected a successful final result, got %+v", result)
	}

	var response struct {
		ID     int             `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(stdin.Bytes(), &response); err != nil {
		t.Fatalf("expected a valid JSON response written to stdin, got error: %v, content: %s", err, stdin.String())
	}
	if response.Error != nil {
		t.Fatalf("expected show_table to succeed, got error: %s", response.Error.Message)
	}
	if response.ID != 1 {
		t.Errorf("expected the response id to echo the request id, got %d", response.ID)
	}
}

func TestBridge_ReadLoop_NoFinalLineReturnsNilResult(t *testing.T) {
	log := testLogger(t)
	scope := mcpserver.Scope{TenantID: "tenant-1", ProjectID: "project-1"}
	mcpSrv := mcpserver.New(mcpserver.Config{Scope: scope, Profile: mcpserver.ProfileInteraction, Deps: mcpserver.Deps{}}, log)

	stdout := strings.NewReader("not json at all\n")
	stdin := nopWriteCloser{&bytes.Buffer{}}
	b := &Bridge{cfg: config.SandboxConfig{RPCTimeoutSeconds: 5}, log: log}

	result, err := b.readLoop(context.Background(), mcpSrv, stdin, stdout, log)
	if err != nil {
		t.Fatalf("readLoop failed: %v", err)
	}
	if result != nil {
		t.Errorf("expected no final result to be captured, got %+v", result)
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return b
}
