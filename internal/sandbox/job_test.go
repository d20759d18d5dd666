package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestMaterialize_WritesScriptContextAndWrapper(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "analysis")
	jobID := uuid.New()

	params := json.RawMessage(`{"threshold":5}`)
	files, err := materialize(tempDir, jobID, "export default async (ctx) => 1;", params, []string{"people"}, map[string]interface{}{"source": "test"}, "http://backend.local", "token-abc", "project-1")
	if err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	defer files.cleanup()

	scriptBytes, err := os.ReadFile(files.script)
	if err != nil {
		t.Fatalf("expected script file to exist: %v", err)
	}
	if !strings.Contains(string(scriptBytes), "export default async") {
		t.Errorf("expected the script file to contain the user script, got %q", string(scriptBytes))
	}

	ctxBytes, err := os.ReadFile(files.context)
	if err != nil {
		t.Fatalf("expected context file to exist: %v", err)
	}
	var decoded jobContext
	if err := json.Unmarshal(ctxBytes, &decoded); err != nil {
		t.Fatalf("expected valid JSON context, got error: %v", err)
	}
	if decoded.ProjectID != "project-1" {
		t.Errorf("expected project id 'project-1', got %q", decoded.ProjectID)
	}
	if decoded.BackendURL != "http://backend.local" {
		t.Errorf("expected backend url to round-trip, got %q", decoded.BackendURL)
	}
	if decoded.AuthToken != "token-abc" {
		t.Errorf("expected auth token to round-trip, got %q", decoded.AuthToken)
	}
	if len(decoded.Context.Datasources) != 1 || decoded.Context.Datasources[0] != "people" {
		t.Errorf("expected datasources to round-trip, got %v", decoded.Context.Datasources)
	}

	wrapperBytes, err := os.ReadFile(files.wrapper)
	if err != nil {
		t.Fatalf("expected wrapper file to exist: %v", err)
	}
	if !strings.Contains(string(wrapperBytes), jobID.String()+"_context.json") {
		t.Errorf("expected the wrapper to reference its own context file, got %q", string(wrapperBytes))
	}
}

func TestMaterialize_CreatesTempDirIfMissing(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested", "analysis")
	files, err := materialize(tempDir, uuid.New(), "export default async (ctx) => 1;", nil, nil, nil, "", "", "project-1")
	if err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	defer files.cleanup()

	if _, err := os.Stat(tempDir); err != nil {
		t.Errorf("expected the temp dir to be created, got error: %v", err)
	}
}

func TestJobFiles_CleanupRemovesAllTempFiles(t *testing.T) {
	tempDir := t.TempDir()
	files, err := materialize(tempDir, uuid.New(), "export default async (ctx) => 1;", nil, nil, nil, "", "", "project-1")
	if err != nil {
		t.Fatalf("materialize failed: %v", err)
	}

	files.cleanup()

	for _, p := range []string{files.script, files.context, files.wrapper} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed by cleanup", p)
		}
	}
}

func TestRenderWrapper_EmbedsJobIDInGeneratedEntryPoint(t *testing.T) {
	job := "abc-123"
	src := renderWrapper(job)

	if !strings.Contains(src, `from "./abc-123.ts"`) {
		t.Error("expected the wrapper to import the job's own script file")
	}
	if !strings.Contains(src, "abc-123_context.json") {
		t.Error("expected the wrapper to read the job's own context file")
	}
	if !strings.Contains(src, `"RPC:"`) {
		t.Error("expected the wrapper to frame RPC requests with the RPC: prefix")
	}
}
