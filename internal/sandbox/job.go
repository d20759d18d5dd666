// Package sandbox implements the analysis sandbox bridge (C6): it
// materializes a user script plus a generated wrapper under a tenant's
// analysis/temp directory, runs it under the shared JS runtime with
// stdin/stdout piped (no PTY — the sandbox needs line-delimited RPC, not
// terminal emulation), and dispatches the wrapper's RPC:-prefixed
// requests to C3's interaction tool profile.
package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
)

// jobContext is the JSON materialized as <job>_context.json in the job
// directory; the generated wrapper reads it from there by file name (it is
// not passed on the command line).
type jobContext struct {
	ProjectID   string                 `json:"projectId"`
	JobID       string                 `json:"jobId"`
	Parameters  json.RawMessage        `json:"parameters"`
	Context     jobContextPayload      `json:"context"`
	BackendURL  string                 `json:"backendUrl"`
	AuthToken   string                 `json:"authToken"`
}

type jobContextPayload struct {
	Datasources []string               `json:"datasources"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// jobFiles is the set of temp file paths materialized for one job, kept
// together so cleanup can remove exactly what was written.
type jobFiles struct {
	script  string
	context string
	wrapper string
}

// materialize writes the three temp files for one sandbox job and returns
// their paths. The caller is responsible for calling cleanup once the
// subprocess has exited.
func materialize(tempDir string, jobID uuid.UUID, script string, parameters json.RawMessage, datasources []string, metadata map[string]interface{}, backendURL, authToken, projectID string) (*jobFiles, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, apperr.Internal("create analysis temp dir", err)
	}

	job := jobID.String()
	files := &jobFiles{
		script:  filepath.Join(tempDir, job+".ts"),
		context: filepath.Join(tempDir, job+"_context.json"),
		wrapper: filepath.Join(tempDir, job+"_wrapper.ts"),
	}

	if err := os.WriteFile(files.script, []byte(script), 0o644); err != nil {
		return nil, apperr.Internal("write sandbox script", err)
	}

	ctxJSON, err := json.Marshal(jobContext{
		ProjectID:  projectID,
		JobID:      job,
		Parameters: parameters,
		Context:    jobContextPayload{Datasources: datasources, Metadata: metadata},
		BackendURL: backendURL,
		AuthToken:  authToken,
	})
	if err != nil {
		_ = os.Remove(files.script)
		return nil, apperr.Internal("encode sandbox context", err)
	}
	if err := os.WriteFile(files.context, ctxJSON, 0o600); err != nil {
		_ = os.Remove(files.script)
		return nil, apperr.Internal("write sandbox context", err)
	}

	wrapperSrc := renderWrapper(job)
	if err := os.WriteFile(files.wrapper, []byte(wrapperSrc), 0o644); err != nil {
		_ = os.Remove(files.script)
		_ = os.Remove(files.context)
		return nil, apperr.Internal("write sandbox wrapper", err)
	}

	return files, nil
}

// cleanup removes every temp file for a job regardless of how the job
// ended (§4.6 step 6).
func (f *jobFiles) cleanup() {
	for _, p := range []string{f.script, f.context, f.wrapper} {
		_ = os.Remove(p)
	}
}
