package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/common/config"
	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	mcpserver "github.com/rizrmd/clay-studio-sub001/internal/mcp"
	"github.com/rizrmd/clay-studio-sub001/internal/provision"
)

const rpcLinePrefix = "RPC:"

// rpcRequest is one line the wrapper writes to stdout when the script
// calls ctx._rpc (§4.6 step 3).
type rpcRequest struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcResponse is written back to the wrapper's stdin, bare JSON with no
// prefix.
type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Message string `json:"message"`
}

// finalResult is the shape of the wrapper's last output line (§6.3).
type finalResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Stack   string          `json:"stack,omitempty"`
}

// Job describes one analysis run request.
type Job struct {
	TenantID    uuid.UUID
	ProjectID   uuid.UUID
	Script      string
	Parameters  json.RawMessage
	Datasources []string
	Metadata    map[string]interface{}
	BackendURL  string
	AuthToken   string
}

// Bridge runs one analysis job at a time per call, spawning the shared JS
// runtime with the job's generated wrapper as entry point and dispatching
// its RPC calls to C3's interaction tool profile (§4.6).
type Bridge struct {
	cfg       config.SandboxConfig
	provision *provision.Engine
	deps      mcpserver.Deps
	log       *logger.Logger
}

// New constructs a Bridge.
func New(cfg config.SandboxConfig, prov *provision.Engine, deps mcpserver.Deps, log *logger.Logger) *Bridge {
	return &Bridge{cfg: cfg, provision: prov, deps: deps, log: log}
}

// Run materializes, executes, and cleans up one sandbox job, returning the
// script's final result payload.
func (b *Bridge) Run(ctx context.Context, job Job) (json.RawMessage, error) {
	jobID := uuid.New()
	log := b.log.WithFields(zap.String("tenant_id", job.TenantID.String()), zap.String("job_id", jobID.String()))

	tempDir := b.provision.TenantDir(job.TenantID) + "/analysis/temp"
	files, err := materialize(tempDir, jobID, job.Script, job.Parameters, job.Datasources, job.Metadata, job.BackendURL, job.AuthToken, job.ProjectID.String())
	if err != nil {
		return nil, err
	}
	defer files.cleanup()

	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(b.cfg.JobTimeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(jobCtx, b.cfg.JSRuntimePath, files.wrapper)
	cmd.Dir = tempDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperr.Internal("open sandbox stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Internal("open sandbox stdout", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperr.Internal("start sandbox runtime", err)
	}

	scope := mcpserver.Scope{TenantID: job.TenantID.String(), ProjectID: job.ProjectID.String()}
	mcpSrv := mcpserver.NewSandboxServer(scope, b.deps, log)

	result, readErr := b.readLoop(jobCtx, mcpSrv, stdin, stdout, log)
	_ = stdin.Close()
	waitErr := cmd.Wait()

	if readErr != nil {
		return nil, readErr
	}
	if result == nil {
		if waitErr != nil {
			return nil, apperr.UpstreamFailure("sandbox runtime exited without a result", waitErr)
		}
		return nil, apperr.UpstreamFailure("sandbox runtime produced no result", nil)
	}
	if !result.Success {
		return nil, apperr.UpstreamFailure(fmt.Sprintf("sandbox job failed: %s", result.Error), nil)
	}
	if int64(len(result.Result)) > b.cfg.MaxResultBytes {
		return nil, apperr.UpstreamFailure("sandbox job result exceeds maximum size", nil)
	}
	return result.Result, nil
}

// RunScript adapts Run to the mcp.SandboxRunner interface the run_analysis
// tool handler calls through, so C3's operation profile never imports this
// package directly.
func (b *Bridge) RunScript(ctx context.Context, tenantID, projectID uuid.UUID, script string, parameters json.RawMessage, datasources []string, metadata map[string]interface{}) (json.RawMessage, error) {
	return b.Run(ctx, Job{
		TenantID:    tenantID,
		ProjectID:   projectID,
		Script:      script,
		Parameters:  parameters,
		Datasources: datasources,
		Metadata:    metadata,
	})
}

// readLoop implements §4.6 step 4: every "RPC:"-prefixed stdout line is
// dispatched to the interaction tool profile and answered on stdin; every
// other line is checked for the final {success, ...} envelope.
func (b *Bridge) readLoop(ctx context.Context, mcpSrv *mcpserver.Server, stdin io.WriteCloser, stdout io.Reader, log *logger.Logger) (*finalResult, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var final *finalResult
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, rpcLinePrefix) {
			b.handleRPCLine(ctx, mcpSrv, stdin, line[len(rpcLinePrefix):], log)
			continue
		}

		var fr finalResult
		if err := json.Unmarshal([]byte(line), &fr); err != nil {
			log.Debug("sandbox: stderr-like line", zap.String("line", line))
			continue
		}
		final = &fr
	}
	if err := scanner.Err(); err != nil {
		return final, apperr.Internal("read sandbox stdout", err)
	}
	return final, nil
}

func (b *Bridge) handleRPCLine(ctx context.Context, mcpSrv *mcpserver.Server, stdin io.Writer, raw string, log *logger.Logger) {
	var req rpcRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		log.Warn("sandbox: malformed rpc line", zap.Error(err))
		return
	}

	rpcCtx, cancel := context.WithTimeout(ctx, time.Duration(b.cfg.RPCTimeoutSeconds)*time.Second)
	result, err := mcpSrv.Dispatch(rpcCtx, req.Method, req.Params)
	cancel()

	resp := rpcResponse{ID: req.ID}
	if err != nil {
		resp.Error = &rpcError{Message: err.Error()}
	} else {
		resp.Result = result
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		log.Warn("sandbox: failed to encode rpc response", zap.Error(err))
		return
	}
	if _, err := stdin.Write(append(encoded, '\n')); err != nil {
		log.Warn("sandbox: failed to write rpc response", zap.Error(err))
	}
}
