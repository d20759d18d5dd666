package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/events/bus"
	mcpserver "github.com/rizrmd/clay-studio-sub001/internal/mcp"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
	"github.com/rizrmd/clay-studio-sub001/internal/pool"
	"github.com/rizrmd/clay-studio-sub001/internal/provision"
	"github.com/rizrmd/clay-studio-sub001/internal/store"
)

const cancelGracePeriod = 5 * time.Second

// Engine is the process-wide singleton owning every active StreamState
// (§5 Shared-resource policy). One StreamState may exist per conversation
// at a time.
type Engine struct {
	mu     sync.RWMutex
	states map[uuid.UUID]*StreamState

	repo      *store.Repository
	pool      *pool.Registry
	provision *provision.Engine
	bus       bus.EventBus
	attachDir string
	sandbox   mcpserver.SandboxRunner
	logger    *logger.Logger
}

// New constructs an Engine. sandbox may be nil if C6 is not wired (the
// agent's run_analysis tool then fails with an UpstreamFailure instead of
// panicking).
func New(repo *store.Repository, poolRegistry *pool.Registry, prov *provision.Engine, eventBus bus.EventBus, attachDir string, sandbox mcpserver.SandboxRunner, log *logger.Logger) *Engine {
	return &Engine{
		states:    make(map[uuid.UUID]*StreamState),
		repo:      repo,
		pool:      poolRegistry,
		provision: prov,
		bus:       eventBus,
		attachDir: attachDir,
		sandbox:   sandbox,
		logger:    log,
	}
}

// publish fans an event out over the bus on stream.<conversation_id>.
// <event_type>, tagging it with both ids so the subscription hub (C7) can
// match a connection subscribed at either the project or conversation
// granularity without a second lookup.
func (e *Engine) publish(conversationID, projectID uuid.UUID, eventType string, data map[string]interface{}) {
	subject := fmt.Sprintf("stream.%s.%s", conversationID, eventType)
	tagged := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		tagged[k] = v
	}
	tagged["conversation_id"] = conversationID
	tagged["project_id"] = projectID
	if err := e.bus.Publish(context.Background(), subject, bus.NewEvent(eventType, "stream", tagged)); err != nil {
		e.logger.Warn("stream: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// SendMessage implements the turn protocol (§4.5 steps 1-9): persist the
// user message, reject if already streaming, create the assistant message
// the turn streams into, spawn the agent CLI, and drive its stdout-parse
// loop to completion on its own goroutine. Tenant ownership of projectID is
// checked by the caller; SendMessage does no authorization.
func (e *Engine) SendMessage(ctx context.Context, tenantID, projectID, conversationID uuid.UUID, content string, attachments []string) (*model.Message, error) {
	conv, err := e.repo.GetConversation(ctx, projectID, conversationID)
	if err != nil {
		return nil, err
	}

	var attachmentsJSON []byte
	if len(attachments) > 0 {
		attachmentsJSON, _ = json.Marshal(attachments)
	}
	userMsg, err := e.repo.CreateMessage(ctx, conv.ID, model.RoleUser, content, attachmentsJSON)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, active := e.states[conversationID]; active {
		e.mu.Unlock()
		return nil, apperr.Conflict("streaming already active for this conversation; call stop_streaming first")
	}
	assistantMsg, err := e.repo.CreateMessage(ctx, conv.ID, model.RoleAssistant, "", nil)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	turnCtx, cancel := context.WithCancel(context.Background())
	state := &StreamState{
		ConversationID: conversationID,
		ProjectID:      projectID,
		MessageID:      assistantMsg.ID,
		StartedAt:      time.Now(),
		cancel:         cancel,
	}
	e.states[conversationID] = state
	e.mu.Unlock()

	e.publish(conversationID, projectID, "start", map[string]interface{}{"message_id": state.MessageID})

	tenant, err := e.repo.GetTenant(ctx, tenantID)
	if err != nil {
		e.clearState(conversationID)
		return nil, err
	}

	go e.runTurn(turnCtx, tenant, projectID, state)

	return userMsg, nil
}

func (e *Engine) clearState(conversationID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, conversationID)
}

// runTurn spawns the agent CLI and owns state for the remainder of the
// turn. It always clears state and publishes a terminal event before
// returning, whatever the exit path.
func (e *Engine) runTurn(ctx context.Context, tenant *model.Tenant, projectID uuid.UUID, state *StreamState) {
	conversationID := state.ConversationID
	log := e.logger.WithConversationID(conversationID.String()).WithTenantID(tenant.ID.String())
	defer e.clearState(conversationID)

	token := ""
	if tenant.AgentCredential != nil {
		token = *tenant.AgentCredential
	}

	projectDir := e.provision.TenantDir(tenant.ID) + "/projects/" + projectID.String()

	cmd := exec.CommandContext(ctx, e.provision.CLIPath(tenant.ID))
	// On cancellation the process gets SIGTERM and cancelGracePeriod to exit
	// before it is killed.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = cancelGracePeriod
	cmd.Dir = projectDir
	cmd.Env = []string{
		"PATH=" + e.provision.RuntimeBinDir(),
		"HOME=" + e.provision.TenantDir(tenant.ID),
		"CLAUDE_CODE_OAUTH_TOKEN=" + token,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.finishWithError(state, log, fmt.Errorf("open agent stdout: %w", err))
		return
	}

	mcpChan, err := attachMCPChannel(cmd)
	if err != nil {
		e.finishWithError(state, log, fmt.Errorf("attach mcp channel: %w", err))
		return
	}

	if err := cmd.Start(); err != nil {
		mcpChan.close()
		e.finishWithError(state, log, fmt.Errorf("start agent: %w", err))
		return
	}
	mcpChan.closeChildSideFDs()
	state.cmd = cmd

	scope := mcpserver.Scope{TenantID: tenant.ID.String(), ProjectID: projectID.String(), ConversationID: conversationID.String()}
	deps := mcpserver.Deps{Repo: e.repo, Pool: e.pool, Bus: e.bus, AttachDir: e.attachDir, Sandbox: e.sandbox}
	agentMCP := mcpserver.NewAgentServer(scope, deps, log)

	var mcpWG sync.WaitGroup
	mcpWG.Add(1)
	go func() { defer mcpWG.Done(); _ = agentMCP.Serve(ctx, mcpChan.requests, mcpChan.responses) }()

	e.parseStdout(ctx, state, stdout, log)

	waitErr := cmd.Wait()
	mcpChan.close()
	mcpWG.Wait()

	if ctx.Err() != nil {
		// cancelled via StopStreaming; that path already published the
		// terminal event and persisted partial content.
		return
	}

	if waitErr != nil {
		e.finishWithError(state, log, waitErr)
		return
	}

	processingMs := time.Since(state.StartedAt).Milliseconds()
	if err := e.repo.FinalizeMessage(context.Background(), state.MessageID, state.content(), processingMs); err != nil {
		log.Error("stream: finalize message failed", zap.Error(err))
	}
	e.publish(conversationID, projectID, "complete", map[string]interface{}{
		"id":                 state.MessageID,
		"processing_time_ms": processingMs,
	})
}

func (e *Engine) finishWithError(state *StreamState, log *logger.Logger, err error) {
	partial := state.content()
	if partial != "" {
		if ferr := e.repo.FinalizeMessage(context.Background(), state.MessageID, partial, time.Since(state.StartedAt).Milliseconds()); ferr != nil {
			log.Error("stream: finalize partial message failed", zap.Error(ferr))
		}
	}
	log.Error("stream: turn failed", zap.Error(err))
	e.publish(state.ConversationID, state.ProjectID, "error", map[string]interface{}{
		"error": err.Error(),
	})
}

// parseStdout implements §4.5 step 7: one JSON object per line.
func (e *Engine) parseStdout(ctx context.Context, state *StreamState, stdout io.Reader, log *logger.Logger) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var parsed agentLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			log.Warn("stream: malformed stdout line", zap.Error(err))
			continue
		}

		e.handleLine(ctx, state, parsed, log)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Warn("stream: stdout scan error", zap.Error(err))
	}
}

func (e *Engine) handleLine(ctx context.Context, state *StreamState, line agentLine, log *logger.Logger) {
	switch line.Type {
	case lineToolUse:
		state.pushTool(line.Tool)
		e.publish(state.ConversationID, state.ProjectID, "tool_use", map[string]interface{}{"tool": line.Tool})

	case lineToolResult:
		state.popTool(line.Tool)
		if _, err := e.repo.CreateToolUsage(ctx, state.MessageID, line.Tool, line.ToolUseID, line.Parameters, line.Output, line.ExecutionTimeMs); err != nil {
			log.Error("stream: persist tool usage failed", zap.Error(err))
		}

	case lineProgress:
		state.appendProgress(line.Delta)
		if err := e.repo.UpdateMessageProgress(ctx, state.MessageID, state.content()); err != nil {
			log.Warn("stream: persist progress failed", zap.Error(err))
		}
		e.publish(state.ConversationID, state.ProjectID, "progress", map[string]interface{}{"content": state.content()})

	case lineContent:
		state.setContent(line.Content)

	case lineAskUser:
		e.publish(state.ConversationID, state.ProjectID, "ask_user", map[string]interface{}{"prompt": line.Prompt, "options": line.Options})

	case lineTitleSuggestion:
		conv, err := e.repo.GetConversation(ctx, state.ProjectID, state.ConversationID)
		if err == nil && !conv.IsTitleManuallySet {
			if err := e.repo.SetConversationTitle(ctx, state.ConversationID, line.Title, false); err != nil {
				log.Warn("stream: set conversation title failed", zap.Error(err))
			} else {
				e.publish(state.ConversationID, state.ProjectID, "title_updated", map[string]interface{}{"title": line.Title})
			}
		}

	case lineContextUsage:
		e.publish(state.ConversationID, state.ProjectID, "context_usage", map[string]interface{}{
			"total_chars":      line.TotalChars,
			"max_chars":        line.MaxChars,
			"message_count":    line.MessageCount,
			"needs_compaction": line.NeedsCompaction,
		})
	}
}

// StopStreaming implements cancellation (§4.5, §5): SIGTERM, then SIGKILL
// after a grace period if the process hasn't exited.
func (e *Engine) StopStreaming(conversationID uuid.UUID) error {
	e.mu.RLock()
	state, ok := e.states[conversationID]
	e.mu.RUnlock()
	if !ok {
		return apperr.InvalidState("no active stream for this conversation")
	}

	if state.cmd != nil && state.cmd.Process != nil {
		_ = state.cmd.Process.Signal(syscall.SIGTERM)
		go func() {
			timer := time.NewTimer(cancelGracePeriod)
			defer timer.Stop()
			done := make(chan struct{})
			go func() { _, _ = state.cmd.Process.Wait(); close(done) }()
			select {
			case <-done:
			case <-timer.C:
				_ = state.cmd.Process.Kill()
			}
		}()
	}
	state.cancel()

	partial := state.content()
	if partial != "" {
		_ = e.repo.FinalizeMessage(context.Background(), state.MessageID, partial, time.Since(state.StartedAt).Milliseconds())
	}
	e.clearState(conversationID)
	e.publish(conversationID, state.ProjectID, "error", map[string]interface{}{
		"error": "streaming cancelled",
	})
	return nil
}

// Resubscribe synthesizes the catch-up sequence for a WebSocket that
// subscribes to a conversation with an in-flight stream (§4.5): start, one
// tool_use per active tool, then a single progress with the partial
// content so far. It returns nil if no stream is active.
func (e *Engine) Resubscribe(conversationID uuid.UUID) []CatchUpEvent {
	e.mu.RLock()
	state, ok := e.states[conversationID]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	snap := state.snapshot()
	events := make([]CatchUpEvent, 0, len(snap.ActiveTools)+2)
	events = append(events, CatchUpEvent{Type: "start", Data: map[string]interface{}{"message_id": snap.MessageID, "conversation_id": snap.ConversationID}})
	for _, tool := range snap.ActiveTools {
		events = append(events, CatchUpEvent{Type: "tool_use", Data: map[string]interface{}{"tool": tool}})
	}
	events = append(events, CatchUpEvent{Type: "progress", Data: map[string]interface{}{"content": snap.PartialContent}})
	return events
}

// CatchUpEvent is the shape Resubscribe hands the caller (C7) to
// render as WebSocket notifications, one per synthesized catch-up event.
type CatchUpEvent struct {
	Type string
	Data map[string]interface{}
}
