// Package provision implements the agent provisioning engine (C4): per-
// tenant directory layout, the JS runtime + CLI install sequence, and the
// PTY-driven OAuth token-capture sub-protocol.
package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/common/config"
	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
	"github.com/rizrmd/clay-studio-sub001/internal/store"
)

const (
	setupTokenPort     = 54545
	defaultSetupWindow = 20 * time.Second
)

// Engine owns the directory layout and token-capture sessions for every
// tenant. One process-wide Engine is shared across all tenants; Capture
// sessions are keyed per tenant so concurrent setups don't collide.
type Engine struct {
	cfg  config.TenancyConfig
	repo *store.Repository
	log  *logger.Logger

	mu       sync.Mutex
	captures map[uuid.UUID]*Capture
}

// New constructs an Engine.
func New(cfg config.TenancyConfig, repo *store.Repository, log *logger.Logger) *Engine {
	return &Engine{cfg: cfg, repo: repo, log: log, captures: make(map[uuid.UUID]*Capture)}
}

// TenantDir is <clients_root>/<tenant_id>.
func (e *Engine) TenantDir(tenantID uuid.UUID) string {
	return filepath.Join(e.cfg.ClientsRootDir, tenantID.String())
}

// RuntimeBinDir is the shared JS runtime's bin directory, one level above
// every tenant dir, so C5 can prepend it to a spawned agent's PATH too.
func (e *Engine) RuntimeBinDir() string {
	return filepath.Join(e.cfg.ClientsRootDir, "bun", "bin")
}

// RuntimeBinPath is the shared runtime binary itself.
func (e *Engine) RuntimeBinPath() string {
	return filepath.Join(e.RuntimeBinDir(), "bun")
}

// packageJSON is the minimal manifest written into every tenant dir (§4.4
// step 1): a single dependency declaration for the agent CLI.
type packageJSON struct {
	Name         string            `json:"name"`
	Private      bool              `json:"private"`
	Dependencies map[string]string `json:"dependencies"`
}

type claudeConfig struct {
	Theme          string `json:"theme"`
	HasSeenWelcome bool   `json:"hasSeenWelcome"`
	OutputStyle    string `json:"outputStyle"`
}

// EnsureLayout creates the tenant directory tree and its static config
// files, per §4.4's layout diagram.
func (e *Engine) EnsureLayout(tenantID uuid.UUID) error {
	dir := e.TenantDir(tenantID)
	configDir := filepath.Join(dir, ".config", "claude")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return apperr.Internal("create tenant config dir", err)
	}

	pkg := packageJSON{
		Name:         "claystudio-agent-" + tenantID.String(),
		Private:      true,
		Dependencies: map[string]string{"@anthropic-ai/claude-code": "latest"},
	}
	if err := writeJSON(filepath.Join(dir, "package.json"), pkg); err != nil {
		return err
	}

	cc := claudeConfig{Theme: "dark", HasSeenWelcome: true, OutputStyle: "concise"}
	if err := writeJSON(filepath.Join(configDir, "config.json"), cc); err != nil {
		return err
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperr.Internal("encode "+filepath.Base(path), err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return apperr.Internal("write "+filepath.Base(path), err)
	}
	return nil
}

// Setup runs the install sequence (§4.4 steps 1-4): directory layout, the
// shared JS runtime if missing, the agent CLI package install, then marks
// the tenant Pending (ready for token capture). Any failed step marks the
// tenant Error and returns immediately.
func (e *Engine) Setup(ctx context.Context, tenantID uuid.UUID) error {
	fail := func(err error) error {
		_ = e.repo.UpdateTenantStatus(ctx, tenantID, model.TenantError)
		return err
	}

	if err := e.EnsureLayout(tenantID); err != nil {
		return fail(err)
	}
	if err := e.repo.UpdateTenantStatus(ctx, tenantID, model.TenantInstalling); err != nil {
		return fail(err)
	}

	if _, err := os.Stat(e.RuntimeBinPath()); os.IsNotExist(err) {
		if err := e.installRuntime(ctx); err != nil {
			return fail(apperr.UpstreamFailure("runtime install failed", err))
		}
	}

	if err := e.installAgentCLI(ctx, tenantID); err != nil {
		return fail(apperr.UpstreamFailure("agent CLI install failed", err))
	}

	if err := e.repo.UpdateTenantStatus(ctx, tenantID, model.TenantPending); err != nil {
		return fail(err)
	}
	return nil
}

// installRuntime downloads the shared JS runtime binary into
// <clients_root>/bun/bin/ if it isn't already present there. It is a
// bare-URL fetch with no ambient shell state, matching §4.4 step 2.
func (e *Engine) installRuntime(ctx context.Context) error {
	if e.cfg.JSRuntimeURL == "" {
		return fmt.Errorf("no JS runtime URL configured")
	}
	if err := os.MkdirAll(e.RuntimeBinDir(), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.JSRuntimeURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime download returned status %d", resp.StatusCode)
	}

	out, err := os.OpenFile(e.RuntimeBinPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

// installAgentCLI runs the package install in the tenant dir using the
// shared runtime binary, with no inherited shell environment (§4.4 step 3).
func (e *Engine) installAgentCLI(ctx context.Context, tenantID uuid.UUID) error {
	cmd := exec.CommandContext(ctx, e.RuntimeBinPath(), "install")
	cmd.Dir = e.TenantDir(tenantID)
	cmd.Env = []string{"PATH=" + e.RuntimeBinDir(), "HOME=" + e.TenantDir(tenantID)}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(out))
	}
	return nil
}

// CLIPath is the installed agent CLI entrypoint inside a tenant's
// node_modules tree.
func (e *Engine) CLIPath(tenantID uuid.UUID) string {
	return filepath.Join(e.TenantDir(tenantID), "node_modules", "@anthropic-ai", "claude-code", "cli.js")
}

// StartTokenCapture spawns "<cli.js> setup-token" inside a PTY and begins
// scanning its output for prompts, the OAuth token, completion, and retry
// markers. Any capture already running for this tenant is discarded first.
func (e *Engine) StartTokenCapture(ctx context.Context, tenantID uuid.UUID) (*Capture, error) {
	killStrayPTY(tenantID)
	freePort(setupTokenPort)

	cmd := exec.Command(e.RuntimeBinPath(), e.CLIPath(tenantID), "setup-token")
	cmd.Dir = e.TenantDir(tenantID)
	cmd.Env = []string{"PATH=" + e.RuntimeBinDir(), "HOME=" + e.TenantDir(tenantID)}

	handle, err := startPTYWithSize(cmd, 120, 40)
	if err != nil {
		return nil, apperr.UpstreamFailure("failed to start setup-token PTY", err)
	}

	capture := NewCapture(handle, e.log)
	e.mu.Lock()
	e.captures[tenantID] = capture
	e.mu.Unlock()

	go capture.Run(ctx)
	return capture, nil
}

// SubmitSetupToken queues an optional user-supplied code, waits up to
// SetupTimeoutSeconds for the OAuth notifier, and falls back to scanning
// known credential-file locations. On success it writes <tenant>/.env and
// marks the tenant Active; on failure it marks the tenant Error rather than
// fabricate a placeholder token (§9 Open Question (a)).
func (e *Engine) SubmitSetupToken(ctx context.Context, tenantID uuid.UUID, code string) (string, error) {
	e.mu.Lock()
	capture, ok := e.captures[tenantID]
	e.mu.Unlock()
	if !ok {
		return "", apperr.InvalidState("no token-capture session in progress for this tenant")
	}

	if code != "" {
		capture.SubmitCode(code)
	}

	timeout := defaultSetupWindow
	if e.cfg.SetupTimeoutSeconds > 0 {
		timeout = time.Duration(e.cfg.SetupTimeoutSeconds) * time.Second
	}
	token, found := capture.Wait(ctx, timeout)

	if !found {
		token, found = e.scanCredentialFiles(tenantID)
	}
	if !found {
		_ = e.repo.UpdateTenantStatus(ctx, tenantID, model.TenantError)
		return "", apperr.UpstreamFailure("authentication token was not captured", nil)
	}

	envPath := filepath.Join(e.TenantDir(tenantID), ".env")
	content := fmt.Sprintf("%s=%s\n", oauthTokenEnvVar, token)
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		return "", apperr.Internal("write tenant .env", err)
	}

	if err := e.repo.UpdateTenantInstall(ctx, tenantID, e.TenantDir(tenantID), token); err != nil {
		return "", err
	}

	e.mu.Lock()
	delete(e.captures, tenantID)
	e.mu.Unlock()

	return token, nil
}

// scanCredentialFiles looks under $HOME/.config/claude/ and the tenant dir
// for a credentials file the CLI may have written even when no token
// appeared in its PTY output.
func (e *Engine) scanCredentialFiles(tenantID uuid.UUID) (string, bool) {
	candidates := []string{
		filepath.Join(os.Getenv("HOME"), ".config", "claude", "credentials.json"),
		filepath.Join(e.TenantDir(tenantID), ".config", "claude", "credentials.json"),
	}
	for _, path := range candidates {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var payload struct {
			OAuthToken string `json:"oauth_token"`
		}
		if err := json.Unmarshal(raw, &payload); err == nil && payload.OAuthToken != "" {
			return payload.OAuthToken, true
		}
	}
	return "", false
}

// ResetStuckInstall recovers an Installing tenant with no credential back
// to Pending so the UI can retry setup (§4.4 failure semantics).
func (e *Engine) ResetStuckInstall(ctx context.Context, tenantID uuid.UUID) error {
	t, err := e.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.Status == model.TenantInstalling && t.AgentCredential == nil {
		return e.repo.UpdateTenantStatus(ctx, tenantID, model.TenantPending)
	}
	return nil
}

// killStrayPTY kills any previous setup-token process for this tenant
// before spawning a new one.
func killStrayPTY(tenantID uuid.UUID) {
	_ = exec.Command("pkill", "-f", tenantID.String()+".*setup-token").Run()
}

// freePort kills whatever process holds port, since the CLI's local OAuth
// callback listener needs it free before a new setup-token run.
func freePort(port int) {
	_ = exec.Command("sh", "-c", fmt.Sprintf("lsof -ti:%d | xargs -r kill", port)).Run()
}
