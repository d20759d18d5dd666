package provision

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
)

const recentOutputWindow = 1024 // bytes of rolling output kept for prompt-pattern matching

var (
	promptPatterns = []string{
		"Paste code here if prompted",
		"Enter setup token",
		"Token:",
		"Paste the setup token",
		">",
	}
	completionMarkers = []string{
		"Login successful",
		"Authentication successful",
		"Setup complete",
		"✓",
	}
	retryPrompts = []string{
		"already in use",
		"Press Enter to retry",
	}
	oauthTokenPattern = regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]+`)
)

// Capture drives the token-capture sub-protocol (§4.4): it reads a PTY's
// output, watches for prompt/token/completion/retry patterns, and exposes
// the captured token through a notifier that fires exactly once.
type Capture struct {
	pty    PtyHandle
	logger *logger.Logger

	mu    sync.Mutex
	token string
	found bool

	notifyOnce sync.Once
	notifyCh   chan struct{}

	// pendingToken is a single-slot mailbox: submit_setup_token writes the
	// user-supplied code here, the reader loop drains it on its next pass.
	pendingToken chan string
}

// NewCapture wraps a PTY already running the CLI's setup-token subcommand.
func NewCapture(pty PtyHandle, log *logger.Logger) *Capture {
	return &Capture{
		pty:          pty,
		logger:       log,
		notifyCh:     make(chan struct{}),
		pendingToken: make(chan string, 1),
	}
}

// SubmitCode queues a setup code for the next write to the PTY, replacing
// any code still pending.
func (c *Capture) SubmitCode(code string) {
	select {
	case <-c.pendingToken:
	default:
	}
	c.pendingToken <- code
}

// Token returns the captured OAuth token, if any has been observed yet.
func (c *Capture) Token() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.found
}

// Wait blocks until the token notifier fires or ctx/timeout elapses.
func (c *Capture) Wait(ctx context.Context, timeout time.Duration) (string, bool) {
	select {
	case <-c.notifyCh:
		return c.Token()
	case <-time.After(timeout):
		return c.Token()
	case <-ctx.Done():
		return c.Token()
	}
}

// Run reads the PTY until EOF or ctx cancellation, matching prompt, token,
// completion, and retry patterns against a rolling output window. It is
// meant to run on its own goroutine — a blocking PTY read must never share
// a worker pool with anything else.
func (c *Capture) Run(ctx context.Context) {
	buf := make([]byte, 32*1024)
	var recent string
	var drainTimer *time.Timer
	var drainCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case code := <-c.pendingToken:
			if _, err := c.pty.Write([]byte(code + "\r")); err != nil {
				_, _ = c.pty.Write([]byte(code + "\n"))
			}
		case <-drainCh:
			return
		default:
		}

		n, err := c.pty.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			recent = appendRolling(recent, chunk, recentOutputWindow)

			if tok := oauthTokenPattern.FindString(recent); tok != "" {
				c.mu.Lock()
				if !c.found {
					c.token = tok
					c.found = true
				}
				c.mu.Unlock()
				c.notifyOnce.Do(func() { close(c.notifyCh) })
			}

			for _, m := range retryPrompts {
				if strings.Contains(recent, m) {
					_, _ = c.pty.Write([]byte("\n"))
					break
				}
			}

			for _, m := range completionMarkers {
				if strings.Contains(recent, m) && drainTimer == nil {
					drainTimer = time.NewTimer(2 * time.Second)
					drainCh = drainTimer.C
					break
				}
			}

			for _, p := range promptPatterns {
				if strings.Contains(recent, p) {
					if c.logger != nil {
						c.logger.Debug("provision: input prompt detected")
					}
					break
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// appendRolling appends chunk to window, trimming to at most max bytes of
// trailing content — the same rolling-window idiom the teacher's PTY
// read loop uses for prompt-pattern matching, retargeted from terminal
// queries to OAuth prompts.
func appendRolling(window, chunk string, max int) string {
	window += chunk
	if len(window) > max {
		window = window[len(window)-max:]
	}
	return window
}
