package stream

import "encoding/json"

// lineType enumerates the one-JSON-object-per-line vocabulary the agent CLI
// writes to stdout during a turn (§4.5 step 7).
type lineType string

const (
	lineToolUse         lineType = "tool_use"
	lineToolResult      lineType = "tool_result"
	lineProgress        lineType = "progress"
	lineContent         lineType = "content"
	lineAskUser         lineType = "ask_user"
	lineTitleSuggestion lineType = "title_suggestion"
	lineContextUsage    lineType = "context_usage"
)

// agentLine is the envelope every stdout line decodes into; exactly one of
// the typed fields below is populated depending on Type.
type agentLine struct {
	Type lineType `json:"type"`

	// tool_use
	Tool string `json:"tool,omitempty"`

	// tool_result
	ToolUseID       string          `json:"tool_use_id,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms,omitempty"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`

	// progress / content
	Delta   string `json:"delta,omitempty"`
	Content string `json:"content,omitempty"`

	// ask_user (informational only — the blocking half lives in the MCP
	// tool call; the engine just relays this for visibility if the CLI
	// additionally echoes it to stdout)
	Prompt  string   `json:"prompt,omitempty"`
	Options []string `json:"options,omitempty"`

	// title_suggestion
	Title string `json:"title,omitempty"`

	// context_usage
	TotalChars       int  `json:"total_chars,omitempty"`
	MaxChars         int  `json:"max_chars,omitempty"`
	MessageCount     int  `json:"message_count,omitempty"`
	NeedsCompaction  bool `json:"needs_compaction,omitempty"`
}
