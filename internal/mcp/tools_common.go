package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// jsonResult encodes v as JSON text content. mcp-go's resource-result
// constructor is not exercised anywhere in the retrieval pack, so callers
// that need a structured payload get it as text content a client can parse
// — NewToolResultText is the one content constructor grounded across every
// tool-serving example repo.
func jsonResult(v interface{}) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}

func errResult(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func newInteractionID() string {
	return uuid.NewString()
}

// displayEnvelope is the shape every synchronous UI-driven interaction tool
// (show_table, show_chart) returns, per §4.3.
type displayEnvelope struct {
	InteractionID   string      `json:"interaction_id"`
	InteractionType string      `json:"interaction_type"`
	Data            interface{} `json:"data"`
	Features        features    `json:"features"`
}

type features struct {
	Sortable   bool `json:"sortable"`
	Filterable bool `json:"filterable"`
	Exportable bool `json:"exportable"`
}

// parameterCorrection reports an inapplicable unit/strategy the server
// silently remapped, per §4.3's file_peek/file_range auto-correction rule.
type parameterCorrection struct {
	Field    string `json:"field"`
	Original string `json:"original"`
	Applied  string `json:"applied"`
	Reason   string `json:"reason"`
}
