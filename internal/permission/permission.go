package permission

import (
	"encoding/json"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultInteractiveTools are the tools that always wait for a human.
var DefaultInteractiveTools = []string{"AskUserQuestion"}

// AbortMessage is the deny message used when a turn ends with requests pending.
const AbortMessage = "Session aborted"

// Request is a tool approval awaiting a decision.
type Request struct {
	ID        string          `json:"toolUseId"`
	SessionID string          `json:"sessionId"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input"`
}

// Policy selects the tools that need a human answer. Patterns use glob
// syntax, e.g. "mcp__*" or "AskUserQuestion".
type Policy struct {
	Interactive []string
}

// DefaultPolicy asks only for DefaultInteractiveTools.
func DefaultPolicy() Policy {
	return Policy{Interactive: DefaultInteractiveTools}
}

// RequiresApproval reports whether a tool call must be bridged to the user.
func (p Policy) RequiresApproval(toolName string) bool {
	for _, pattern := range p.Interactive {
		if ok, err := doublestar.Match(pattern, toolName); err == nil && ok {
			return true
		}
	}
	return false
}
