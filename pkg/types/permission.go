package types

import "encoding/json"

// Permission behaviors understood by the agent process.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// PermissionResult is the outcome of a tool approval request.
type PermissionResult struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
	Interrupt    bool            `json:"interrupt,omitempty"`
}

// Allow approves a tool call, optionally rewriting its input.
func Allow(input json.RawMessage) PermissionResult {
	return PermissionResult{Behavior: BehaviorAllow, UpdatedInput: input}
}

// Deny rejects a tool call with a message for the agent.
func Deny(message string) PermissionResult {
	return PermissionResult{Behavior: BehaviorDeny, Message: message}
}

// Allowed reports whether the result approves the call.
func (r PermissionResult) Allowed() bool {
	return r.Behavior == BehaviorAllow
}

// ToolStatus tracks a single tool invocation for presentation.
type ToolStatus string

const (
	ToolPending ToolStatus = "pending"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)
