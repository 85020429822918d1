package event

import (
	"encoding/json"

	"github.com/opencode-ai/cowork/pkg/types"
)

// EventType is the wire tag of a server event.
type EventType string

const (
	StreamMessage         EventType = "stream.message"
	StreamUserPrompt      EventType = "stream.user_prompt"
	SessionStatus         EventType = "session.status"
	SessionList           EventType = "session.list"
	SessionHistory        EventType = "session.history"
	SessionDeleted        EventType = "session.deleted"
	PermissionRequest     EventType = "permission.request"
	RightPanelTodos       EventType = "rightpanel.todos"
	RightPanelFileChanges EventType = "rightpanel.filechanges"
	RightPanelFileTree    EventType = "rightpanel.filetree"
	RunnerError           EventType = "runner.error"
)

// StreamMessageData is the payload of stream.message events.
type StreamMessageData struct {
	SessionID string              `json:"sessionId"`
	Message   types.StreamMessage `json:"message"`
}

// UserPromptData is the payload of stream.user_prompt events.
type UserPromptData struct {
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

// SessionStatusData is the payload of session.status events.
type SessionStatusData struct {
	SessionID string              `json:"sessionId"`
	Status    types.SessionStatus `json:"status"`
	Title     string              `json:"title,omitempty"`
	Cwd       string              `json:"cwd,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// SessionListData is the payload of session.list events.
type SessionListData struct {
	Sessions []types.SessionInfo `json:"sessions"`
}

// SessionHistoryData is the payload of session.history events.
type SessionHistoryData struct {
	SessionID string                `json:"sessionId"`
	Status    types.SessionStatus   `json:"status"`
	Messages  []types.StreamMessage `json:"messages"`
}

// SessionDeletedData is the payload of session.deleted events.
type SessionDeletedData struct {
	SessionID string `json:"sessionId"`
}

// PermissionRequestData is the payload of permission.request events.
type PermissionRequestData struct {
	SessionID string          `json:"sessionId"`
	ToolUseID string          `json:"toolUseId"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input"`
}

// TodosData is the payload of rightpanel.todos events.
type TodosData struct {
	SessionID string           `json:"sessionId"`
	Todos     []types.TodoItem `json:"todos"`
}

// FileChangesData is the payload of rightpanel.filechanges events.
type FileChangesData struct {
	SessionID string             `json:"sessionId"`
	Changes   []types.FileChange `json:"changes"`
}

// FileTreeData is the payload of rightpanel.filetree events.
type FileTreeData struct {
	SessionID string              `json:"sessionId"`
	Tree      *types.FileTreeNode `json:"tree"`
}

// RunnerErrorData is the payload of runner.error events.
type RunnerErrorData struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// SessionID returns the session the event refers to, or "" for global events.
func (e Event) SessionID() string {
	switch d := e.Data.(type) {
	case StreamMessageData:
		return d.SessionID
	case UserPromptData:
		return d.SessionID
	case SessionStatusData:
		return d.SessionID
	case SessionHistoryData:
		return d.SessionID
	case SessionDeletedData:
		return d.SessionID
	case PermissionRequestData:
		return d.SessionID
	case TodosData:
		return d.SessionID
	case FileChangesData:
		return d.SessionID
	case FileTreeData:
		return d.SessionID
	case RunnerErrorData:
		return d.SessionID
	}
	return ""
}

// LiveSessionID returns the session id an event depends on being present in
// the store. Events for a session that no longer exists must not be
// broadcast. Deletion notices, lists and errors return "".
func (e Event) LiveSessionID() string {
	switch e.Type {
	case SessionStatus, StreamMessage, StreamUserPrompt, PermissionRequest,
		SessionHistory, RightPanelTodos, RightPanelFileChanges, RightPanelFileTree:
		return e.SessionID()
	}
	return ""
}
