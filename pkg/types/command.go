package types

import (
	"encoding/json"
	"fmt"
)

// Command type tags accepted from clients.
const (
	CmdSessionStart       = "session.start"
	CmdSessionContinue    = "session.continue"
	CmdSessionStop        = "session.stop"
	CmdSessionDelete      = "session.delete"
	CmdSessionRename      = "session.rename"
	CmdSessionList        = "session.list"
	CmdSessionHistory     = "session.history"
	CmdPermissionResponse = "permission.response"
	CmdFileOpen           = "file.open"
)

// Command is an inbound client command. The set is closed: only the types in
// this package implement it.
type Command interface {
	CommandType() string
	isCommand()
}

type StartSession struct {
	Title        string `json:"title"`
	Prompt       string `json:"prompt"`
	Cwd          string `json:"cwd,omitempty"`
	AllowedTools string `json:"allowedTools,omitempty"`
}

type ContinueSession struct {
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

type StopSession struct {
	SessionID string `json:"sessionId"`
}

type DeleteSession struct {
	SessionID string `json:"sessionId"`
}

type RenameSession struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

type ListSessions struct{}

type SessionHistory struct {
	SessionID string `json:"sessionId"`
}

type PermissionResponse struct {
	SessionID string           `json:"sessionId"`
	ToolUseID string           `json:"toolUseId"`
	Result    PermissionResult `json:"result"`
}

type OpenFile struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

func (StartSession) CommandType() string       { return CmdSessionStart }
func (ContinueSession) CommandType() string    { return CmdSessionContinue }
func (StopSession) CommandType() string        { return CmdSessionStop }
func (DeleteSession) CommandType() string      { return CmdSessionDelete }
func (RenameSession) CommandType() string      { return CmdSessionRename }
func (ListSessions) CommandType() string       { return CmdSessionList }
func (SessionHistory) CommandType() string     { return CmdSessionHistory }
func (PermissionResponse) CommandType() string { return CmdPermissionResponse }
func (OpenFile) CommandType() string           { return CmdFileOpen }

func (StartSession) isCommand()       {}
func (ContinueSession) isCommand()    {}
func (StopSession) isCommand()        {}
func (DeleteSession) isCommand()      {}
func (RenameSession) isCommand()      {}
func (ListSessions) isCommand()       {}
func (SessionHistory) isCommand()     {}
func (PermissionResponse) isCommand() {}
func (OpenFile) isCommand()           {}

// commandEnvelope is the {type,payload} framing used on every transport.
type commandEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeCommand parses a framed client command.
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	var cmd Command
	switch env.Type {
	case CmdSessionStart:
		cmd = &StartSession{}
	case CmdSessionContinue:
		cmd = &ContinueSession{}
	case CmdSessionStop:
		cmd = &StopSession{}
	case CmdSessionDelete:
		cmd = &DeleteSession{}
	case CmdSessionRename:
		cmd = &RenameSession{}
	case CmdSessionList:
		return ListSessions{}, nil
	case CmdSessionHistory:
		cmd = &SessionHistory{}
	case CmdPermissionResponse:
		cmd = &PermissionResponse{}
	case CmdFileOpen:
		cmd = &OpenFile{}
	default:
		return nil, fmt.Errorf("decode command: unknown type %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, cmd); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return deref(cmd), nil
}

// EncodeCommand frames a command for the wire.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandEnvelope{Type: cmd.CommandType(), Payload: payload})
}

// deref returns commands by value so handlers can switch on value types only.
func deref(cmd Command) Command {
	switch c := cmd.(type) {
	case *StartSession:
		return *c
	case *ContinueSession:
		return *c
	case *StopSession:
		return *c
	case *DeleteSession:
		return *c
	case *RenameSession:
		return *c
	case *SessionHistory:
		return *c
	case *PermissionResponse:
		return *c
	case *OpenFile:
		return *c
	}
	return cmd
}
