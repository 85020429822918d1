package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types produced by the agent process, plus the locally synthesized
// user prompt entry.
const (
	MessageSystem      = "system"
	MessageAssistant   = "assistant"
	MessageUser        = "user"
	MessageResult      = "result"
	MessageStreamEvent = "stream_event"
	MessageUserPrompt  = "user_prompt"
)

// StreamMessage is one unit emitted by the agent process. The raw JSON is kept
// verbatim so clients see exactly what the agent produced; only the fields the
// engine needs for routing and projection are decoded.
type StreamMessage struct {
	Type      string
	Subtype   string
	SessionID string
	Raw       json.RawMessage
	// Timestamp is stamped on ingest (unix millis) and used for recency ordering.
	Timestamp int64

	content []ContentBlock
	prompt  string
	isError bool
	result  string
}

// envelope mirrors the stream-json fields the engine inspects.
type envelope struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Result    string `json:"result,omitempty"`
	Message   *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message,omitempty"`
}

// ParseStreamMessage decodes a single stream-json line.
func ParseStreamMessage(raw []byte) (StreamMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return StreamMessage{}, fmt.Errorf("decode stream message: %w", err)
	}
	if env.Type == "" {
		return StreamMessage{}, fmt.Errorf("decode stream message: missing type")
	}

	msg := StreamMessage{
		Type:      env.Type,
		Subtype:   env.Subtype,
		SessionID: env.SessionID,
		Raw:       append(json.RawMessage(nil), raw...),
		prompt:    env.Prompt,
		isError:   env.IsError,
		result:    env.Result,
	}
	if env.Message != nil && len(env.Message.Content) > 0 {
		msg.content = decodeContent(env.Message.Content)
	}
	return msg, nil
}

// NewUserPrompt builds the history entry recorded when a user submits a prompt.
func NewUserPrompt(prompt string) StreamMessage {
	raw, _ := json.Marshal(struct {
		Type   string `json:"type"`
		Prompt string `json:"prompt"`
	}{MessageUserPrompt, prompt})
	return StreamMessage{
		Type:      MessageUserPrompt,
		Raw:       raw,
		Timestamp: time.Now().UnixMilli(),
		prompt:    prompt,
	}
}

// MarshalJSON emits the message exactly as received.
func (m StreamMessage) MarshalJSON() ([]byte, error) {
	if len(m.Raw) == 0 {
		return []byte("null"), nil
	}
	return m.Raw, nil
}

// UnmarshalJSON accepts any stream-json object.
func (m *StreamMessage) UnmarshalJSON(data []byte) error {
	parsed, err := ParseStreamMessage(data)
	if err != nil {
		return err
	}
	parsed.Timestamp = m.Timestamp
	*m = parsed
	return nil
}

// IsPartial reports whether the message is a raw token fragment.
func (m StreamMessage) IsPartial() bool { return m.Type == MessageStreamEvent }

// IsResult reports whether the message terminates a turn.
func (m StreamMessage) IsResult() bool { return m.Type == MessageResult }

// IsInit reports whether the message is the agent's init handshake.
func (m StreamMessage) IsInit() bool {
	return m.Type == MessageSystem && m.Subtype == "init"
}

// Succeeded reports whether a result message describes a successful turn.
func (m StreamMessage) Succeeded() bool {
	return m.IsResult() && m.Subtype == "success" && !m.isError
}

// ResultText returns the result text of a terminal message.
func (m StreamMessage) ResultText() string { return m.result }

// Prompt returns the prompt of a user_prompt entry.
func (m StreamMessage) Prompt() string { return m.prompt }

// Content returns the decoded content blocks of assistant and user messages.
func (m StreamMessage) Content() []ContentBlock { return m.content }

// ToolUses returns the tool_use blocks of an assistant message.
func (m StreamMessage) ToolUses() []ContentBlock {
	if m.Type != MessageAssistant {
		return nil
	}
	var out []ContentBlock
	for _, b := range m.content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// Content block types.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is one element of a message's content array.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// decodeContent handles both the array form and the plain string form that
// user messages sometimes carry.
func decodeContent(raw json.RawMessage) []ContentBlock {
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return []ContentBlock{{Type: BlockText, Text: text}}
	}
	return nil
}
