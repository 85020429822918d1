package projection

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/opencode-ai/cowork/pkg/types"
)

// TodoToolName is the agent tool whose input carries the task list.
const TodoToolName = "TodoWrite"

type todoInput struct {
	Todos []struct {
		Content    string `json:"content"`
		Status     string `json:"status"`
		ActiveForm string `json:"activeForm"`
	} `json:"todos"`
}

// ExtractTodos returns the tasks written by TodoWrite calls in one message.
func ExtractTodos(msg types.StreamMessage, messageIndex int) []types.TodoItem {
	var out []types.TodoItem
	for _, block := range msg.ToolUses() {
		if block.Name != TodoToolName {
			continue
		}
		var in todoInput
		if err := json.Unmarshal(block.Input, &in); err != nil {
			continue
		}
		for i, todo := range in.Todos {
			if strings.TrimSpace(todo.Content) == "" {
				continue
			}
			status := types.TodoStatus(todo.Status)
			if status == "" {
				status = types.TodoPending
			}
			out = append(out, types.TodoItem{
				ID:           block.ID,
				TaskIndex:    i,
				Content:      todo.Content,
				ActiveForm:   todo.ActiveForm,
				Status:       status,
				MessageIndex: messageIndex,
				Timestamp:    msg.Timestamp,
			})
		}
	}
	return out
}

// AggregateTodos merges every TodoWrite call in the history. Tasks are keyed by
// trimmed content: a later occurrence replaces status and content but keeps
// the first occurrence's messageIndex and taskIndex, so the list does not
// reorder as statuses change.
func AggregateTodos(messages []types.StreamMessage) []types.TodoItem {
	byKey := make(map[string]types.TodoItem)
	for idx, msg := range messages {
		for _, todo := range ExtractTodos(msg, idx) {
			key := strings.TrimSpace(todo.Content)
			if existing, ok := byKey[key]; ok {
				todo.MessageIndex = existing.MessageIndex
				todo.TaskIndex = existing.TaskIndex
			}
			byKey[key] = todo
		}
	}

	out := make([]types.TodoItem, 0, len(byKey))
	for _, todo := range byKey {
		out = append(out, todo)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageIndex != out[j].MessageIndex {
			return out[i].MessageIndex < out[j].MessageIndex
		}
		if out[i].TaskIndex != out[j].TaskIndex {
			return out[i].TaskIndex < out[j].TaskIndex
		}
		return out[i].Content < out[j].Content
	})
	return out
}
