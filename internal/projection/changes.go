package projection

import (
	"encoding/json"
	"sort"

	"github.com/opencode-ai/cowork/pkg/types"
)

// File-mutating agent tools.
const (
	ToolWrite     = "Write"
	ToolEdit      = "Edit"
	ToolMultiEdit = "MultiEdit"
	ToolBash      = "Bash"
)

type fileInput struct {
	FilePath  string `json:"file_path"`
	Content   string `json:"content"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
	Edits     []struct {
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
	} `json:"edits"`
	Command string `json:"command"`
}

// ExtractFileChanges returns the file operations performed by one message.
// exists decides whether a Write creates or modifies its path.
func ExtractFileChanges(msg types.StreamMessage, messageIndex int, exists func(path string) bool) []types.FileChange {
	var out []types.FileChange
	for _, block := range msg.ToolUses() {
		var in fileInput
		if err := json.Unmarshal(block.Input, &in); err != nil {
			continue
		}

		change := types.FileChange{
			ToolName:     block.Name,
			MessageIndex: messageIndex,
			Timestamp:    msg.Timestamp,
		}

		switch block.Name {
		case ToolWrite:
			if in.FilePath == "" {
				continue
			}
			change.FilePath = in.FilePath
			change.OperationType = types.OpCreate
			if exists != nil && exists(in.FilePath) {
				change.OperationType = types.OpModify
			}
			change.Additions = countLines(in.Content)
		case ToolEdit:
			if in.FilePath == "" {
				continue
			}
			change.FilePath = in.FilePath
			change.OperationType = types.OpModify
			change.Additions, change.Deletions = lineStats(in.OldString, in.NewString)
		case ToolMultiEdit:
			if in.FilePath == "" {
				continue
			}
			change.FilePath = in.FilePath
			change.OperationType = types.OpModify
			for _, e := range in.Edits {
				a, d := lineStats(e.OldString, e.NewString)
				change.Additions += a
				change.Deletions += d
			}
		case ToolBash:
			for _, p := range removedPaths(in.Command) {
				del := change
				del.FilePath = p
				del.OperationType = types.OpDelete
				del.ID = block.ID + "-" + p
				out = append(out, del)
			}
			continue
		default:
			continue
		}

		change.ID = block.ID + "-" + change.FilePath
		out = append(out, change)
	}
	return out
}

// LatestByPath keeps the last change per path and orders the result most
// recent first. key maps a path to its identity; nil means NormalizePath.
func LatestByPath(changes []types.FileChange, key func(string) string) []types.FileChange {
	if key == nil {
		key = NormalizePath
	}
	byPath := make(map[string]types.FileChange, len(changes))
	for _, c := range changes {
		byPath[key(c.FilePath)] = c
	}

	out := make([]types.FileChange, 0, len(byPath))
	for _, c := range byPath {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		if out[i].MessageIndex != out[j].MessageIndex {
			return out[i].MessageIndex > out[j].MessageIndex
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out
}

// Projection is the full set of derived views for a session.
type Projection struct {
	Todos   []types.TodoItem
	Changes []types.FileChange
	Tree    *types.FileTreeNode
}

// Project derives every view from the complete history. Changes are applied to
// a fresh tree rooted at root in message order, and each Write is classified
// against the tree as it stood at that point, so the result depends only on
// the history.
func Project(messages []types.StreamMessage, root string) Projection {
	tree := NewTree(root)
	var all []types.FileChange
	for idx, msg := range messages {
		if msg.Type != types.MessageAssistant {
			continue
		}
		changes := ExtractFileChanges(msg, idx, tree.Has)
		tree.Apply(changes)
		all = append(all, changes...)
	}

	return Projection{
		Todos:   AggregateTodos(messages),
		Changes: LatestByPath(all, tree.Key),
		Tree:    tree.Snapshot(),
	}
}
