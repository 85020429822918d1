package types

// TodoStatus is the state of a task in the agent's todo list.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one aggregated task.
type TodoItem struct {
	ID           string     `json:"id"`
	TaskIndex    int        `json:"taskIndex"`
	Content      string     `json:"content"`
	ActiveForm   string     `json:"activeForm,omitempty"`
	Status       TodoStatus `json:"status"`
	MessageIndex int        `json:"messageIndex"`
	Timestamp    int64      `json:"timestamp"`
}

// OperationType is the kind of file mutation.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpModify OperationType = "modify"
	OpDelete OperationType = "delete"
)

// FileChange is the latest known mutation of a path.
type FileChange struct {
	ID            string        `json:"id"`
	FilePath      string        `json:"filePath"`
	OperationType OperationType `json:"operationType"`
	ToolName      string        `json:"toolName"`
	MessageIndex  int           `json:"messageIndex"`
	Timestamp     int64         `json:"timestamp"`
	Additions     int           `json:"additions,omitempty"`
	Deletions     int           `json:"deletions,omitempty"`
}

// FileTreeNode is the serialized form of the projected file tree.
type FileTreeNode struct {
	Path               string                   `json:"path"`
	Name               string                   `json:"name"`
	IsDirectory        bool                     `json:"isDirectory"`
	Children           map[string]*FileTreeNode `json:"children,omitempty"`
	IsExpanded         bool                     `json:"isExpanded,omitempty"`
	HasRecentOperation bool                     `json:"hasRecentOperation,omitempty"`
	LastOperationIndex *int                     `json:"lastOperationIndex,omitempty"`
}
