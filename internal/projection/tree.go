package projection

import (
	"path"
	"strings"

	"github.com/opencode-ai/cowork/pkg/types"
)

// NormalizePath converts separators to '/' and cleans the result, so paths
// produced with either separator compare equal.
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean(p)
}

type treeNode struct {
	path     string
	name     string
	dir      bool
	children map[string]int
	recent   bool
	lastOp   int
	hasOp    bool
}

// Tree is an arena of nodes indexed by normalized path. Removed nodes stay in
// the arena but are unreachable from the root and absent from the index.
type Tree struct {
	root  string
	nodes []treeNode
	index map[string]int
}

// NewTree creates a tree containing only the root directory.
func NewTree(root string) *Tree {
	root = NormalizePath(root)
	name := path.Base(root)
	if root == "" || name == "/" || name == "." {
		name = root
	}
	t := &Tree{root: root, index: make(map[string]int)}
	t.nodes = append(t.nodes, treeNode{path: root, name: name, dir: true, children: map[string]int{}})
	t.index[root] = 0
	return t
}

// parts splits p into components relative to the root. An absolute path
// outside the root starts with its volume ("/" or a drive such as "C:"), so it
// hangs under the root by its real location and never shares a node with a
// relative path of the same spelling.
func (t *Tree) parts(p string) []string {
	p = NormalizePath(p)
	switch {
	case p == t.root:
		return nil
	case t.root != "" && t.root != "/" && strings.HasPrefix(p, t.root+"/"):
		p = p[len(t.root)+1:]
	case t.root == "/":
		p = strings.TrimPrefix(p, "/")
	}

	var out []string
	if strings.HasPrefix(p, "/") {
		out = append(out, "/")
	}
	for _, part := range strings.Split(p, "/") {
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}

// isVolume reports whether name is the leading component of an absolute path.
func isVolume(name string) bool {
	if name == "/" {
		return true
	}
	return len(name) == 2 && name[1] == ':' &&
		(name[0] >= 'a' && name[0] <= 'z' || name[0] >= 'A' && name[0] <= 'Z')
}

// join names the child called name of the node at base. A volume directly
// under the root keeps its own absolute name.
func (t *Tree) join(base, name string) string {
	switch {
	case base == t.root && isVolume(name):
		return name
	case base == "":
		return name
	}
	return strings.TrimSuffix(base, "/") + "/" + name
}

func (t *Tree) childPath(parent int, name string) string {
	return t.join(t.nodes[parent].path, name)
}

// Lookup returns the node id for p.
func (t *Tree) Lookup(p string) (int, bool) {
	id, ok := t.index[t.key(t.parts(p))]
	return id, ok
}

// key rebuilds the indexed path for a component list, the same way childPath
// names nodes on insertion.
func (t *Tree) key(parts []string) string {
	k := t.root
	for _, part := range parts {
		k = t.join(k, part)
	}
	return k
}

// Key returns the identity of p within the tree, so relative and absolute
// spellings of the same file compare equal.
func (t *Tree) Key(p string) string {
	return t.key(t.parts(p))
}

// Has reports whether p is present in the tree.
func (t *Tree) Has(p string) bool {
	_, ok := t.Lookup(p)
	return ok
}

// Apply applies changes in order. Applying the same list again yields the
// same tree: creates reuse existing nodes and deletes of missing paths are
// no-ops.
func (t *Tree) Apply(changes []types.FileChange) {
	for _, c := range changes {
		switch c.OperationType {
		case types.OpCreate:
			t.create(c.FilePath, c.MessageIndex)
		case types.OpModify:
			if id, ok := t.Lookup(c.FilePath); ok && id != 0 {
				t.mark(id, c.MessageIndex)
			}
		case types.OpDelete:
			t.remove(c.FilePath)
		}
	}
}

func (t *Tree) create(p string, messageIndex int) {
	parts := t.parts(p)
	if len(parts) == 0 || len(parts) == 1 && isVolume(parts[0]) {
		return
	}
	cur := 0
	for i, part := range parts {
		last := i == len(parts)-1
		next, ok := t.nodes[cur].children[part]
		if !ok {
			next = len(t.nodes)
			t.nodes = append(t.nodes, treeNode{
				path: t.childPath(cur, part),
				name: part,
				dir:  !last,
			})
			if !last {
				t.nodes[next].children = map[string]int{}
			}
			t.nodes[cur].children[part] = next
			t.index[t.nodes[next].path] = next
		} else if !last && !t.nodes[next].dir {
			t.nodes[next].dir = true
			t.nodes[next].children = map[string]int{}
		}
		cur = next
	}
	t.mark(cur, messageIndex)
}

func (t *Tree) mark(id, messageIndex int) {
	t.nodes[id].recent = true
	t.nodes[id].lastOp = messageIndex
	t.nodes[id].hasOp = true
}

func (t *Tree) remove(p string) {
	parts := t.parts(p)
	if len(parts) == 0 {
		return
	}
	cur := 0
	for _, part := range parts[:len(parts)-1] {
		next, ok := t.nodes[cur].children[part]
		if !ok {
			return
		}
		cur = next
	}
	name := parts[len(parts)-1]
	id, ok := t.nodes[cur].children[name]
	if !ok {
		return
	}
	delete(t.nodes[cur].children, name)
	t.unindex(id)
}

func (t *Tree) unindex(id int) {
	delete(t.index, t.nodes[id].path)
	for _, child := range t.nodes[id].children {
		t.unindex(child)
	}
}

// Len returns the number of reachable nodes, root included.
func (t *Tree) Len() int {
	return len(t.index)
}

// Snapshot serializes the reachable tree.
func (t *Tree) Snapshot() *types.FileTreeNode {
	return t.snapshot(0)
}

func (t *Tree) snapshot(id int) *types.FileTreeNode {
	n := t.nodes[id]
	out := &types.FileTreeNode{
		Path:               n.path,
		Name:               n.name,
		IsDirectory:        n.dir,
		IsExpanded:         n.dir,
		HasRecentOperation: n.recent,
	}
	if n.hasOp {
		idx := n.lastOp
		out.LastOperationIndex = &idx
	}
	if n.dir {
		out.Children = make(map[string]*types.FileTreeNode, len(n.children))
		for name, child := range n.children {
			out.Children[name] = t.snapshot(child)
		}
	}
	return out
}
