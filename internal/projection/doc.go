/*
Package projection derives the right-panel views of a session from its message
history: the todo list, the file-change ledger and the file tree.

Every function here is pure. Project walks the full history from the start on
each call, so the cached result held by the router is always identical to a
fresh derivation:

	p := projection.Project(history.Messages, session.Cwd)
	// p.Todos, p.Changes, p.Tree

Todos are deduplicated by trimmed content, keeping the latest status but the
position at which the task was first seen. File changes keep only the latest
operation per normalized path and are ordered most recent first. The tree is
rebuilt from an arena of nodes indexed by path and serialized once at the end.
*/
package projection
