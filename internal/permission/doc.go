// Package permission bridges tool approval requests from the agent process to
// a human decision.
//
// # Overview
//
// The agent asks before running any tool. Policy decides which tools need a
// human answer; everything else is approved on the spot with its input
// unchanged. For the rest, Ask registers a pending request in the session's
// Registry, announces it through a callback and blocks until one of:
//
//   - a permission.response command resolves the request (Registry.Resolve)
//   - the turn is aborted (Registry.DenyAll, or the Ask context is cancelled)
//
// # Exactly-once resolution
//
// Resolve removes the entry under the registry lock before delivering the
// result into a one-slot channel. A second Resolve for the same id finds
// nothing and returns false, so double resolution is a harmless no-op.
//
//	reg := permission.NewRegistry()
//	res := reg.Ask(ctx, permission.Request{SessionID: sid, ToolName: "AskUserQuestion", Input: in},
//		func(req permission.Request) { publish(req) })
//
// # Cancellation
//
// When the Ask context is cancelled the request resolves itself with a deny
// outcome. Handles that abort a turn call DenyAll before returning so no
// caller is left waiting.
package permission
