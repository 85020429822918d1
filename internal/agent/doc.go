// Package agent provides access to the external agent process.
//
// The engine treats the agent as a black box: a turn is started with Query,
// its messages are pulled one at a time from the returned Stream, and tool
// approvals come back through the CanUseTool callback on the Request.
// Cancelling the Query context aborts the turn.
//
// # Claude CLI
//
// ClaudeCLI runs the claude executable in streaming JSON mode:
//
//	claude --verbose --output-format stream-json --input-format stream-json \
//	       --include-partial-messages --permission-prompt-tool stdio \
//	       [--resume <id>] [--allowedTools <tools>]
//
// The prompt is written to stdin as a user message. Tool approvals arrive as
// control_request lines on stdout and are answered with control_response
// lines on stdin. Stdin is closed once the result line has been read so the
// process exits on its own.
//
// Credentials are read per turn, so a configuration fixed while the server is
// running takes effect on the next turn.
package agent
