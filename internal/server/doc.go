// Package server exposes the cowork engine over HTTP.
//
// Clients send commands and receive server events. Both use the same
// envelope, {"type": ..., "payload": ...}, on every transport:
//
//   - POST /command: one command per request, acknowledged with 202
//   - GET /event: server events as Server-Sent Events
//   - GET /ws: a WebSocket carrying commands in and events out
//
// The optional sessionId query parameter on /event and /ws limits the stream
// to one session plus global events such as session.list.
//
// Read-only endpoints serve state without going through the event stream:
//
//   - /session/*: sessions, history, tool status, panels, pending permissions
//   - /cwd/recent and /workspace/tree: working directory pickers
//   - /commands/*: slash commands from ~/.claude/commands
//   - /config/check and /title: credential check and title generation
package server
