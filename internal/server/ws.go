package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencode-ai/cowork/internal/event"
	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/pkg/types"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; the listener is loopback by default
	},
}

// websocket is the duplex transport: client frames are commands, server
// frames are events. A frame that does not decode is answered with a
// runner.error on this connection only.
func (srv *Server) websocket(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	events, unsub := srv.subscribe(r.URL.Query().Get("sessionId"), "ws")
	defer unsub()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := logging.Component("ws").With().Str("remote", r.RemoteAddr).Logger()
	log.Debug().Msg("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan event.Event, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		srv.writeLoop(ctx, conn, events, replies)
		// Unblocks ReadMessage when the writer gave up first.
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket read")
			}
			break
		}
		cmd, err := types.DecodeCommand(data)
		if err != nil {
			select {
			case replies <- event.Event{Type: event.RunnerError, Data: event.RunnerErrorData{Message: err.Error()}}:
			case <-ctx.Done():
			}
			continue
		}
		// Failures are already broadcast as events by the router.
		_ = srv.engine.Handle(ctx, cmd)
	}

	cancel()
	<-done
	log.Debug().Msg("client disconnected")
}

// writeLoop is the only writer on conn.
func (srv *Server) writeLoop(ctx context.Context, conn *websocket.Conn, events, replies <-chan event.Event) {
	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	write := func(e event.Event) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(e) == nil
	}
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case e := <-events:
			if !write(e) {
				return
			}
		case e := <-replies:
			if !write(e) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
