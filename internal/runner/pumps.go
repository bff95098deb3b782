package runner

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// readPump continuously decodes inbound JSON WebSocket frames and forwards
// them to the dispatch loop via r.inbox, generalizing the teacher's
// protobuf-framed readPump (internal/v1/session/client.go) to the JSON
// opentalk-signaling-json-v1.0 subprotocol (spec.md §6). It never calls a
// module directly — that would violate the single-threaded-per-participant
// guarantee the dispatch loop provides.
func (r *Runner) readPump() {
	defer close(r.inbox)
	defer r.RequestShutdown()

	for {
		messageType, data, err := r.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("runner: failed to unmarshal wire message", "participant", r.participant.String(), "error", err)
			continue
		}

		select {
		case r.inbox <- msg:
		default:
			slog.Warn("runner: inbox full, dropping inbound message", "participant", r.participant.String())
		}
	}
}

// writePump drains r.send to the WebSocket connection. Closing r.send
// (done by the dispatch loop on shutdown) ends the pump and sends a
// normal WebSocket close frame, mirroring the teacher's writePump.
func (r *Runner) writePump() {
	defer r.conn.Close()

	for message := range r.send {
		_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := r.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			slog.Error("runner: error writing message", "participant", r.participant.String(), "error", err)
			return
		}
	}
	_ = r.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
