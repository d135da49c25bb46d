package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/adpilot-ai/adpilot/pkg/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Same-origin policy enforced upstream
	},
}

// wsRequest is one inbound chat message on the socket.
type wsRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleWebSocket streams turn progress over a websocket. Each inbound
// message starts one turn; the client receives status, result, text, and
// done events as the graph advances.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.SessionID) == "" {
			if err := conn.WriteJSON(orchestrator.StreamEvent{
				Type: orchestrator.EventError,
				Text: "user_id and session_id are required",
			}); err != nil {
				return
			}
			continue
		}

		events, wait := s.orch.ProcessMessageStream(r.Context(), req.UserID, req.SessionID, req.Message)
		writeErr := forwardStream(events, func(ev orchestrator.StreamEvent) error {
			return conn.WriteJSON(ev)
		})
		if writeErr != nil {
			s.log.Warn("websocket write failed", "session_id", req.SessionID, "error", writeErr)
		}
		if _, err := wait(); err != nil {
			s.log.Error("streamed turn failed", "session_id", req.SessionID, "error", err)
		}
		if writeErr != nil {
			return
		}
	}
}

// forwardStream writes each event until the channel closes. After a write
// failure it keeps draining the channel so the turn producing the events
// never blocks on a full buffer, and returns the first write error.
func forwardStream(events <-chan orchestrator.StreamEvent, write func(orchestrator.StreamEvent) error) error {
	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		if err := write(ev); err != nil {
			writeErr = err
		}
	}
	return writeErr
}
