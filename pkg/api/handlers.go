package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/adpilot-ai/adpilot/pkg/storage"
)

// MessageRequest is the POST /api/v1/messages body.
type MessageRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// MessageResponse is the turn result returned to the client.
type MessageResponse struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	Response  string `json:"response"`
	Outcome   string `json:"outcome"`
	Suspended bool   `json:"suspended"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.UserID == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "user_id and session_id are required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	result, err := s.orch.ProcessMessage(r.Context(), req.UserID, req.SessionID, req.Message)
	if err != nil {
		s.log.Error("turn processing failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "turn processing failed")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		SessionID: req.SessionID,
		TurnID:    result.State.TurnID,
		Response:  result.ResponseText,
		Outcome:   result.Outcome,
		Suspended: result.Suspended,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "session storage not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sessions, err := s.store.ListSessions(userID, limit)
	if err != nil {
		s.log.Error("session list failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "session storage not configured")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	session, err := s.store.GetSession(sessionID)
	if err != nil {
		s.log.Error("session lookup failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "session storage not configured")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := s.store.ListMessages(sessionID, limit)
	if err != nil {
		s.log.Error("message list failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// sessionOverrideNames are the per-session settings clients may set; both
// take a positive integer and adjust history compression for that session.
var sessionOverrideNames = map[string]bool{
	storage.OverrideMaxRounds:     true,
	storage.OverrideSummaryRounds: true,
}

func (s *Server) handleSessionSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "session storage not configured")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req) == 0 {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	for name, value := range req {
		if !sessionOverrideNames[name] {
			writeError(w, http.StatusBadRequest, "unknown setting "+strconv.Quote(name))
			return
		}
		// An empty value clears the override.
		if value != "" {
			if n, err := strconv.Atoi(value); err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, name+" must be a positive integer")
				return
			}
		}
	}

	for name, value := range req {
		if err := s.store.SetSessionOverride(sessionID, name, value); err != nil {
			s.log.Error("session setting write failed",
				"session_id", sessionID, "setting", name, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store settings")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
