package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/auth"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
)

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var msg protocol.UserMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: http.StatusBadRequest, Message: "invalid request body"})
		return
	}

	resp, err := s.handler.Invoke(r.Context(), auth.UserID(r.Context()), msg)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvokeStream(w http.ResponseWriter, r *http.Request) {
	var msg protocol.UserMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: http.StatusBadRequest, Message: "invalid request body"})
		return
	}

	s.stream(w, r, func(emit func(protocol.PartialResponse) error) (protocol.Response, error) {
		return s.handler.InvokeStream(r.Context(), auth.UserID(r.Context()), msg, emit)
	})
}

// resumeBody is the resume request payload.
type resumeBody struct {
	Decision protocol.Decision `json:"decision"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")

	var body resumeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: http.StatusBadRequest, Message: "invalid request body", RequestID: requestID})
		return
	}

	resp, err := s.handler.Resume(r.Context(), auth.UserID(r.Context()), requestID, body.Decision)
	if err != nil {
		writeError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResumeStream(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")

	var body resumeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: http.StatusBadRequest, Message: "invalid request body", RequestID: requestID})
		return
	}

	s.stream(w, r, func(emit func(protocol.PartialResponse) error) (protocol.Response, error) {
		return s.handler.ResumeStream(r.Context(), auth.UserID(r.Context()), requestID, body.Decision, emit)
	})
}

// stream drives one streaming run: partial events while the loop
// yields, a closing done marker, then the terminal event.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, run func(emit func(protocol.PartialResponse) error) (protocol.Response, error)) {
	sse, err := newSSEWriter(w, s.cfg.Server.KeepaliveInterval)
	if err != nil {
		writeError(w, err, "")
		return
	}
	defer sse.Close()

	resp, err := run(func(p protocol.PartialResponse) error {
		return sse.Send("partial", p)
	})
	if err != nil {
		status, message := mapError(err)
		_ = sse.Send("error", errorBody{Status: status, Message: message})
		return
	}

	sessionID, taskID, requestID := terminalIdentity(resp)
	_ = sse.Send("partial", protocol.PartialResponse{
		SessionID: sessionID,
		TaskID:    taskID,
		RequestID: requestID,
		Done:      true,
	})
	_ = sse.Send("final", resp)
}

func terminalIdentity(resp protocol.Response) (sessionID, taskID, requestID string) {
	switch v := resp.(type) {
	case protocol.AgentResponse:
		return v.SessionID, v.TaskID, v.RequestID
	case protocol.HitlResponse:
		return v.SessionID, v.TaskID, v.RequestID
	case protocol.AuthChallengeResponse:
		return v.SessionID, v.TaskID, v.RequestID
	case protocol.RejectedToolResponse:
		return v.SessionID, v.TaskID, v.RequestID
	default:
		return "", "", ""
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.handler.GetTask(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.handler.CancelTask(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleVerify completes a pending OAuth flow. The response is a plain
// HTML page because the user arrives here from a browser redirect.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	flowID := r.URL.Query().Get("flow_id")
	if flowID == "" {
		flowID = r.URL.Query().Get("state")
	}
	code := r.URL.Query().Get("code")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	server, err := s.handler.Verify(r.Context(), auth.UserID(r.Context()), flowID, code)
	if err != nil {
		status, _ := mapError(err)
		w.WriteHeader(status)
		fmt.Fprint(w, "<html><body><h1>Authorization failed</h1><p>The authorization could not be completed. Please retry from your agent client.</p></body></html>")
		return
	}

	fmt.Fprintf(w, "<html><body><h1>Authorization complete</h1><p>Access to %s has been granted. You can close this window and retry your request.</p></body></html>", server)
}
