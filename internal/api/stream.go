package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kindpath/sfbtcoach/internal/models"
)

// sseEvent writes one server-sent event. Returns false when the payload
// cannot be marshaled or the connection is gone.
func sseEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Server.sseEvent: failed to marshal event payload", "event", event, "error", err)
		return false
	}
	if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func setupSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Streaming not supported"))
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return flusher, true
}

// chatStreamHandler handles POST /chat/stream. It runs the turn while
// relaying progress checkpoints as SSE events, then emits the final result
// (or an error event) and closes the stream.
func (s *Server) chatStreamHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("chatStreamHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("chatStreamHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	flusher, ok := setupSSE(w)
	if !ok {
		return
	}

	progressCh := make(chan string, 16)
	turnReq := req.turnRequest()
	turnReq.Progress = func(message string) {
		select {
		case progressCh <- message:
		default:
		}
	}

	type turnOutcome struct {
		result models.TurnResult
		err    error
	}
	done := make(chan turnOutcome, 1)
	go func() {
		result, err := s.flow.GenerateReply(r.Context(), turnReq)
		done <- turnOutcome{result: result, err: err}
	}()

	for {
		select {
		case message := <-progressCh:
			sseEvent(w, flusher, "progress", map[string]string{"message": message})
		case outcome := <-done:
			// Drain progress emitted before completion.
			for {
				select {
				case message := <-progressCh:
					sseEvent(w, flusher, "progress", map[string]string{"message": message})
					continue
				default:
				}
				break
			}
			if outcome.err != nil {
				slog.Warn("chatStreamHandler turn failed", "error", outcome.err)
				sseEvent(w, flusher, "error", models.Error(outcome.err.Error()))
				return
			}
			sseEvent(w, flusher, "result", models.Success(outcome.result))
			return
		case <-r.Context().Done():
			return
		}
	}
}

// alertStreamHandler handles GET /alerts/stream. Each raised crisis alert
// is pushed to subscribed reviewers as an SSE event until the client
// disconnects.
func (s *Server) alertStreamHandler(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Alert stream not available"))
		return
	}

	flusher, ok := setupSSE(w)
	if !ok {
		return
	}

	id, ch := s.registry.Subscribe()
	defer s.registry.Unsubscribe(id)
	slog.Debug("alertStreamHandler subscribed", "subscriberID", id)

	for {
		select {
		case alert, open := <-ch:
			if !open {
				return
			}
			if !sseEvent(w, flusher, "alert", alert) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
