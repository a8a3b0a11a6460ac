package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kindpath/sfbtcoach/internal/flow"
	"github.com/kindpath/sfbtcoach/internal/models"
)

// ChatRequest is the request body for POST /chat and POST /chat/stream.
type ChatRequest struct {
	ChildName          string `json:"child_name"`
	UserInput          string `json:"user_input"`
	ConversationID     int64  `json:"conversation_id,omitempty"`
	EnableWebRetrieval *bool  `json:"enable_web_retrieval,omitempty"`
	// Persist defaults to true; set false for a guest turn that leaves no
	// storage trace.
	Persist *bool `json:"persist,omitempty"`
}

func (r ChatRequest) turnRequest() flow.TurnRequest {
	persist := true
	if r.Persist != nil {
		persist = *r.Persist
	}
	return flow.TurnRequest{
		ChildName:          strings.TrimSpace(r.ChildName),
		UserInput:          r.UserInput,
		ConversationID:     r.ConversationID,
		EnableWebRetrieval: r.EnableWebRetrieval,
		Persist:            persist,
	}
}

// ConversationRequest is the request body for POST /conversations.
type ConversationRequest struct {
	ChildName string `json:"child_name"`
	Title     string `json:"title,omitempty"`
}

// IntroRequest is the request body for POST /intro.
type IntroRequest struct {
	ChildName      string `json:"child_name"`
	ConversationID int64  `json:"conversation_id"`
}

// ReviewAlertRequest is the request body for POST /alerts/review.
type ReviewAlertRequest struct {
	AlertID int64  `json:"alert_id"`
	Notes   string `json:"notes,omitempty"`
}

// KnowledgeRequest is the request body for POST /knowledge.
type KnowledgeRequest struct {
	Title     string `json:"title,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
	Content   string `json:"content"`
}

// chatHandler handles POST /chat
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("chatHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("chatHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result, err := s.flow.GenerateReply(r.Context(), req.turnRequest())
	if err != nil {
		slog.Warn("chatHandler turn failed", "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// createConversationHandler handles POST /conversations
func (s *Server) createConversationHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("createConversationHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req ConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("createConversationHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	conv, err := s.flow.CreateConversation(req.ChildName, req.Title)
	if err != nil {
		slog.Warn("createConversationHandler failed", "error", err, "child", req.ChildName)
		writeDomainError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(conv))
}

// listConversationsHandler handles GET /conversations?child_name=
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	childName := strings.TrimSpace(r.URL.Query().Get("child_name"))
	if childName == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("child_name query parameter is required"))
		return
	}

	convs, err := s.flow.ListConversations(childName)
	if err != nil {
		slog.Warn("listConversationsHandler failed", "error", err, "child", childName)
		writeDomainError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(convs))
}

// historyHandler handles GET /history?conversation_id=
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	conversationID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil || conversationID <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("conversation_id query parameter must be a positive integer"))
		return
	}

	history, err := s.flow.ConversationHistory(conversationID)
	if err != nil {
		slog.Warn("historyHandler failed", "error", err, "conversationID", conversationID)
		writeDomainError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(history))
}

// introHandler handles POST /intro
func (s *Server) introHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("introHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req IntroRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("introHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ConversationID <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("conversation_id must be a positive integer"))
		return
	}

	intro, err := s.flow.GenerateIntro(req.ChildName, req.ConversationID)
	if err != nil {
		slog.Warn("introHandler failed", "error", err, "conversationID", req.ConversationID)
		writeDomainError(w, err)
		return
	}
	if intro == "" {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("conversation already started", nil))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"intro": intro}))
}

// listAlertsHandler handles GET /alerts?unreviewed=
func (s *Server) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	onlyUnreviewed := false
	if raw := r.URL.Query().Get("unreviewed"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("unreviewed query parameter must be a boolean"))
			return
		}
		onlyUnreviewed = parsed
	}

	alertList, err := s.st.ListCrisisAlerts(onlyUnreviewed)
	if err != nil {
		slog.Error("listAlertsHandler failed", "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(alertList))
}

// reviewAlertHandler handles POST /alerts/review
func (s *Server) reviewAlertHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("reviewAlertHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req ReviewAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("reviewAlertHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.AlertID <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("alert_id must be a positive integer"))
		return
	}

	if err := s.st.ReviewCrisisAlert(req.AlertID, req.Notes); err != nil {
		slog.Warn("reviewAlertHandler failed", "error", err, "alertID", req.AlertID)
		writeDomainError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("alert reviewed", nil))
}

// addKnowledgeHandler handles POST /knowledge
func (s *Server) addKnowledgeHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("addKnowledgeHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req KnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("addKnowledgeHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	id, err := s.flow.AddKnowledge(models.KnowledgeEntry{
		Title:     strings.TrimSpace(req.Title),
		SourceURL: strings.TrimSpace(req.SourceURL),
		Content:   req.Content,
	})
	if err != nil {
		slog.Warn("addKnowledgeHandler failed", "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(map[string]int64{"id": id}))
}

// healthHandler handles GET /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
