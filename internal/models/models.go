// Package models defines the core data structures for SFBTCoach.
//
// It includes the persisted entities (children, conversations, interactions,
// crisis alerts, knowledge entries) and the shared request/response shapes
// used across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxChildNameLength defines the maximum allowed length for a child name
	MaxChildNameLength = 50
	// MaxConversationTitleLength defines the maximum allowed length for a conversation title
	MaxConversationTitleLength = 200
	// MaxUserInputLength defines the maximum allowed length for one user message
	MaxUserInputLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyChildName       = errors.New("child name cannot be empty")
	ErrEmptyUserInput       = errors.New("user input cannot be empty")
	ErrUserInputTooLong     = errors.New("user input exceeds maximum length")
	ErrChildNotFound        = errors.New("child not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrAlertNotFound        = errors.New("crisis alert not found")
	ErrEmptyKnowledge       = errors.New("knowledge content cannot be empty")
)

// Child represents one counseled child. The stage advances monotonically,
// at most one step per committed turn.
type Child struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Stage         Stage     `json:"stage"`
	ProgressScore float64   `json:"progress_score"`
	CreatedAt     time.Time `json:"created_at"`
}

// Conversation groups an ordered sequence of interactions for one child.
type Conversation struct {
	ID        int64     `json:"id"`
	ChildID   int64     `json:"child_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Interaction is the immutable record of one dialogue turn. Append-only.
type Interaction struct {
	ID             int64     `json:"id"`
	ChildID        int64     `json:"child_id"`
	ConversationID int64     `json:"conversation_id"`
	UserInput      string    `json:"user_input"`
	BotResponse    string    `json:"bot_response"`
	Timestamp      time.Time `json:"timestamp"`
}

// CrisisFlags carries the independent risk indicators produced by crisis
// detection. Any is the logical OR of the four categories.
type CrisisFlags struct {
	Suicide  bool `json:"suicide"`
	SelfHarm bool `json:"self_harm"`
	Abuse    bool `json:"abuse"`
	Violence bool `json:"violence"`
	Any      bool `json:"any"`
}

// CrisisAlert is created when crisis detection flags an interaction.
// It is transitioned to reviewed by a human reviewer.
type CrisisAlert struct {
	ID            int64       `json:"id"`
	ChildID       int64       `json:"child_id"`
	InteractionID int64       `json:"interaction_id"`
	Flags         CrisisFlags `json:"flags"`
	Summary       string      `json:"summary"`
	Reviewed      bool        `json:"reviewed"`
	ReviewedAt    *time.Time  `json:"reviewed_at,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// KnowledgeEntry is one row of the local SFBT knowledge corpus backing
// local retrieval.
type KnowledgeEntry struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	SourceURL string    `json:"source_url,omitempty"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebSource describes one web retrieval hit, tracked for optional client
// display alongside the reply.
type WebSource struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// TurnResult is the outcome of one dialogue turn returned to the caller.
type TurnResult struct {
	Reply          string      `json:"reply"`
	ConversationID int64       `json:"conversation_id,omitempty"`
	WebQuery       string      `json:"web_query,omitempty"`
	WebSources     []WebSource `json:"web_sources"`
	WebSourceCount int         `json:"web_source_count"`
}

// APIResponse provides a consistent response structure for all API endpoints.
type APIResponse struct {
	Status  string      `json:"status"`            // "ok" or "error"
	Message string      `json:"message,omitempty"` // human-readable message
	Result  interface{} `json:"result,omitempty"`  // response payload
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: "ok", Message: message, Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Message: message}
}
