// Package api provides HTTP handlers and the main API server logic for SFBTCoach.
//
// It exposes endpoints for dialogue turns (including a streaming variant
// with progress events), conversation management, crisis alert review and
// the live alert feed. The API integrates with the flow, store and alerts
// modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kindpath/sfbtcoach/internal/alerts"
	"github.com/kindpath/sfbtcoach/internal/flow"
	"github.com/kindpath/sfbtcoach/internal/models"
	"github.com/kindpath/sfbtcoach/internal/store"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// DialogueService is the slice of the dialogue flow the API depends on.
type DialogueService interface {
	GenerateReply(ctx context.Context, req flow.TurnRequest) (models.TurnResult, error)
	GenerateIntro(childName string, conversationID int64) (string, error)
	CreateConversation(childName, title string) (models.Conversation, error)
	ListConversations(childName string) ([]models.Conversation, error)
	ConversationHistory(conversationID int64) ([]models.Interaction, error)
	AddKnowledge(entry models.KnowledgeEntry) (int64, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address (e.g. ":8080").
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr overrides the default listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the dialogue service, storage and the alert registry into
// HTTP endpoints.
type Server struct {
	addr     string
	flow     DialogueService
	st       store.Store
	registry *alerts.Registry
}

// NewServer creates an API server. The registry may be nil; the alert
// stream endpoint then reports unavailability.
func NewServer(flowSvc DialogueService, st store.Store, registry *alerts.Registry, opts ...Option) *Server {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	return &Server{addr: o.Addr, flow: flowSvc, st: st, registry: registry}
}

// Handler returns the routed HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.chatHandler)
	mux.HandleFunc("POST /chat/stream", s.chatStreamHandler)
	mux.HandleFunc("POST /conversations", s.createConversationHandler)
	mux.HandleFunc("GET /conversations", s.listConversationsHandler)
	mux.HandleFunc("GET /history", s.historyHandler)
	mux.HandleFunc("POST /intro", s.introHandler)
	mux.HandleFunc("GET /alerts", s.listAlertsHandler)
	mux.HandleFunc("POST /alerts/review", s.reviewAlertHandler)
	mux.HandleFunc("GET /alerts/stream", s.alertStreamHandler)
	mux.HandleFunc("POST /knowledge", s.addKnowledgeHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until ctx is canceled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: SFBTCoach API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("Server.Run: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("Server.Run: %w", err)
	}
}
