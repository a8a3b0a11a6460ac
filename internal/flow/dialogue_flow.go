package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"

	"github.com/kindpath/sfbtcoach/internal/alerts"
	"github.com/kindpath/sfbtcoach/internal/crisis"
	"github.com/kindpath/sfbtcoach/internal/genai"
	"github.com/kindpath/sfbtcoach/internal/models"
	"github.com/kindpath/sfbtcoach/internal/retrieval"
	"github.com/kindpath/sfbtcoach/internal/store"
)

// mockReply is returned for every turn when mock mode is active, so the
// full flow can be exercised without an upstream completion API.
const mockReply = "我们来聊聊你希望有什么不一样？"

// introUserInput is the synthetic user side of the intro interaction.
const introUserInput = "（系统）开启对话"

// DialogueFlow runs complete dialogue turns: identity resolution, retrieval
// blending, crisis detection, prompt composition, generation and the atomic
// turn commit with best-effort alerting.
type DialogueFlow struct {
	store        store.Store
	blender      *retrieval.Blender
	registry     *alerts.Registry
	orchestrator *Orchestrator

	webDefault bool
	mockMode   bool
}

// FlowOption configures a DialogueFlow.
type FlowOption func(*DialogueFlow)

// WithWebRetrievalDefault sets whether turns attempt web retrieval when the
// caller does not say otherwise. A per-turn override can only disable
// retrieval, never enable it past a disabled default.
func WithWebRetrievalDefault(enabled bool) FlowOption {
	return func(f *DialogueFlow) { f.webDefault = enabled }
}

// WithMockMode short-circuits generation with a canned reply.
func WithMockMode(enabled bool) FlowOption {
	return func(f *DialogueFlow) { f.mockMode = enabled }
}

// NewDialogueFlow creates a dialogue flow over its collaborators. The
// blender and registry may be nil; the store and client must not be.
func NewDialogueFlow(st store.Store, client genai.ClientInterface, blender *retrieval.Blender, registry *alerts.Registry, opts ...FlowOption) *DialogueFlow {
	f := &DialogueFlow{
		store:        st,
		blender:      blender,
		registry:     registry,
		orchestrator: NewOrchestrator(client),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// TurnRequest describes one dialogue turn.
type TurnRequest struct {
	ChildName string
	UserInput string
	// ConversationID selects an existing conversation; zero means a new
	// conversation is created for persisted turns.
	ConversationID int64
	// EnableWebRetrieval overrides the flow default when non-nil.
	EnableWebRetrieval *bool
	// Persist selects persisted mode; false runs a guest turn that touches
	// no storage.
	Persist bool
	// Progress receives checkpoint messages; may be nil.
	Progress retrieval.ProgressFunc
}

// GenerateReply executes one full dialogue turn and always yields a
// non-empty reply on success. Collaborator failures inside the turn are
// absorbed; the worst case is a scripted fallback reply.
func (f *DialogueFlow) GenerateReply(ctx context.Context, req TurnRequest) (models.TurnResult, error) {
	userInput := strings.TrimSpace(req.UserInput)
	if userInput == "" {
		return models.TurnResult{}, models.ErrEmptyUserInput
	}
	if utf8.RuneCountInString(userInput) > models.MaxUserInputLength {
		return models.TurnResult{}, models.ErrUserInputTooLong
	}

	child, err := f.resolveChild(req.ChildName, req.Persist)
	if err != nil {
		return models.TurnResult{}, err
	}

	useWeb := f.webDefault && (req.EnableWebRetrieval == nil || *req.EnableWebRetrieval)
	blend := f.blend(ctx, userInput, useWeb, req.Progress)

	result := models.TurnResult{
		ConversationID: req.ConversationID,
		WebSources:     blend.Sources,
		WebSourceCount: len(blend.Sources),
	}
	if blend.WebAttempted {
		result.WebQuery = userInput
	}

	if f.mockMode {
		result.Reply = mockReply
		if req.Persist && result.ConversationID == 0 {
			conv, err := f.newConversation(child, "")
			if err != nil {
				return models.TurnResult{}, err
			}
			result.ConversationID = conv.ID
		}
		reportProgress(req.Progress, "完成")
		return result, nil
	}

	if req.Persist && result.ConversationID == 0 {
		conv, err := f.newConversation(child, "")
		if err != nil {
			return models.TurnResult{}, err
		}
		result.ConversationID = conv.ID
	}

	var history []models.Interaction
	if req.Persist {
		history, err = f.store.ListInteractions(result.ConversationID)
		if err != nil {
			return models.TurnResult{}, fmt.Errorf("DialogueFlow.GenerateReply: load history: %w", err)
		}
	}

	flags := crisis.Detect(userInput)
	prompt := ComposePrompt(child.Stage, userInput, history, blend.Text, flags)
	messages := buildMessages(prompt, history, userInput)

	result.Reply = f.orchestrator.Generate(ctx, messages, flags, req.Progress)

	if req.Persist {
		interactionID, err := f.store.CommitTurn(child.ID, result.ConversationID, userInput, result.Reply, NextStage(child.Stage))
		if err != nil {
			// The child still gets the reply; the turn is just not recorded
			// and the stage does not advance.
			slog.Error("DialogueFlow.GenerateReply: turn commit failed", "childID", child.ID, "conversationID", result.ConversationID, "error", err)
		} else if flags.Any {
			f.raiseAlert(child.ID, interactionID, flags)
		}
	}

	reportProgress(req.Progress, "完成")
	return result, nil
}

// GenerateIntro writes the scripted counselor introduction as the first
// interaction of a conversation and returns it. It is idempotent: if the
// conversation already has interactions, nothing is written and the
// returned text is empty.
func (f *DialogueFlow) GenerateIntro(childName string, conversationID int64) (string, error) {
	child, err := f.resolveChild(childName, true)
	if err != nil {
		return "", err
	}
	conv, err := f.store.GetConversation(conversationID)
	if err != nil {
		return "", err
	}
	if conv.ChildID != child.ID {
		return "", models.ErrConversationNotFound
	}
	has, err := f.store.HasInteractions(conversationID)
	if err != nil {
		return "", fmt.Errorf("DialogueFlow.GenerateIntro: %w", err)
	}
	if has {
		return "", nil
	}
	_, err = f.store.AddInteraction(models.Interaction{
		ChildID:        child.ID,
		ConversationID: conversationID,
		UserInput:      introUserInput,
		BotResponse:    introText,
	})
	if err != nil {
		return "", fmt.Errorf("DialogueFlow.GenerateIntro: %w", err)
	}
	return introText, nil
}

// CreateConversation creates a conversation for a child, defaulting the
// title to a sequential Chinese label when blank.
func (f *DialogueFlow) CreateConversation(childName, title string) (models.Conversation, error) {
	child, err := f.resolveChild(childName, true)
	if err != nil {
		return models.Conversation{}, err
	}
	return f.newConversation(child, title)
}

// ListConversations returns a child's conversations, newest first.
func (f *DialogueFlow) ListConversations(childName string) ([]models.Conversation, error) {
	child, err := f.resolveChild(childName, true)
	if err != nil {
		return nil, err
	}
	return f.store.ListConversations(child.ID)
}

// AddKnowledge stores a knowledge corpus entry and invalidates the local
// retrieval index so the entry is retrievable on the next turn.
func (f *DialogueFlow) AddKnowledge(entry models.KnowledgeEntry) (int64, error) {
	entry.Content = strings.TrimSpace(entry.Content)
	if entry.Content == "" {
		return 0, models.ErrEmptyKnowledge
	}
	if utf8.RuneCountInString(entry.Title) > models.MaxConversationTitleLength {
		entry.Title = string([]rune(entry.Title)[:models.MaxConversationTitleLength])
	}
	id, err := f.store.AddKnowledge(entry)
	if err != nil {
		return 0, fmt.Errorf("DialogueFlow.AddKnowledge: %w", err)
	}
	if f.blender != nil {
		f.blender.InvalidateLocal()
	}
	return id, nil
}

// ConversationHistory returns a conversation's interactions in order.
func (f *DialogueFlow) ConversationHistory(conversationID int64) ([]models.Interaction, error) {
	if _, err := f.store.GetConversation(conversationID); err != nil {
		return nil, err
	}
	return f.store.ListInteractions(conversationID)
}

func (f *DialogueFlow) resolveChild(name string, persist bool) (models.Child, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Child{}, models.ErrEmptyChildName
	}
	if utf8.RuneCountInString(name) > models.MaxChildNameLength {
		name = string([]rune(name)[:models.MaxChildNameLength])
	}
	if !persist {
		// Guest turns run against an ephemeral identity at the initial stage.
		return models.Child{Name: name, Stage: models.StageGoalSetting}, nil
	}
	child, err := f.store.GetOrCreateChild(name)
	if err != nil {
		return models.Child{}, fmt.Errorf("DialogueFlow: resolve child %q: %w", name, err)
	}
	return child, nil
}

func (f *DialogueFlow) newConversation(child models.Child, title string) (models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		n, err := f.store.CountConversations(child.ID)
		if err != nil {
			return models.Conversation{}, fmt.Errorf("DialogueFlow: count conversations: %w", err)
		}
		title = fmt.Sprintf("对话%d", n+1)
	}
	if utf8.RuneCountInString(title) > models.MaxConversationTitleLength {
		title = string([]rune(title)[:models.MaxConversationTitleLength])
	}
	conv, err := f.store.CreateConversation(child.ID, title)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("DialogueFlow: create conversation: %w", err)
	}
	return conv, nil
}

func (f *DialogueFlow) blend(ctx context.Context, query string, useWeb bool, progress retrieval.ProgressFunc) retrieval.Context {
	if f.blender == nil {
		return retrieval.Context{}
	}
	return f.blender.Blend(ctx, query, useWeb, progress)
}

// raiseAlert records and publishes a crisis alert. Failures are logged and
// swallowed: the committed turn must never be affected by alerting.
func (f *DialogueFlow) raiseAlert(childID, interactionID int64, flags models.CrisisFlags) {
	alert := models.CrisisAlert{
		ChildID:       childID,
		InteractionID: interactionID,
		Flags:         flags,
		Summary:       crisis.Summary(flags),
	}
	id, err := f.store.AddCrisisAlert(alert)
	if err != nil {
		slog.Warn("DialogueFlow: crisis alert not recorded", "childID", childID, "interactionID", interactionID, "error", err)
		return
	}
	alert.ID = id
	if f.registry != nil {
		f.registry.Publish(alert)
	}
}

func buildMessages(systemPrompt string, history []models.Interaction, userInput string) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)*2+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, turn := range history {
		if turn.UserInput != "" {
			messages = append(messages, openai.UserMessage(turn.UserInput))
		}
		if turn.BotResponse != "" {
			messages = append(messages, openai.AssistantMessage(turn.BotResponse))
		}
	}
	return append(messages, openai.UserMessage(userInput))
}
