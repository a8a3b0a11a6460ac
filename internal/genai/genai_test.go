package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completionWith(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerateWithMessages_Success(t *testing.T) {
	mock := &mockChatService{resp: completionWith("你好，我在听。")}
	client := &Client{chat: mock, model: DefaultModel, temperature: 0.7}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("system prompt"),
		openai.UserMessage("你好"),
	}
	out, err := client.GenerateWithMessages(context.Background(), messages, 0.5)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "你好，我在听。" {
		t.Errorf("unexpected reply %q", out)
	}
	if mock.params.Temperature.Value != 0.5 {
		t.Errorf("temperature must be passed through, got %v", mock.params.Temperature.Value)
	}
}

func TestGenerateWithMessages_ServiceError(t *testing.T) {
	mock := &mockChatService{err: errors.New("service failure")}
	client := &Client{chat: mock, model: DefaultModel}

	_, err := client.GenerateWithMessages(context.Background(), nil, 0.7)
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateWithMessages_NoChoices(t *testing.T) {
	mock := &mockChatService{resp: &openai.ChatCompletion{}}
	client := &Client{chat: mock, model: DefaultModel}

	_, err := client.GenerateWithMessages(context.Background(), nil, 0.7)
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestGenerateWithMessages_MaxCompletionTokens(t *testing.T) {
	mock := &mockChatService{resp: completionWith("回复")}
	client := &Client{chat: mock, model: DefaultModel, maxCompletionTokens: 256}

	if _, err := client.GenerateWithMessages(context.Background(), nil, 0.7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.params.MaxCompletionTokens.Value != 256 {
		t.Errorf("completion token cap must be set, got %v", mock.params.MaxCompletionTokens.Value)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("deepseek-chat"), WithTemperature(0.6))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.Temperature() != 0.6 {
		t.Errorf("expected configured temperature, got %v", cli.Temperature())
	}
}

func TestFitContextWindow_KeepsSystemAndCurrentUser(t *testing.T) {
	client := &Client{contextWindow: 60}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(strings.Repeat("系", 20)),
		openai.UserMessage(strings.Repeat("一", 30)),
		openai.AssistantMessage(strings.Repeat("二", 30)),
		openai.UserMessage(strings.Repeat("三", 30)),
		openai.AssistantMessage(strings.Repeat("四", 10)),
		openai.UserMessage(strings.Repeat("新", 20)),
	}
	fitted := client.fitContextWindow(messages)
	if len(fitted) >= len(messages) {
		t.Fatalf("expected history to be trimmed, kept %d of %d", len(fitted), len(messages))
	}
	if fitted[0].OfSystem == nil {
		t.Error("the system message must always be kept first")
	}
	last := fitted[len(fitted)-1]
	if last.OfUser == nil || last.OfUser.Content.OfString.Value != strings.Repeat("新", 20) {
		t.Error("the current user message must always be kept last")
	}
}

func TestFitContextWindow_NoTrimWhenFits(t *testing.T) {
	client := &Client{contextWindow: 1000}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("短"),
		openai.UserMessage("你好"),
		openai.UserMessage("再见"),
	}
	if fitted := client.fitContextWindow(messages); len(fitted) != 3 {
		t.Errorf("messages within the window must pass untouched, got %d", len(fitted))
	}
}

func TestNoopClient(t *testing.T) {
	client := NoopClient(0.4)
	if client.Temperature() != 0.4 {
		t.Errorf("unexpected temperature %v", client.Temperature())
	}
	if _, err := client.GenerateWithMessages(context.Background(), nil, 0.4); err == nil {
		t.Error("noop generation must fail fast")
	}
}
