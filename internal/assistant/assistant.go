// Package assistant is a thin chat pass-through to an OpenAI compatible
// completion API, Groq by default.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/yairfalse/instantiate/internal/telemetry"
)

// Supported backends.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
)

// GroqBaseURL is Groq's OpenAI compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

const systemPrompt = "You help developers deploy code to cloud providers. " +
	"Answer briefly and put any code or configuration in fenced code blocks."

var defaultModels = map[string]string{
	ProviderGroq:   "llama-3.3-70b-versatile",
	ProviderOpenAI: "gpt-4o-mini",
}

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("assistant is not configured")

// Config selects the backend.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string // overrides the backend default
}

// ConfigFromEnv fills the API key for provider from GROQ_API_KEY or
// OPENAI_API_KEY.
func ConfigFromEnv(provider, model string, getenv func(string) string) Config {
	cfg := Config{Provider: provider, Model: model}
	switch provider {
	case ProviderOpenAI:
		cfg.APIKey = getenv("OPENAI_API_KEY")
	default:
		cfg.Provider = ProviderGroq
		cfg.APIKey = getenv("GROQ_API_KEY")
	}
	return cfg
}

// Snippet is a fenced code block pulled out of a reply.
type Snippet struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// Reply is the assistant's answer.
type Reply struct {
	Reply    string    `json:"reply"`
	Snippets []Snippet `json:"snippets,omitempty"`
}

// Assistant sends chat messages to the configured backend.
type Assistant struct {
	client *openai.Client
	model  string
	logger *telemetry.Logger
}

// New creates an assistant. It returns ErrDisabled when cfg has no key.
func New(cfg Config) (*Assistant, error) {
	if cfg.APIKey == "" {
		return nil, ErrDisabled
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderGroq
	}
	model, ok := defaultModels[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown assistant provider %q", cfg.Provider)
	}
	if cfg.Model != "" {
		model = cfg.Model
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.Provider == ProviderGroq {
		oc.BaseURL = GroqBaseURL
	}
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return &Assistant{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		logger: telemetry.NewLogger("assistant"),
	}, nil
}

// Model returns the model name requests are sent to.
func (a *Assistant) Model() string {
	return a.model
}

// Chat sends message and returns the first completion choice.
func (a *Assistant) Chat(ctx context.Context, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.New("message is required")
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	a.logger.WithContext(ctx).Debug().
		Str("model", a.model).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Int("tokens", resp.Usage.TotalTokens).
		Msg("assistant replied")

	content := resp.Choices[0].Message.Content
	return &Reply{Reply: content, Snippets: ExtractSnippets(content)}, nil
}

var fence = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// ExtractSnippets returns the fenced code blocks in text, in order.
func ExtractSnippets(text string) []Snippet {
	matches := fence.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	snippets := make([]Snippet, 0, len(matches))
	for _, m := range matches {
		snippets = append(snippets, Snippet{
			Language: m[1],
			Code:     strings.TrimRight(m[2], "\r\n"),
		})
	}
	return snippets
}
