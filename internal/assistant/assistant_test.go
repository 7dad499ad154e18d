package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledWithoutKey(t *testing.T) {
	_, err := New(Config{Provider: ProviderGroq})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "anthropic", APIKey: "k"})
	assert.EqualError(t, err, `unknown assistant provider "anthropic"`)
}

func TestNew_DefaultModels(t *testing.T) {
	groq, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "llama-3.3-70b-versatile", groq.Model())

	openaiAssistant, err := New(Config{Provider: ProviderOpenAI, APIKey: "k", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", openaiAssistant.Model())
}

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{"GROQ_API_KEY": "gsk", "OPENAI_API_KEY": "sk"}
	getenv := func(k string) string { return env[k] }

	assert.Equal(t, Config{Provider: ProviderGroq, APIKey: "gsk"}, ConfigFromEnv("", "", getenv))
	assert.Equal(t, Config{Provider: ProviderOpenAI, Model: "gpt-4o", APIKey: "sk"}, ConfigFromEnv("openai", "gpt-4o", getenv))
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama-3.3-70b-versatile", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "how do I deploy a lambda?", body.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  body.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": "Use this:\n```javascript\nexports.handler = async () => 'ok'\n```",
				},
			}},
			"usage": map[string]int{"total_tokens": 42},
		})
	}))
	defer srv.Close()

	a, err := New(Config{APIKey: "gsk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	reply, err := a.Chat(context.Background(), "  how do I deploy a lambda? ")

	require.NoError(t, err)
	assert.Contains(t, reply.Reply, "Use this:")
	require.Len(t, reply.Snippets, 1)
	assert.Equal(t, Snippet{Language: "javascript", Code: "exports.handler = async () => 'ok'"}, reply.Snippets[0])
}

func TestChat_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	a, err := New(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = a.Chat(context.Background(), "hi")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion:")
}

func TestChat_EmptyMessage(t *testing.T) {
	a, err := New(Config{APIKey: "k"})
	require.NoError(t, err)

	_, err = a.Chat(context.Background(), "   ")

	assert.EqualError(t, err, "message is required")
}

func TestExtractSnippets(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Snippet
	}{
		{"none", "just text", nil},
		{"untagged", "```\necho hi\n```", []Snippet{{Code: "echo hi"}}},
		{
			"several",
			"a\n```python\nprint(1)\n```\nb\n```yaml\nname: api\nprovider: aws\n```",
			[]Snippet{{Language: "python", Code: "print(1)"}, {Language: "yaml", Code: "name: api\nprovider: aws"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSnippets(tt.text))
		})
	}
}
