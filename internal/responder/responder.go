// Package responder produces the assistant side of a conversation.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"go.uber.org/zap"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultModel          = "gpt-4o-mini"
	defaultRequestTimeout = 20 * time.Second
	maxResponseBytes      = 1 << 20
	roleSystem            = "system"
	roleUser              = "user"
	roleAssistant         = "assistant"

	// DefaultSystemPrompt frames the assistant as a supportive listener.
	DefaultSystemPrompt = "You are a calm, supportive wellness companion. Listen carefully, reflect feelings back, and suggest small practical steps. You are not a replacement for professional care."
)

var errEmptyCompletion = errors.New("responder: completion has no content")

// FallbackReplies are served whenever the model cannot answer.
var FallbackReplies = []string{
	"I understand how you're feeling. Let's explore that further.",
	"That's a common experience. Here are some strategies that might help...",
	"Thank you for sharing that with me. How long have you been feeling this way?",
	"I'm here to support you. Would you like to try some mindfulness exercises?",
	"It sounds like you're going through a challenging time. Remember that it's okay to ask for help.",
	"Let's break this down into smaller parts that feel more manageable.",
	"Have you tried any coping strategies so far? What has worked or not worked?",
	"That's a normal reaction to what you're experiencing. Let's discuss some ways to address it.",
}

// Config holds the chat completion endpoint settings. An empty APIKey
// serves fallback replies only.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	SystemPrompt   string
	RequestTimeout time.Duration
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	systemPrompt string
	httpClient   *http.Client
	logger       *zap.Logger
	pick         func(n int) int
}

var _ minutes.Responder = (*Client)(nil)

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	systemPrompt := strings.TrimSpace(cfg.SystemPrompt)
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiKey:       strings.TrimSpace(cfg.APIKey),
		baseURL:      baseURL,
		model:        model,
		systemPrompt: systemPrompt,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
		pick:         rand.IntN,
	}
}

// Reply returns the model's answer to history, or a fallback reply when the
// model is unconfigured or fails. It errors only when ctx is done.
func (client *Client) Reply(ctx context.Context, history []minutes.Message) (string, error) {
	if client.apiKey == "" {
		return client.fallback(), nil
	}
	reply, err := client.complete(ctx, history)
	if err == nil {
		return reply, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	client.logger.Warn("chat completion failed, serving fallback reply", zap.Error(err))
	return client.fallback(), nil
}

func (client *Client) fallback() string {
	return FallbackReplies[client.pick(len(FallbackReplies))]
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (client *Client) complete(ctx context.Context, history []minutes.Message) (string, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	messages = append(messages, chatMessage{Role: roleSystem, Content: client.systemPrompt})
	for _, message := range history {
		role := roleAssistant
		if message.FromUser {
			role = roleUser
		}
		messages = append(messages, chatMessage{Role: role, Content: message.Content})
	}
	body, err := json.Marshal(chatRequest{Model: client.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("responder: marshal request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("responder: create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+client.apiKey)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("responder: send request: %w", err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("responder: read response: %w", err)
	}
	var decoded chatResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	if response.StatusCode != http.StatusOK {
		if decodeErr == nil && decoded.Error != nil && decoded.Error.Message != "" {
			return "", fmt.Errorf("responder: %s (type=%s)", decoded.Error.Message, decoded.Error.Type)
		}
		return "", fmt.Errorf("responder: http %d", response.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("responder: unmarshal response: %w", decodeErr)
	}
	if len(decoded.Choices) == 0 {
		return "", errEmptyCompletion
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", errEmptyCompletion
	}
	return content, nil
}
