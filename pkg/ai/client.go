package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"medportal/pkg/domain"
)

// Fixed sampling parameters used for every consultation exchange.
const (
	requestTemperature = 0.7
	requestMaxTokens   = 4000
)

// ErrInvalidResponse is returned when a 2xx completion response lacks the
// expected choices[0].message.content field.
var ErrInvalidResponse = errors.New("invalid response format from AI service")

// ClientConfig wires the completion endpoint and its credentials. The
// customer id and API key were literals baked into the original deployment;
// here they must come from configuration.
type ClientConfig struct {
	BaseURL    string
	CustomerID string
	APIKey     string
	Timeout    time.Duration
}

// Client issues chat completion requests against an OpenAI-compatible
// endpoint. It performs a single call per exchange: no retries, no caching,
// no streaming.
type Client struct {
	baseURL    string
	customerID string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a completion client from config.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		customerID: strings.TrimSpace(cfg.CustomerID),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends formatted messages to the completion endpoint and wraps the
// reply into a fresh assistant ChatMessage plus an opaque correlation token
// for this one exchange.
func (c *Client) Complete(ctx context.Context, model string, messages []Message) (domain.CompletionResult, error) {
	if model == "" {
		return domain.CompletionResult{}, fmt.Errorf("completion model required")
	}
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: requestTemperature,
		MaxTokens:   requestMaxTokens,
	})
	if err != nil {
		return domain.CompletionResult{}, fmt.Errorf("marshal completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return domain.CompletionResult{}, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.customerID != "" {
		req.Header.Set("CustomerId", c.customerID)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CompletionResult{}, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.CompletionResult{}, fmt.Errorf("AI service error: status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return domain.CompletionResult{}, fmt.Errorf("decode completion response: %w", err)
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return domain.CompletionResult{}, ErrInvalidResponse
	}

	return domain.CompletionResult{
		Message: domain.ChatMessage{
			ID:        uuid.NewString(),
			Role:      domain.RoleAssistant,
			Content:   chatResp.Choices[0].Message.Content,
			Timestamp: time.Now().UTC(),
		},
		SessionID: "session_" + uuid.NewString(),
	}, nil
}
