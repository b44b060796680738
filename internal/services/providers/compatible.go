package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// ChatRequest is the body of an OpenAI-compatible /chat/completions request
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Grammar     string        `json:"grammar,omitempty"`
}

// ChatMessage represents a chat message in the API request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse represents a response from the OpenAI-compatible API
type ChatResponse struct {
	Choices []ChatChoice `json:"choices"`
	Error   *APIError    `json:"error,omitempty"`
}

// ChatChoice represents a choice in the API response
type ChatChoice struct {
	Message ChatMessage `json:"message"`
}

// APIError represents an error response from the API
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// CompatibleClient talks to any server exposing an OpenAI-compatible /chat/completions endpoint
type CompatibleClient struct {
	httpClient      *http.Client
	logger          *observability.Logger
	provider        string
	model           string
	baseURL         string
	apiKey          string
	maxTokens       int
	supportsGrammar bool
	placeholder     string
}

// NewCompatibleClient creates a client bound to one model on the server at baseURL
func NewCompatibleClient(provider, model, baseURL, apiKey string, maxTokens int, supportsGrammar bool, placeholder string, httpClient *http.Client, logger *observability.Logger) *CompatibleClient {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &CompatibleClient{
		httpClient:      httpClient,
		logger:          logger,
		provider:        provider,
		model:           model,
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		apiKey:          apiKey,
		maxTokens:       maxTokens,
		supportsGrammar: supportsGrammar,
		placeholder:     placeholder,
	}
}

// Name implements Client
func (c *CompatibleClient) Name() string { return qualifiedName(c.provider, c.model) }

// GenerateCommentary implements Client
func (c *CompatibleClient) GenerateCommentary(ctx context.Context, prompt Prompt) (result models.Commentary, err error) {
	ctx, span := observability.TraceAIFunction(ctx, "compatible_generate_commentary",
		observability.AttributeProvider(c.provider),
		observability.AttributeModel(c.model),
		attribute.Int("prompt.length", len(prompt.User)),
		attribute.Bool("grammar.enabled", c.supportsGrammar && prompt.Grammar != ""),
	)
	defer observability.FinishSpan(span, &err)

	content, err := c.complete(ctx, prompt)
	if err != nil {
		return models.Commentary{}, err
	}

	raw := content
	if !c.supportsGrammar {
		raw = StripCodeFences(content)
	}
	commentary, filled, err := DecodeCommentary(raw, c.placeholder)
	span.SetAttributes(attribute.Int("commentary.fields_filled", filled))
	return commentary, err
}

func (c *CompatibleClient) complete(ctx context.Context, prompt Prompt) (string, error) {
	if c.baseURL == "" {
		return "", contextutils.WrapErrorf(contextutils.ErrAIConfigInvalid, "no base URL configured for provider '%s'", c.provider)
	}
	endpoint := c.baseURL + "/chat/completions"

	messages := make([]ChatMessage, 0, 2)
	if prompt.System != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: prompt.System})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: prompt.User})

	reqBody := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   c.maxTokens,
	}
	if c.supportsGrammar && prompt.Grammar != "" {
		reqBody.Grammar = prompt.Grammar
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", contextutils.WrapErrorf(err, "failed to marshal request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", contextutils.WrapErrorf(err, "failed to create HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "commentaryapp/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug(ctx, "Starting AI request", map[string]interface{}{
		"url":      endpoint,
		"model":    c.model,
		"provider": c.provider,
		"api_key":  contextutils.MaskAPIKey(c.apiKey),
	})

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "HTTP request failed after %v: %w", duration, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn(ctx, "Failed to close response body", map[string]interface{}{"error": err.Error()})
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "failed to read response body: %w", err)
	}

	c.logger.Debug(ctx, "AI HTTP request completed", map[string]interface{}{
		"provider":    c.provider,
		"duration":    duration.String(),
		"status_code": resp.StatusCode,
	})

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", contextutils.WrapErrorf(contextutils.ErrQuotaExceeded, "API request failed with status %d to %s: %s", resp.StatusCode, endpoint, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "API request failed with status %d to %s: %s", resp.StatusCode, endpoint, string(body))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "failed to parse AI response as JSON: %w", err)
	}
	if chatResp.Error != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "no choices in response")
	}

	content := chatResp.Choices[0].Message.Content
	if content == "" {
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "AI returned empty content")
	}
	return content, nil
}
