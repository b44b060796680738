package providers

import (
	"context"
	"net/http"
	"strings"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
)

// AnthropicClient calls the Anthropic Messages API and repairs the free-form JSON answer
type AnthropicClient struct {
	client      anthropic.Client
	provider    string
	model       anthropic.Model
	maxTokens   int
	placeholder string
}

// NewAnthropicClient creates a client bound to one model
func NewAnthropicClient(provider, model, apiKey, baseURL string, maxTokens int, placeholder string, httpClient *http.Client) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		provider:    provider,
		model:       anthropic.Model(model),
		maxTokens:   maxTokens,
		placeholder: placeholder,
	}
}

// Name implements Client
func (c *AnthropicClient) Name() string { return qualifiedName(c.provider, string(c.model)) }

// GenerateCommentary implements Client
func (c *AnthropicClient) GenerateCommentary(ctx context.Context, prompt Prompt) (result models.Commentary, err error) {
	ctx, span := observability.TraceAIFunction(ctx, "anthropic_generate_commentary",
		observability.AttributeProvider(c.provider),
		observability.AttributeModel(string(c.model)),
	)
	defer observability.FinishSpan(span, &err)

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: prompt.System,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return models.Commentary{}, contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if text.Len() == 0 {
		return models.Commentary{}, contextutils.WrapError(contextutils.ErrAIResponseInvalid, "anthropic returned no text content")
	}

	commentary, filled, err := DecodeCommentary(text.String(), c.placeholder)
	span.SetAttributes(attribute.Int("commentary.fields_filled", filled))
	return commentary, err
}
