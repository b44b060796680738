package providers

import (
	"context"
	"net/http"
	"sync"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

// GeminiClient calls the Gemini API with a JSON response schema and still repairs the answer
type GeminiClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	provider    string
	model       string
	maxTokens   int
	placeholder string

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// NewGeminiClient creates a client bound to one model. The SDK client is built on first use.
func NewGeminiClient(provider, model, apiKey, baseURL string, maxTokens int, placeholder string, httpClient *http.Client) *GeminiClient {
	return &GeminiClient{
		apiKey:      apiKey,
		baseURL:     baseURL,
		httpClient:  httpClient,
		provider:    provider,
		model:       model,
		maxTokens:   maxTokens,
		placeholder: placeholder,
	}
}

// Name implements Client
func (c *GeminiClient) Name() string { return qualifiedName(c.provider, c.model) }

func (c *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:     c.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: c.httpClient,
		}
		if c.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
		}
		c.client, c.clientErr = genai.NewClient(ctx, cfg)
	})
	if c.clientErr != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrAIConfigInvalid, "failed to create gemini client: %w", c.clientErr)
	}
	return c.client, nil
}

func geminiResponseSchema() *genai.Schema {
	props := make(map[string]*genai.Schema, len(commentaryFields))
	for _, f := range commentaryFields {
		props[f] = &genai.Schema{Type: genai.TypeString}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   commentaryFields,
	}
}

// GenerateCommentary implements Client
func (c *GeminiClient) GenerateCommentary(ctx context.Context, prompt Prompt) (result models.Commentary, err error) {
	ctx, span := observability.TraceAIFunction(ctx, "gemini_generate_commentary",
		observability.AttributeProvider(c.provider),
		observability.AttributeModel(c.model),
	)
	defer observability.FinishSpan(span, &err)

	client, err := c.sdk(ctx)
	if err != nil {
		return models.Commentary{}, err
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens:  int32(c.maxTokens), //nolint:gosec // bounded by config
		ResponseMIMEType: "application/json",
		ResponseSchema:   geminiResponseSchema(),
	}
	if prompt.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: prompt.System}},
		}
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt.User), cfg)
	if err != nil {
		// Quota failures surface here as RESOURCE_EXHAUSTED / 429 in the message text
		return models.Commentary{}, contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "gemini request failed: %w", err)
	}
	if resp == nil {
		return models.Commentary{}, contextutils.WrapError(contextutils.ErrAIResponseInvalid, "empty response from gemini")
	}

	commentary, filled, err := DecodeCommentary(resp.Text(), c.placeholder)
	span.SetAttributes(attribute.Int("commentary.fields_filled", filled))
	return commentary, err
}
