package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"github.com/ollama/ollama/api"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultOllamaURL is used when a provider of client kind ollama has no url
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient calls a local Ollama server, constraining output with the commentary schema
type OllamaClient struct {
	client      *api.Client
	provider    string
	model       string
	maxTokens   int
	placeholder string
}

// NewOllamaClient creates a client bound to one model
func NewOllamaClient(provider, model, hostURL string, maxTokens int, placeholder string, httpClient *http.Client) (*OllamaClient, error) {
	if hostURL == "" {
		hostURL = DefaultOllamaURL
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrAIConfigInvalid, "invalid ollama url %q: %w", hostURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &OllamaClient{
		client:      api.NewClient(parsed, httpClient),
		provider:    provider,
		model:       model,
		maxTokens:   maxTokens,
		placeholder: placeholder,
	}, nil
}

// Name implements Client
func (c *OllamaClient) Name() string { return qualifiedName(c.provider, c.model) }

// GenerateCommentary implements Client
func (c *OllamaClient) GenerateCommentary(ctx context.Context, prompt Prompt) (result models.Commentary, err error) {
	ctx, span := observability.TraceAIFunction(ctx, "ollama_generate_commentary",
		observability.AttributeProvider(c.provider),
		observability.AttributeModel(c.model),
	)
	defer observability.FinishSpan(span, &err)

	stream := false
	messages := make([]api.Message, 0, 2)
	if prompt.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: prompt.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: prompt.User})

	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Format:   json.RawMessage(CommentarySchema),
		Options: map[string]any{
			"num_predict": c.maxTokens,
		},
	}

	var response api.ChatResponse
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return models.Commentary{}, contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "ollama request failed: %w", err)
	}

	commentary, filled, err := DecodeCommentary(response.Message.Content, c.placeholder)
	span.SetAttributes(attribute.Int("commentary.fields_filled", filled))
	return commentary, err
}
