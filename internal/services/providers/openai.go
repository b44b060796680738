package providers

import (
	"context"
	"net/http"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient calls the OpenAI Chat Completions API with a strict JSON schema response format
type OpenAIClient struct {
	client      openai.Client
	provider    string
	model       string
	maxTokens   int
	placeholder string
}

// NewOpenAIClient creates a client bound to one model. baseURL may be empty for the public API.
func NewOpenAIClient(provider, model, apiKey, baseURL string, maxTokens int, placeholder string, httpClient *http.Client) *OpenAIClient {
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

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		provider:    provider,
		model:       model,
		maxTokens:   maxTokens,
		placeholder: placeholder,
	}
}

// Name implements Client
func (c *OpenAIClient) Name() string { return qualifiedName(c.provider, c.model) }

// GenerateCommentary implements Client
func (c *OpenAIClient) GenerateCommentary(ctx context.Context, prompt Prompt) (result models.Commentary, err error) {
	ctx, span := observability.TraceAIFunction(ctx, "openai_generate_commentary",
		observability.AttributeProvider(c.provider),
		observability.AttributeModel(c.model),
	)
	defer observability.FinishSpan(span, &err)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
		MaxCompletionTokens: openai.Int(int64(c.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "answer_commentary",
					Schema: CommentarySchemaMap(),
					Strict: openai.Bool(true),
				},
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return models.Commentary{}, contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Commentary{}, contextutils.WrapError(contextutils.ErrAIResponseInvalid, "no choices in openai response")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return models.Commentary{}, contextutils.WrapError(contextutils.ErrAIResponseInvalid, "openai returned empty content")
	}

	// The schema is enforced server side; decoding still fills blanks the model left.
	commentary, _, err := DecodeCommentary(content, c.placeholder)
	return commentary, err
}
