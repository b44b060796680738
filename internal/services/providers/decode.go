package providers

import (
	"encoding/json"
	"strings"
	"sync"

	"commentaryapp/internal/models"
	contextutils "commentaryapp/internal/utils"

	"github.com/xeipuuv/gojsonschema"
)

// CommentarySchema is the JSON schema every provider answer must satisfy
const CommentarySchema = `{
  "type": "object",
  "properties": {
    "general_comment": {"type": "string", "minLength": 1},
    "comment_a": {"type": "string", "minLength": 1},
    "comment_b": {"type": "string", "minLength": 1},
    "comment_c": {"type": "string", "minLength": 1},
    "comment_d": {"type": "string", "minLength": 1},
    "comment_e": {"type": "string", "minLength": 1}
  },
  "required": ["general_comment", "comment_a", "comment_b", "comment_c", "comment_d", "comment_e"],
  "additionalProperties": false
}`

var commentaryFields = []string{"general_comment", "comment_a", "comment_b", "comment_c", "comment_d", "comment_e"}

var (
	compiledSchema     *gojsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func commentarySchema() (*gojsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiledSchema, compiledSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(CommentarySchema))
	})
	return compiledSchema, compiledSchemaErr
}

// CommentarySchemaMap returns the schema as a generic map for SDKs that take one
func CommentarySchemaMap() map[string]interface{} {
	var m map[string]interface{}
	_ = json.Unmarshal([]byte(CommentarySchema), &m)
	return m
}

// StripCodeFences removes a surrounding markdown code block, with or without a language tag
func StripCodeFences(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimSuffix(response, "```")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
	}
	return strings.TrimSpace(response)
}

// extractObject cuts the text down to its outermost JSON object
func extractObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// DecodeCommentary parses a raw model answer, repairing what it can.
// Fences and surrounding prose are dropped and missing or empty fields get the placeholder.
// The returned count says how many fields were filled in.
func DecodeCommentary(raw, placeholder string) (models.Commentary, int, error) {
	text, ok := extractObject(StripCodeFences(raw))
	if !ok {
		return models.Commentary{}, 0, contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "no JSON object in response: %.200s", raw)
	}

	var c models.Commentary
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return models.Commentary{}, 0, contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "failed to parse commentary JSON: %w", err)
	}

	filled := c.FillMissing(placeholder)
	if err := ValidateCommentary(c); err != nil {
		return models.Commentary{}, filled, err
	}
	return c, filled, nil
}

// ValidateCommentary checks a commentary against CommentarySchema
func ValidateCommentary(c models.Commentary) error {
	schema, err := commentarySchema()
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrInternalError, "invalid commentary schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(c))
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "commentary does not match schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
