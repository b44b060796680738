package providers

import (
	"testing"

	"commentaryapp/internal/models"
	contextutils "commentaryapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const placeholder = "Kein Kommentar verfügbar."

const fullAnswer = `{"general_comment":"B ist korrekt.","comment_a":"a","comment_b":"b","comment_c":"c","comment_d":"d","comment_e":"e"}`

func TestDecodeCommentary(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantFilled int
		wantGen    string
		wantE      string
	}{
		{name: "plain json", raw: fullAnswer, wantGen: "B ist korrekt.", wantE: "e"},
		{name: "json fence", raw: "```json\n" + fullAnswer + "\n```", wantGen: "B ist korrekt.", wantE: "e"},
		{name: "bare fence", raw: "```\n" + fullAnswer + "\n```", wantGen: "B ist korrekt.", wantE: "e"},
		{name: "surrounding prose", raw: "Hier ist die Antwort:\n" + fullAnswer + "\nViel Erfolg!", wantGen: "B ist korrekt.", wantE: "e"},
		{
			name:       "missing fields are filled",
			raw:        `{"general_comment":"ok","comment_a":"a"}`,
			wantFilled: 4,
			wantGen:    "ok",
			wantE:      placeholder,
		},
		{
			name:       "blank fields are filled",
			raw:        `{"general_comment":"  ","comment_a":"a","comment_b":"b","comment_c":"c","comment_d":"d","comment_e":"e"}`,
			wantFilled: 1,
			wantGen:    placeholder,
			wantE:      "e",
		},
		{
			name:    "unknown fields are ignored",
			raw:     `{"general_comment":"g","comment_a":"a","comment_b":"b","comment_c":"c","comment_d":"d","comment_e":"e","comment_f":"f"}`,
			wantGen: "g",
			wantE:   "e",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, filled, err := DecodeCommentary(tt.raw, placeholder)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFilled, filled)
			assert.Equal(t, tt.wantGen, c.GeneralComment)
			assert.Equal(t, tt.wantE, c.CommentE)
		})
	}
}

func TestDecodeCommentary_Errors(t *testing.T) {
	for name, raw := range map[string]string{
		"no object":    "Ich kann diese Frage nicht beantworten.",
		"broken json":  `{"general_comment": "unterminated}`,
		"empty string": "",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeCommentary(raw, placeholder)
			require.Error(t, err)
			assert.ErrorIs(t, err, contextutils.ErrAIResponseInvalid)
		})
	}
}

func TestDecodeCommentary_EmptyPlaceholderFailsSchema(t *testing.T) {
	_, filled, err := DecodeCommentary(`{"general_comment":"g"}`, "")
	require.Error(t, err)
	assert.Equal(t, 5, filled)
	assert.ErrorIs(t, err, contextutils.ErrAIResponseInvalid)
}

func TestValidateCommentary(t *testing.T) {
	ok := models.Commentary{GeneralComment: "g", CommentA: "a", CommentB: "b", CommentC: "c", CommentD: "d", CommentE: "e"}
	assert.NoError(t, ValidateCommentary(ok))

	bad := ok
	bad.CommentC = ""
	err := ValidateCommentary(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "comment_c")
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("  {\"a\":1}  "))
}

func TestCommentarySchemaMap(t *testing.T) {
	m := CommentarySchemaMap()
	assert.Equal(t, "object", m["type"])
	assert.Equal(t, false, m["additionalProperties"])
	required, ok := m["required"].([]interface{})
	require.True(t, ok)
	assert.Len(t, required, 6)
}
