package services

import (
	"embed"
	"strings"
	"text/template"

	"commentaryapp/internal/models"
	"commentaryapp/internal/services/providers"
	contextutils "commentaryapp/internal/utils"
)

//go:embed templates/*.tmpl
var commentaryTemplatesFS embed.FS

// Template names as constants
const (
	CommentarySystemTemplate = "commentary_system.tmpl"
	CommentaryPromptTemplate = "commentary_prompt.tmpl"
	SynthesisSystemTemplate  = "synthesis_system.tmpl"
	SynthesisPromptTemplate  = "synthesis_prompt.tmpl"
)

// Word limits requested from the models
const (
	CommentaryGeneralWordLimit = 100
	SynthesisGeneralWordLimit  = 150
	OptionWordLimit            = 50
)

// CommentaryTemplateData holds data for rendering prompt templates
type CommentaryTemplateData struct {
	QuestionText   string
	Subject        string
	Note           string
	CorrectAnswer  string
	Options        []models.QuestionOption
	MissingLetters []string
	Placeholder    string

	GeneralWordLimit int
	OptionWordLimit  int

	// Synthesis specific
	Sources []*models.ProviderCommentary
	Letters []string
}

// CommentaryTemplateManager renders the embedded prompt templates
type CommentaryTemplateManager struct {
	templates *template.Template
}

// NewCommentaryTemplateManager parses the embedded templates
func NewCommentaryTemplateManager() (*CommentaryTemplateManager, error) {
	templates, err := template.New("").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(commentaryTemplatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to parse prompt templates: %w", err)
	}
	return &CommentaryTemplateManager{templates: templates}, nil
}

// RenderTemplate renders a template with the given data
func (tm *CommentaryTemplateManager) RenderTemplate(name string, data CommentaryTemplateData) (string, error) {
	var buf strings.Builder
	if err := tm.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func baseTemplateData(q *models.QuestionRecord, placeholder string) CommentaryTemplateData {
	data := CommentaryTemplateData{
		QuestionText:    q.QuestionText,
		CorrectAnswer:   q.CorrectAnswer,
		Options:         q.Options(),
		Placeholder:     placeholder,
		OptionWordLimit: OptionWordLimit,
		Letters:         models.OptionLetters,
	}
	if q.Subject.Valid {
		data.Subject = q.Subject.String
	}
	if q.Note.Valid {
		data.Note = q.Note.String
	}
	for _, letter := range models.OptionLetters {
		if q.Option(letter) == "" {
			data.MissingLetters = append(data.MissingLetters, letter)
		}
	}
	return data
}

// CommentaryPrompt renders the per-provider commentary request for a question
func (tm *CommentaryTemplateManager) CommentaryPrompt(q *models.QuestionRecord, placeholder string) (providers.Prompt, error) {
	data := baseTemplateData(q, placeholder)
	data.GeneralWordLimit = CommentaryGeneralWordLimit
	return tm.render(CommentarySystemTemplate, CommentaryPromptTemplate, data)
}

// SynthesisPrompt renders the summary request merging the given completed results
func (tm *CommentaryTemplateManager) SynthesisPrompt(q *models.QuestionRecord, sources []models.ProviderCommentary, placeholder string) (providers.Prompt, error) {
	data := baseTemplateData(q, placeholder)
	data.GeneralWordLimit = SynthesisGeneralWordLimit
	data.Sources = make([]*models.ProviderCommentary, len(sources))
	for i := range sources {
		data.Sources[i] = &sources[i]
	}
	return tm.render(SynthesisSystemTemplate, SynthesisPromptTemplate, data)
}

func (tm *CommentaryTemplateManager) render(systemName, userName string, data CommentaryTemplateData) (providers.Prompt, error) {
	system, err := tm.RenderTemplate(systemName, data)
	if err != nil {
		return providers.Prompt{}, err
	}
	user, err := tm.RenderTemplate(userName, data)
	if err != nil {
		return providers.Prompt{}, err
	}
	return providers.Prompt{System: system, User: user, Grammar: CommentaryGrammar}, nil
}

// CommentaryGrammar is a GBNF grammar for servers that constrain output with one
const CommentaryGrammar = `root ::= "{" ws "\"general_comment\":" ws string "," ws "\"comment_a\":" ws string "," ws "\"comment_b\":" ws string "," ws "\"comment_c\":" ws string "," ws "\"comment_d\":" ws string "," ws "\"comment_e\":" ws string ws "}"
string ::= "\"" ( [^"\\] | "\\" (["\\/bfnrt] | "u" [0-9a-fA-F]{4}) )* "\""
ws ::= [ \t\n]*`
