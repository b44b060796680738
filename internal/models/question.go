// Package models defines data structures used throughout the commentary service.
package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// CommentaryStatus is the enrichment state of a question
type CommentaryStatus string

const (
	// CommentaryStatusNone is for questions never queued for commentary
	CommentaryStatusNone CommentaryStatus = "none"
	// CommentaryStatusPending is set externally when a question is created or edited
	CommentaryStatusPending CommentaryStatus = "pending"
	// CommentaryStatusProcessing marks a question claimed by a running invocation
	CommentaryStatusProcessing CommentaryStatus = "processing"
	// CommentaryStatusCompleted is terminal after one full attempt
	CommentaryStatusCompleted CommentaryStatus = "completed"
	// CommentaryStatusFailed is terminal when the per-question boundary caught an error
	CommentaryStatusFailed CommentaryStatus = "failed"
)

// AllCommentaryStatuses lists every status in lifecycle order
var AllCommentaryStatuses = []CommentaryStatus{
	CommentaryStatusNone,
	CommentaryStatusPending,
	CommentaryStatusProcessing,
	CommentaryStatusCompleted,
	CommentaryStatusFailed,
}

// Valid reports whether s is one of the known statuses
func (s CommentaryStatus) Valid() bool {
	for _, known := range AllCommentaryStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// OptionLetters are the answer option keys in display order
var OptionLetters = []string{"A", "B", "C", "D", "E"}

// QuestionRecord represents an exam question as stored in the questions table
type QuestionRecord struct {
	ID               int64            `json:"id" yaml:"id"`
	QuestionText     string           `json:"question_text" yaml:"question_text"`
	OptionA          sql.NullString   `json:"option_a" yaml:"option_a"`
	OptionB          sql.NullString   `json:"option_b" yaml:"option_b"`
	OptionC          sql.NullString   `json:"option_c" yaml:"option_c"`
	OptionD          sql.NullString   `json:"option_d" yaml:"option_d"`
	OptionE          sql.NullString   `json:"option_e" yaml:"option_e"`
	CorrectAnswer    string           `json:"correct_answer" yaml:"correct_answer"`
	Subject          sql.NullString   `json:"subject" yaml:"subject"`
	Note             sql.NullString   `json:"note" yaml:"note"`
	CommentaryStatus CommentaryStatus `json:"commentary_status" yaml:"commentary_status"`
	QueuedAt         sql.NullTime     `json:"queued_at" yaml:"queued_at"`
	ClaimedAt        sql.NullTime     `json:"claimed_at" yaml:"claimed_at"`
	ProcessedAt      sql.NullTime     `json:"processed_at" yaml:"processed_at"`
}

// Option returns the text of the option with the given letter, or "" when absent
func (q *QuestionRecord) Option(letter string) string {
	var v sql.NullString
	switch letter {
	case "A":
		v = q.OptionA
	case "B":
		v = q.OptionB
	case "C":
		v = q.OptionC
	case "D":
		v = q.OptionD
	case "E":
		v = q.OptionE
	}
	if !v.Valid {
		return ""
	}
	return v.String
}

// QuestionOption is one present answer option
type QuestionOption struct {
	Letter string
	Text   string
}

// Options returns the non-empty options in letter order
func (q *QuestionRecord) Options() []QuestionOption {
	opts := make([]QuestionOption, 0, len(OptionLetters))
	for _, letter := range OptionLetters {
		if text := q.Option(letter); text != "" {
			opts = append(opts, QuestionOption{Letter: letter, Text: text})
		}
	}
	return opts
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}

// MarshalJSON customizes JSON marshaling for QuestionRecord to handle sql.Null* fields properly
func (q QuestionRecord) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID               int64            `json:"id"`
		QuestionText     string           `json:"question_text"`
		OptionA          *string          `json:"option_a"`
		OptionB          *string          `json:"option_b"`
		OptionC          *string          `json:"option_c"`
		OptionD          *string          `json:"option_d"`
		OptionE          *string          `json:"option_e"`
		CorrectAnswer    string           `json:"correct_answer"`
		Subject          *string          `json:"subject"`
		Note             *string          `json:"note"`
		CommentaryStatus CommentaryStatus `json:"commentary_status"`
		QueuedAt         *time.Time       `json:"queued_at"`
		ClaimedAt        *time.Time       `json:"claimed_at"`
		ProcessedAt      *time.Time       `json:"processed_at"`
	}{
		ID:               q.ID,
		QuestionText:     q.QuestionText,
		OptionA:          nullStringPtr(q.OptionA),
		OptionB:          nullStringPtr(q.OptionB),
		OptionC:          nullStringPtr(q.OptionC),
		OptionD:          nullStringPtr(q.OptionD),
		OptionE:          nullStringPtr(q.OptionE),
		CorrectAnswer:    q.CorrectAnswer,
		Subject:          nullStringPtr(q.Subject),
		Note:             nullStringPtr(q.Note),
		CommentaryStatus: q.CommentaryStatus,
		QueuedAt:         nullTimePtr(q.QueuedAt),
		ClaimedAt:        nullTimePtr(q.ClaimedAt),
		ProcessedAt:      nullTimePtr(q.ProcessedAt),
	})
}
