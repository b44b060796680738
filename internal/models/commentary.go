package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// LogicalSlot names a storage position for one text-generation role, e.g. "claude".
// The concrete service that answered is recorded separately as ActualProvider.
type LogicalSlot string

// ProviderStatus is the outcome of one slot for one question
type ProviderStatus string

const (
	// ProviderStatusCompleted means the slot returned usable commentary
	ProviderStatusCompleted ProviderStatus = "completed"
	// ProviderStatusFailed means every field holds an error-marked placeholder
	ProviderStatusFailed ProviderStatus = "failed"
)

// Commentary is the structured answer every provider must produce
type Commentary struct {
	GeneralComment string `json:"general_comment"`
	CommentA       string `json:"comment_a"`
	CommentB       string `json:"comment_b"`
	CommentC       string `json:"comment_c"`
	CommentD       string `json:"comment_d"`
	CommentE       string `json:"comment_e"`
}

// OptionComment returns the comment for an option letter
func (c *Commentary) OptionComment(letter string) string {
	switch letter {
	case "A":
		return c.CommentA
	case "B":
		return c.CommentB
	case "C":
		return c.CommentC
	case "D":
		return c.CommentD
	case "E":
		return c.CommentE
	}
	return ""
}

func (c *Commentary) fields() []*string {
	return []*string{&c.GeneralComment, &c.CommentA, &c.CommentB, &c.CommentC, &c.CommentD, &c.CommentE}
}

// FillMissing replaces every empty field with placeholder and reports how many were filled
func (c *Commentary) FillMissing(placeholder string) int {
	filled := 0
	for _, f := range c.fields() {
		if strings.TrimSpace(*f) == "" {
			*f = placeholder
			filled++
		}
	}
	return filled
}

// ErrorCommentary builds a commentary whose every field is "<marker> <message>"
func ErrorCommentary(marker, message string) Commentary {
	text := fmt.Sprintf("%s %s", marker, message)
	return Commentary{
		GeneralComment: text,
		CommentA:       text,
		CommentB:       text,
		CommentC:       text,
		CommentD:       text,
		CommentE:       text,
	}
}

// ProviderCommentary is the stored result of one logical slot
type ProviderCommentary struct {
	Slot             LogicalSlot    `json:"slot"`
	ActualProvider   string         `json:"actual_provider"`
	ProcessingStatus ProviderStatus `json:"processing_status"`
	Commentary
}

// Completed reports whether the slot produced usable commentary
func (p *ProviderCommentary) Completed() bool {
	return p != nil && p.ProcessingStatus == ProviderStatusCompleted
}

// ProviderMap maps each configured slot to its result, nil where the slot produced nothing.
// It is stored as a single JSONB column so all slots are written in one statement.
type ProviderMap map[LogicalSlot]*ProviderCommentary

// Value implements driver.Valuer
func (m ProviderMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[LogicalSlot]*ProviderCommentary(m))
}

// Scan implements sql.Scanner
func (m *ProviderMap) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = ProviderMap{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ProviderMap", src)
	}

	decoded := map[LogicalSlot]*ProviderCommentary{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	for slot, pc := range decoded {
		if pc != nil && pc.Slot == "" {
			pc.Slot = slot
		}
	}
	*m = decoded
	return nil
}

// AnswerCommentarySet is the single commentary row of a question
type AnswerCommentarySet struct {
	QuestionID int64       `json:"question_id"`
	Providers  ProviderMap `json:"providers"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// HasErrorMarker reports whether any stored general comment carries the error marker
func (s *AnswerCommentarySet) HasErrorMarker(marker string) bool {
	if s == nil || marker == "" {
		return false
	}
	for _, pc := range s.Providers {
		if pc != nil && strings.Contains(pc.GeneralComment, marker) {
			return true
		}
	}
	return false
}

// CompletedOnly filters a provider map down to completed results ordered by slot name
func CompletedOnly(m ProviderMap) []ProviderCommentary {
	slots := make([]string, 0, len(m))
	for slot := range m {
		slots = append(slots, string(slot))
	}
	sort.Strings(slots)

	out := make([]ProviderCommentary, 0, len(slots))
	for _, slot := range slots {
		if pc := m[LogicalSlot(slot)]; pc.Completed() {
			out = append(out, *pc)
		}
	}
	return out
}

// CommentarySummary is the synthesized commentary of a question
type CommentarySummary struct {
	QuestionID  int64     `json:"question_id"`
	SourceSlots []string  `json:"source_slots"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Commentary
}
