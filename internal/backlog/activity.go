// Package backlog holds the domain model shared by the store, renderer and
// sync engine: activities, the per-workspace board pointer record and the
// status lifecycle.
package backlog

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an activity.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Statuses lists every valid status in board order.
var Statuses = []Status{StatusOpen, StatusInProgress, StatusCompleted}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus validates a raw status string coming from a caller.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// Activity is one tracked backlog item. Only Status and MessageID change
// after creation.
type Activity struct {
	ID                 string    `json:"id"`
	WorkspaceID        string    `json:"workspaceId"`
	ChannelID          string    `json:"channelId,omitempty"`
	MessageID          string    `json:"messageId,omitempty"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	AcceptanceCriteria []string  `json:"acceptanceCriteria"`
	Steps              string    `json:"steps"`
	ExpectedVsActual   string    `json:"expectedVsActual"`
	Context            string    `json:"context,omitempty"`
	Status             Status    `json:"status"`
	AuthorID           string    `json:"authorId"`
	AuthorLabel        string    `json:"authorLabel"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Refined reports whether the stored text came from a refinement pass.
func (a Activity) Refined() bool {
	return len(a.AcceptanceCriteria) > 0
}

// Author identifies whoever submitted an activity.
type Author struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// RawFields are the fields exactly as submitted.
type RawFields struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Steps            string `json:"steps"`
	ExpectedVsActual string `json:"expected_vs_actual"`
	Context          string `json:"context,omitempty"`
}

// Refinement is the structured rewrite returned by the refinement service.
type Refinement struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// TitleOr returns the refined title, or fallback when r is nil or blank.
func (r *Refinement) TitleOr(fallback string) string {
	if r == nil || strings.TrimSpace(r.Title) == "" {
		return fallback
	}
	return r.Title
}

// DescriptionOr returns the refined description, or fallback when r is nil
// or blank.
func (r *Refinement) DescriptionOr(fallback string) string {
	if r == nil || strings.TrimSpace(r.Description) == "" {
		return fallback
	}
	return r.Description
}

// Criteria returns the refined acceptance criteria, never nil.
func (r *Refinement) Criteria() []string {
	if r == nil || len(r.AcceptanceCriteria) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(r.AcceptanceCriteria))
	for _, c := range r.AcceptanceCriteria {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
