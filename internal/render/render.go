// Package render turns backlog state into presentation payloads. Everything
// here is pure: the same input always yields the same Message.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/flitsinc/go-backlog/internal/backlog"
)

// MaxBoardDescription is the hard cap on the board description, in runes.
const MaxBoardDescription = 4096

const (
	emptyFieldPlaceholder = "-"
	emptySectionText      = "_None_"
	refinedNotice         = "Text refined with AI into Scrum format."

	boardTitle = "📌 Backlog — Activity list"
	boardColor = 0x3498DB
)

// Message is a sink-neutral rendered message.
type Message struct {
	Embeds   []Embed   `json:"embeds"`
	Controls []Control `json:"controls,omitempty"`
}

type Embed struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Color       int       `json:"color"`
	Fields      []Field   `json:"fields,omitempty"`
	Footer      string    `json:"footer,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type ControlStyle int

const (
	StylePrimary ControlStyle = iota
	StyleSecondary
	StyleSuccess
)

// Control asks for one activity to move to Target.
type Control struct {
	ActivityID string         `json:"activity_id"`
	Target     backlog.Status `json:"target"`
	Label      string         `json:"label"`
	Style      ControlStyle   `json:"style"`
}

// StatusLabel is the human label for a status, used in headlines.
func StatusLabel(s backlog.Status) string {
	switch s {
	case backlog.StatusInProgress:
		return "🔄 In Progress"
	case backlog.StatusCompleted:
		return "✅ Completed"
	default:
		return "📋 To Do"
	}
}

func StatusColor(s backlog.Status) int {
	switch s {
	case backlog.StatusInProgress:
		return 0xF39C12
	case backlog.StatusCompleted:
		return 0x27AE60
	default:
		return 0xE74C3C
	}
}

// ActivityView is everything needed to render one activity message.
type ActivityView struct {
	ID         string
	Author     backlog.Author
	Raw        backlog.RawFields
	Refinement *backlog.Refinement
	Status     backlog.Status
	CreatedAt  time.Time
}

// Activity renders a single activity with the status controls that apply to
// it.
func Activity(v ActivityView) Message {
	title := v.Refinement.TitleOr(v.Raw.Title)
	embed := Embed{
		Title:       fmt.Sprintf("%s · %s", StatusLabel(v.Status), title),
		Description: v.Refinement.DescriptionOr(v.Raw.Description),
		Color:       StatusColor(v.Status),
		Footer:      "Reported by " + orDefault(v.Author.Label, "?"),
		Timestamp:   v.CreatedAt,
	}

	if criteria := v.Refinement.Criteria(); len(criteria) > 0 {
		embed.Fields = append(embed.Fields, Field{
			Name:  "✅ Acceptance criteria",
			Value: numbered(criteria, func(c string) string { return c }),
		})
	}

	embed.Fields = append(embed.Fields,
		Field{Name: "📋 Steps to reproduce", Value: orDefault(v.Raw.Steps, emptyFieldPlaceholder)},
		Field{Name: "🔄 Expected vs actual", Value: orDefault(v.Raw.ExpectedVsActual, emptyFieldPlaceholder)},
	)

	if strings.TrimSpace(v.Raw.Context) != "" {
		embed.Fields = append(embed.Fields, Field{Name: "📍 Context", Value: v.Raw.Context, Inline: true})
	}

	if v.Refinement != nil {
		embed.Fields = append(embed.Fields, Field{Name: "✨", Value: refinedNotice})
	}

	return Message{Embeds: []Embed{embed}, Controls: Controls(v.ID, v.Status)}
}

// FromActivity rebuilds the activity message from the persisted record
// alone. Stored acceptance criteria imply the text was refined.
func FromActivity(a backlog.Activity) Message {
	var refinement *backlog.Refinement
	if a.Refined() {
		refinement = &backlog.Refinement{
			Title:              a.Title,
			Description:        a.Description,
			AcceptanceCriteria: a.AcceptanceCriteria,
		}
	}
	return Activity(ActivityView{
		ID:     a.ID,
		Author: backlog.Author{ID: a.AuthorID, Label: a.AuthorLabel},
		Raw: backlog.RawFields{
			Title:            a.Title,
			Description:      a.Description,
			Steps:            a.Steps,
			ExpectedVsActual: a.ExpectedVsActual,
			Context:          a.Context,
		},
		Refinement: refinement,
		Status:     a.Status,
		CreatedAt:  a.CreatedAt,
	})
}

// Controls returns the status controls for an activity: every status other
// than the current one, with "back to open" whenever it is not open.
func Controls(activityID string, status backlog.Status) []Control {
	var out []Control
	if status != backlog.StatusInProgress {
		out = append(out, Control{ActivityID: activityID, Target: backlog.StatusInProgress, Label: "In progress", Style: StylePrimary})
	}
	if status != backlog.StatusCompleted {
		out = append(out, Control{ActivityID: activityID, Target: backlog.StatusCompleted, Label: "Completed", Style: StyleSuccess})
	}
	if status != backlog.StatusOpen {
		out = append(out, Control{ActivityID: activityID, Target: backlog.StatusOpen, Label: "Back to To Do", Style: StyleSecondary})
	}
	return out
}

func numbered[T any](items []T, text func(T) string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, text(item))
	}
	return strings.Join(lines, "\n")
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
