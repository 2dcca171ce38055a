package render

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flitsinc/go-backlog/internal/backlog"
)

func fieldNames(e Embed) []string {
	out := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		out[i] = f.Name
	}
	return out
}

func fieldValue(t *testing.T, e Embed, name string) string {
	t.Helper()
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	t.Fatalf("field %q not found in %v", name, fieldNames(e))
	return ""
}

func TestActivityWithoutRefinement(t *testing.T) {
	msg := Activity(ActivityView{
		ID:     "a1",
		Author: backlog.Author{Label: "jane"},
		Raw: backlog.RawFields{
			Title:            "Kit not granted",
			Description:      "After linking the account nothing happens",
			Steps:            "1. link\n2. wait",
			ExpectedVsActual: "Expected: kit | Actual: nothing",
		},
		Status: backlog.StatusOpen,
	})

	require.Len(t, msg.Embeds, 1)
	e := msg.Embeds[0]
	assert.Equal(t, "📋 To Do · Kit not granted", e.Title)
	assert.Equal(t, "After linking the account nothing happens", e.Description)
	assert.Equal(t, "Reported by jane", e.Footer)
	assert.Equal(t, []string{"📋 Steps to reproduce", "🔄 Expected vs actual"}, fieldNames(e))
	assert.Equal(t, "1. link\n2. wait", fieldValue(t, e, "📋 Steps to reproduce"))
	assert.Equal(t, "Expected: kit | Actual: nothing", fieldValue(t, e, "🔄 Expected vs actual"))
}

func TestActivityPlaceholdersAndContext(t *testing.T) {
	msg := Activity(ActivityView{
		Raw:    backlog.RawFields{Title: "t", Description: "d", Context: "Chrome"},
		Status: backlog.StatusOpen,
	})
	e := msg.Embeds[0]
	assert.Equal(t, "-", fieldValue(t, e, "📋 Steps to reproduce"))
	assert.Equal(t, "-", fieldValue(t, e, "🔄 Expected vs actual"))
	assert.Equal(t, "Chrome", fieldValue(t, e, "📍 Context"))
	assert.Equal(t, "Reported by ?", e.Footer)
}

func TestActivityWithRefinement(t *testing.T) {
	msg := Activity(ActivityView{
		Raw: backlog.RawFields{Title: "raw", Description: "raw desc"},
		Refinement: &backlog.Refinement{
			Title:              "Refined title",
			Description:        "Refined desc",
			AcceptanceCriteria: []string{"first", "second", "third"},
		},
		Status: backlog.StatusInProgress,
	})
	e := msg.Embeds[0]
	assert.Equal(t, "🔄 In Progress · Refined title", e.Title)
	assert.Equal(t, "Refined desc", e.Description)
	assert.Equal(t, "1. first\n2. second\n3. third", fieldValue(t, e, "✅ Acceptance criteria"))
	assert.Equal(t, "✅ Acceptance criteria", e.Fields[0].Name)
	assert.Equal(t, refinedNotice, fieldValue(t, e, "✨"))
}

func TestActivityEmptyCriteriaOmitsBlock(t *testing.T) {
	msg := Activity(ActivityView{
		Raw:        backlog.RawFields{Title: "raw", Description: "d"},
		Refinement: &backlog.Refinement{Title: "r", Description: "rd", AcceptanceCriteria: nil},
	})
	assert.NotContains(t, fieldNames(msg.Embeds[0]), "✅ Acceptance criteria")
	assert.Contains(t, fieldNames(msg.Embeds[0]), "✨")
}

func TestControls(t *testing.T) {
	targets := func(cs []Control) []backlog.Status {
		out := make([]backlog.Status, len(cs))
		for i, c := range cs {
			out[i] = c.Target
		}
		return out
	}
	assert.Equal(t, []backlog.Status{backlog.StatusInProgress, backlog.StatusCompleted}, targets(Controls("a", backlog.StatusOpen)))
	assert.Equal(t, []backlog.Status{backlog.StatusCompleted, backlog.StatusOpen}, targets(Controls("a", backlog.StatusInProgress)))
	assert.Equal(t, []backlog.Status{backlog.StatusInProgress, backlog.StatusOpen}, targets(Controls("a", backlog.StatusCompleted)))
	for _, c := range Controls("a1", backlog.StatusCompleted) {
		assert.Equal(t, "a1", c.ActivityID)
	}
}

func TestFromActivityMatchesSubmissionRender(t *testing.T) {
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	raw := backlog.RawFields{Title: "raw", Description: "raw d", Steps: "s", ExpectedVsActual: "e", Context: "ctx"}
	ref := &backlog.Refinement{Title: "T", Description: "D", AcceptanceCriteria: []string{"c1", "c2"}}

	atSubmit := Activity(ActivityView{ID: "a1", Author: backlog.Author{ID: "u1", Label: "bob"}, Raw: raw, Refinement: ref, Status: backlog.StatusOpen, CreatedAt: created})
	stored := backlog.Activity{
		ID: "a1", WorkspaceID: "ws", Title: "T", Description: "D", AcceptanceCriteria: []string{"c1", "c2"},
		Steps: "s", ExpectedVsActual: "e", Context: "ctx", Status: backlog.StatusOpen,
		AuthorID: "u1", AuthorLabel: "bob", CreatedAt: created,
	}
	assert.Equal(t, atSubmit, FromActivity(stored))

	stored.AcceptanceCriteria = []string{}
	stored.Status = backlog.StatusCompleted
	rebuilt := FromActivity(stored)
	assert.NotContains(t, fieldNames(rebuilt.Embeds[0]), "✨")
	assert.NotContains(t, fieldNames(rebuilt.Embeds[0]), "✅ Acceptance criteria")
	assert.True(t, strings.HasPrefix(rebuilt.Embeds[0].Title, "✅ Completed · "))
}

func TestBoardDescription(t *testing.T) {
	acts := []backlog.Activity{
		{ID: "1", Title: "first", Status: backlog.StatusOpen},
		{ID: "2", Title: "second", Status: backlog.StatusCompleted},
		{ID: "3", Title: "third", Status: backlog.StatusOpen},
	}
	want := strings.Join([]string{
		"**📋 To Do**",
		"1. first\n2. third",
		"",
		"**🔄 In Progress**",
		"_None_",
		"",
		"**✅ Completed**",
		"1. second",
	}, "\n")
	assert.Equal(t, want, BoardDescription(acts))

	msg := Board(acts)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, boardTitle, msg.Embeds[0].Title)
	assert.Empty(t, msg.Controls)
}

func TestBoardIsDeterministic(t *testing.T) {
	acts := []backlog.Activity{
		{ID: "1", Title: "a", Status: backlog.StatusInProgress},
		{ID: "2", Title: "b", Status: backlog.StatusOpen},
	}
	first := Board(acts)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Board(acts))
	}
}

func TestBoardTruncatesByRunes(t *testing.T) {
	var acts []backlog.Activity
	for i := 0; i < 400; i++ {
		acts = append(acts, backlog.Activity{ID: fmt.Sprint(i), Title: "ação número " + strings.Repeat("é", 10), Status: backlog.StatusOpen})
	}
	desc := BoardDescription(acts)
	assert.Equal(t, MaxBoardDescription, utf8.RuneCountInString(desc))
	assert.True(t, utf8.ValidString(desc))
}
