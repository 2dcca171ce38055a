package render

import (
	"strings"

	"github.com/flitsinc/go-backlog/internal/backlog"
)

var boardSections = []struct {
	status backlog.Status
	header string
}{
	{backlog.StatusOpen, "**📋 To Do**"},
	{backlog.StatusInProgress, "**🔄 In Progress**"},
	{backlog.StatusCompleted, "**✅ Completed**"},
}

// Board renders the aggregate board of a workspace.
func Board(activities []backlog.Activity) Message {
	return Message{Embeds: []Embed{{
		Title:       boardTitle,
		Description: BoardDescription(activities),
		Color:       boardColor,
	}}}
}

// BoardDescription partitions activities by status, keeping their order
// within each partition, and truncates the result to MaxBoardDescription
// runes.
func BoardDescription(activities []backlog.Activity) string {
	parts := make(map[backlog.Status][]backlog.Activity, len(boardSections))
	for _, a := range activities {
		parts[a.Status] = append(parts[a.Status], a)
	}

	lines := make([]string, 0, len(boardSections)*3)
	for i, section := range boardSections {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, section.header)
		items := parts[section.status]
		if len(items) == 0 {
			lines = append(lines, emptySectionText)
			continue
		}
		lines = append(lines, numbered(items, func(a backlog.Activity) string { return a.Title }))
	}
	return truncateRunes(strings.Join(lines, "\n"), MaxBoardDescription)
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
