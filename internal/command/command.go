// Package command encodes and decodes the identifiers attached to status
// controls. Decoding happens once at the boundary so the rest of the
// system only ever sees a typed Command.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flitsinc/go-backlog/internal/backlog"
)

const prefix = "backlog_"

// ErrUnrecognized is returned for identifiers that are not status controls.
var ErrUnrecognized = errors.New("unrecognized control identifier")

// Command asks for an activity to move to Target.
type Command struct {
	ActivityID string
	Target     backlog.Status
}

// Encode renders c as backlog_<activity id>_<status>.
func Encode(c Command) string {
	return prefix + c.ActivityID + "_" + string(c.Target)
}

// Decode parses an identifier produced by Encode. Status names may contain
// underscores, so the status is matched as a known suffix.
func Decode(id string) (Command, error) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnrecognized, id)
	}
	for _, status := range []backlog.Status{backlog.StatusInProgress, backlog.StatusCompleted, backlog.StatusOpen} {
		activityID, ok := strings.CutSuffix(rest, "_"+string(status))
		if ok && activityID != "" {
			return Command{ActivityID: activityID, Target: status}, nil
		}
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnrecognized, id)
}
