package eventbus

import "strings"

const (
	StreamActivities = "activities"
	StreamBoard      = "board"
	StreamSyncErrors = "sync_errors"
)

// Streams lists every stream the service writes to.
var Streams = []string{StreamActivities, StreamBoard, StreamSyncErrors}

// globalScope is the workspace recorded for events that belong to none.
const globalScope = "*"

// DefaultOrder returns "fifo" or "lifo" for a stream. Activity history reads
// oldest first; everything else newest first.
func DefaultOrder(stream string) string {
	if strings.TrimSpace(stream) == StreamActivities {
		return "fifo"
	}
	return "lifo"
}
