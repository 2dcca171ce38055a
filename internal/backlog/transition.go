package backlog

import (
	"context"
	"fmt"
)

// StatusUpdater persists a status change for an activity scoped to a
// workspace. It returns ErrNotFound when no such activity exists.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id, workspaceID string, status Status) (Activity, error)
}

// ApplyTransition moves an activity to target. Any status may move to any
// other; the workspace scope keeps one workspace from driving another's
// activities. Rendering and sink updates are left to the caller.
func ApplyTransition(ctx context.Context, store StatusUpdater, activityID, workspaceID string, target Status) (Activity, error) {
	if !target.Valid() {
		return Activity{}, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	if activityID == "" || workspaceID == "" {
		return Activity{}, ErrNotFound
	}
	return store.UpdateStatus(ctx, activityID, workspaceID, target)
}
