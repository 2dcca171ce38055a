package eventbus

import "time"

// Event is one persisted lifecycle event.
type Event struct {
	ID          string         `json:"id"`
	Stream      string         `json:"stream"`
	WorkspaceID string         `json:"workspace_id"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type EventInput struct {
	Stream      string
	WorkspaceID string
	Subject     string
	Body        string
	Payload     map[string]any
}

type ListOptions struct {
	WorkspaceID string
	Limit       int
	Order       string
}
