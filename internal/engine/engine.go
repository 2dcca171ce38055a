// Package engine keeps activity and board messages in step with the store.
//
// Every sink call is independent: a failure on one sink is reported in its
// SinkResult and never stops the others. Board references are only replaced
// when a sink answers that the referenced message is definitively gone.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/flitsinc/go-backlog/internal/backlog"
	"github.com/flitsinc/go-backlog/internal/eventbus"
	"github.com/flitsinc/go-backlog/internal/idgen"
	"github.com/flitsinc/go-backlog/internal/observability"
	"github.com/flitsinc/go-backlog/internal/render"
	"github.com/flitsinc/go-backlog/internal/state"
)

const (
	SinkChannel = "channel"
	SinkWebhook = "webhook"

	defaultSinkTimeout   = 10 * time.Second
	defaultRefineTimeout = 20 * time.Second
)

// ChannelSink publishes into a persistent channel. Fetch returns nil when
// the message exists and an error wrapping backlog.ErrMessageNotFound when
// it is definitively gone.
type ChannelSink interface {
	Send(ctx context.Context, channelID string, msg render.Message) (string, error)
	Fetch(ctx context.Context, channelID, messageID string) error
	Edit(ctx context.Context, channelID, messageID string, msg render.Message) error
	Delete(ctx context.Context, channelID, messageID string) error
}

// WebhookSink publishes through a single external webhook.
type WebhookSink interface {
	Create(ctx context.Context, msg render.Message) (string, error)
	Edit(ctx context.Context, messageID string, msg render.Message) error
}

// Refiner returns nil when no refinement is available.
type Refiner interface {
	Refine(ctx context.Context, raw backlog.RawFields) *backlog.Refinement
}

type Publisher interface {
	Push(ctx context.Context, input eventbus.EventInput) (eventbus.Event, error)
}

type Options struct {
	Store *state.Store
	// Channel and Webhook are nil when the sink is not configured.
	Channel ChannelSink
	Webhook WebhookSink
	Refiner Refiner
	Bus     Publisher
	Logger  *slog.Logger

	// DefaultChannelID takes precedence over the submitting channel for
	// activity messages and is the board fallback.
	DefaultChannelID string
	SinkTimeout      time.Duration
	RefineTimeout    time.Duration

	Now   func() time.Time
	NewID func() string
}

type Engine struct {
	store          *state.Store
	channel        ChannelSink
	webhook        WebhookSink
	refiner        Refiner
	bus            Publisher
	logger         *slog.Logger
	defaultChannel string
	sinkTimeout    time.Duration
	refineTimeout  time.Duration
	now            func() time.Time
	newID          func() string

	mu         sync.Mutex
	boardLocks map[string]*sync.Mutex
}

func New(opts Options) *Engine {
	e := &Engine{
		store:          opts.Store,
		channel:        opts.Channel,
		webhook:        opts.Webhook,
		refiner:        opts.Refiner,
		bus:            opts.Bus,
		logger:         opts.Logger,
		defaultChannel: opts.DefaultChannelID,
		sinkTimeout:    opts.SinkTimeout,
		refineTimeout:  opts.RefineTimeout,
		now:            opts.Now,
		newID:          opts.NewID,
		boardLocks:     map[string]*sync.Mutex{},
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.sinkTimeout <= 0 {
		e.sinkTimeout = defaultSinkTimeout
	}
	if e.refineTimeout <= 0 {
		e.refineTimeout = defaultRefineTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = idgen.New
	}
	return e
}

// Outcome is what a single sink step did.
type Outcome string

const (
	OutcomeDisabled  Outcome = "disabled"
	OutcomeCreated   Outcome = "created"
	OutcomeEdited    Outcome = "edited"
	OutcomeRecreated Outcome = "recreated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// SinkResult reports one sink step. MessageID is the reference held after
// the step: unchanged when an edit or probe failed, empty when a create
// failed. Stale is set when the previous reference pointed at a message
// that no longer exists.
type SinkResult struct {
	Sink      string
	Outcome   Outcome
	MessageID string
	Stale     bool
	Err       error
}

func (r SinkResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Sink      string  `json:"sink"`
		Outcome   Outcome `json:"outcome"`
		MessageID string  `json:"message_id,omitempty"`
		Error     string  `json:"error,omitempty"`
	}{Sink: r.Sink, Outcome: r.Outcome, MessageID: r.MessageID}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Changed reports whether the step produced a new message reference.
func (r SinkResult) Changed() bool {
	return r.Outcome == OutcomeCreated || r.Outcome == OutcomeRecreated
}

// replacesReference reports whether the stored reference must be
// overwritten with MessageID, including the empty id left by a failed
// recreate.
func (r SinkResult) replacesReference() bool {
	return r.Changed() || r.Stale
}

type BoardResult struct {
	WorkspaceID string        `json:"workspace_id"`
	Board       backlog.Board `json:"board"`
	Channel     SinkResult    `json:"channel"`
	Webhook     SinkResult    `json:"webhook"`
}

// HasSink reports whether a channel sink can be used with the given
// submitting channel, or whether a webhook is configured.
func (e *Engine) HasSink(channelID string) bool {
	return e.activityChannel(channelID) != "" || e.webhook != nil
}

func (e *Engine) activityChannel(submitChannel string) string {
	if e.channel == nil {
		return ""
	}
	if e.defaultChannel != "" {
		return e.defaultChannel
	}
	return submitChannel
}

func (e *Engine) boardLock(workspaceID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.boardLocks[workspaceID]
	if !ok {
		l = &sync.Mutex{}
		e.boardLocks[workspaceID] = l
	}
	return l
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.sinkTimeout)
}

func (e *Engine) publish(ctx context.Context, stream, workspaceID, subject, body string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	if _, err := e.bus.Push(ctx, eventbus.EventInput{
		Stream:      stream,
		WorkspaceID: workspaceID,
		Subject:     subject,
		Body:        body,
		Payload:     payload,
	}); err != nil {
		e.logger.Warn("publish event", "stream", stream, "workspace", workspaceID, "error", err)
	}
}

// reportSink logs, counts and publishes the outcome of one sink step.
func (e *Engine) reportSink(ctx context.Context, target, workspaceID string, res SinkResult) {
	observability.RecordSinkOutcome(target, res.Sink, string(res.Outcome))
	if res.Err == nil {
		e.logger.Debug("sink step", "target", target, "workspace", workspaceID, "sink", res.Sink, "outcome", res.Outcome, "message_id", res.MessageID)
		return
	}
	e.logger.Warn("sink step failed", "target", target, "workspace", workspaceID, "sink", res.Sink, "outcome", res.Outcome, "error", res.Err)
	e.publish(ctx, eventbus.StreamSyncErrors, workspaceID, target+"."+res.Sink, res.Err.Error(), map[string]any{
		"target":     target,
		"sink":       res.Sink,
		"outcome":    string(res.Outcome),
		"message_id": res.MessageID,
	})
}
