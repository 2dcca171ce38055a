package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/flitsinc/go-backlog/internal/backlog"
	"github.com/flitsinc/go-backlog/internal/eventbus"
	"github.com/flitsinc/go-backlog/internal/observability"
	"github.com/flitsinc/go-backlog/internal/render"
)

const targetActivity = "activity"

// Submission is a new activity as entered by its author.
type Submission struct {
	WorkspaceID string
	// ChannelID is where the submission came from. A configured default
	// channel wins over it.
	ChannelID string
	Author    backlog.Author
	Raw       backlog.RawFields
}

type SubmitResult struct {
	Activity backlog.Activity `json:"activity"`
	Refined  bool             `json:"refined"`
	Channel  SinkResult       `json:"channel"`
	Webhook  SinkResult       `json:"webhook"`
	Board    BoardResult      `json:"board"`
}

// Submit records a new activity, publishes it to every available sink and
// refreshes the board. It fails with backlog.ErrSinkUnavailable before any
// side effect when nothing could display the activity.
func (e *Engine) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	if strings.TrimSpace(sub.WorkspaceID) == "" {
		return SubmitResult{}, fmt.Errorf("%w: workspace is required", backlog.ErrInvalidInput)
	}
	if strings.TrimSpace(sub.Raw.Title) == "" {
		return SubmitResult{}, fmt.Errorf("%w: title is required", backlog.ErrInvalidInput)
	}
	channelID := e.activityChannel(sub.ChannelID)
	if channelID == "" && e.webhook == nil {
		return SubmitResult{}, backlog.ErrSinkUnavailable
	}

	refinement := e.refine(ctx, sub.Raw)
	act := backlog.Activity{
		ID:                 e.newID(),
		WorkspaceID:        sub.WorkspaceID,
		ChannelID:          channelID,
		Title:              refinement.TitleOr(sub.Raw.Title),
		Description:        refinement.DescriptionOr(sub.Raw.Description),
		AcceptanceCriteria: refinement.Criteria(),
		Steps:              sub.Raw.Steps,
		ExpectedVsActual:   sub.Raw.ExpectedVsActual,
		Context:            sub.Raw.Context,
		Status:             backlog.StatusOpen,
		AuthorID:           sub.Author.ID,
		AuthorLabel:        sub.Author.Label,
		CreatedAt:          e.now().UTC(),
	}
	act, err := e.store.Activities().Upsert(ctx, act)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("save activity: %w", err)
	}
	e.logger.Info("activity submitted", "workspace", act.WorkspaceID, "activity_id", act.ID, "refined", refinement != nil)

	msg := render.Activity(render.ActivityView{
		ID:         act.ID,
		Author:     sub.Author,
		Raw:        sub.Raw,
		Refinement: refinement,
		Status:     act.Status,
		CreatedAt:  act.CreatedAt,
	})

	result := SubmitResult{Refined: refinement != nil}

	result.Channel = SinkResult{Sink: SinkChannel, Outcome: OutcomeDisabled}
	if channelID != "" {
		result.Channel = e.channelCreate(ctx, channelID, msg, OutcomeCreated)
		if result.Channel.Outcome == OutcomeCreated {
			updated, err := e.store.Activities().RecordMessage(ctx, act.ID, act.WorkspaceID, channelID, result.Channel.MessageID)
			if err != nil {
				e.logger.Error("record activity message", "activity_id", act.ID, "message_id", result.Channel.MessageID, "error", err)
			} else {
				act = updated
			}
		}
	}
	e.reportSink(ctx, targetActivity, act.WorkspaceID, result.Channel)

	result.Webhook = SinkResult{Sink: SinkWebhook, Outcome: OutcomeDisabled}
	if e.webhook != nil {
		result.Webhook = e.webhookCreate(ctx, msg, OutcomeCreated)
	}
	e.reportSink(ctx, targetActivity, act.WorkspaceID, result.Webhook)

	result.Activity = act
	result.Board = e.reconcileBoard(ctx, act.WorkspaceID, channelID)

	e.publish(ctx, eventbus.StreamActivities, act.WorkspaceID, "submitted", act.Title, map[string]any{
		"activity_id": act.ID,
		"status":      string(act.Status),
		"refined":     result.Refined,
	})
	return result, nil
}

func (e *Engine) refine(ctx context.Context, raw backlog.RawFields) *backlog.Refinement {
	if e.refiner == nil {
		return nil
	}
	refineCtx, cancel := context.WithTimeout(ctx, e.refineTimeout)
	defer cancel()
	return e.refiner.Refine(refineCtx, raw)
}

type ChangeResult struct {
	Activity backlog.Activity `json:"activity"`
	Message  SinkResult       `json:"message"`
	Board    BoardResult      `json:"board"`
}

// ChangeStatus moves an activity to rawStatus, then refreshes its channel
// message and the board. The new status is stored even when neither visual
// update succeeds. Activity messages that have disappeared are skipped, not
// recreated.
func (e *Engine) ChangeStatus(ctx context.Context, activityID, workspaceID, rawStatus string) (ChangeResult, error) {
	status, err := backlog.ParseStatus(rawStatus)
	if err != nil {
		return ChangeResult{}, err
	}
	act, err := backlog.ApplyTransition(ctx, e.store.Activities(), activityID, workspaceID, status)
	if err != nil {
		return ChangeResult{}, err
	}
	observability.RecordTransition(string(status))
	e.logger.Info("activity status changed", "workspace", workspaceID, "activity_id", activityID, "status", status)

	result := ChangeResult{Activity: act}
	result.Message = e.refreshActivityMessage(ctx, act)
	e.reportSink(ctx, targetActivity, workspaceID, result.Message)
	result.Board = e.reconcileBoard(ctx, workspaceID, e.defaultChannel)

	e.publish(ctx, eventbus.StreamActivities, workspaceID, "status_changed", act.Title, map[string]any{
		"activity_id": act.ID,
		"status":      string(act.Status),
	})
	return result, nil
}

// refreshActivityMessage edits the activity's channel message in place. A
// message that no longer exists is skipped, not recreated.
func (e *Engine) refreshActivityMessage(ctx context.Context, act backlog.Activity) SinkResult {
	if e.channel == nil {
		return SinkResult{Sink: SinkChannel, Outcome: OutcomeDisabled}
	}
	if act.ChannelID == "" || act.MessageID == "" {
		return SinkResult{Sink: SinkChannel, Outcome: OutcomeSkipped}
	}

	callCtx, cancel := e.callCtx(ctx)
	err := e.channel.Fetch(callCtx, act.ChannelID, act.MessageID)
	cancel()
	if err == nil {
		callCtx, cancel = e.callCtx(ctx)
		err = e.channel.Edit(callCtx, act.ChannelID, act.MessageID, render.FromActivity(act))
		cancel()
	}
	switch {
	case backlog.IsMessageNotFound(err):
		return SinkResult{Sink: SinkChannel, Outcome: OutcomeSkipped, MessageID: act.MessageID}
	case err != nil:
		return SinkResult{Sink: SinkChannel, Outcome: OutcomeFailed, MessageID: act.MessageID, Err: err}
	}
	return SinkResult{Sink: SinkChannel, Outcome: OutcomeEdited, MessageID: act.MessageID}
}
