package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/flitsinc/go-backlog/internal/backlog"
	"github.com/flitsinc/go-backlog/internal/eventbus"
	"github.com/flitsinc/go-backlog/internal/observability"
	"github.com/flitsinc/go-backlog/internal/render"
)

const targetBoard = "board"

// RebuildBoard reconciles the workspace board on every configured sink.
// The returned error only reports store failures; sink failures are in the
// result.
func (e *Engine) RebuildBoard(ctx context.Context, workspaceID string) (BoardResult, error) {
	if workspaceID == "" {
		return BoardResult{}, fmt.Errorf("%w: workspace is required", backlog.ErrInvalidInput)
	}
	lock := e.boardLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()
	return e.reconcileBoardLocked(ctx, workspaceID, e.defaultChannel)
}

// MoveBoard points the workspace board at channelID. The previous channel
// board message is deleted on a best-effort basis and a fresh one created.
func (e *Engine) MoveBoard(ctx context.Context, workspaceID, channelID string) (BoardResult, error) {
	if workspaceID == "" || channelID == "" {
		return BoardResult{}, fmt.Errorf("%w: workspace and channel are required", backlog.ErrInvalidInput)
	}
	if e.channel == nil {
		return BoardResult{}, backlog.ErrSinkUnavailable
	}
	lock := e.boardLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	board, _, err := e.store.Boards().Get(ctx, workspaceID)
	if err != nil {
		return BoardResult{}, err
	}
	if board.ChannelID != "" && board.ChannelMessageID != "" {
		callCtx, cancel := e.callCtx(ctx)
		err := e.channel.Delete(callCtx, board.ChannelID, board.ChannelMessageID)
		cancel()
		if err != nil && !backlog.IsMessageNotFound(err) {
			e.logger.Warn("delete previous board message", "workspace", workspaceID, "channel", board.ChannelID, "message_id", board.ChannelMessageID, "error", err)
		}
	}
	if _, err := e.store.Boards().Set(ctx, workspaceID, backlog.BoardPatch{
		ChannelID:        backlog.Ref(channelID),
		ChannelMessageID: backlog.Ref(""),
	}); err != nil {
		return BoardResult{}, err
	}
	return e.reconcileBoardLocked(ctx, workspaceID, channelID)
}

// ReconcileAll rebuilds the board of every workspace that has activities.
func (e *Engine) ReconcileAll(ctx context.Context) ([]BoardResult, error) {
	acts, err := e.store.Activities().List(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []BoardResult
	var errs []error
	for _, a := range acts {
		if seen[a.WorkspaceID] {
			continue
		}
		seen[a.WorkspaceID] = true
		res, err := e.RebuildBoard(ctx, a.WorkspaceID)
		if err != nil {
			errs = append(errs, fmt.Errorf("workspace %s: %w", a.WorkspaceID, err))
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// reconcileBoard is used by Submit and ChangeStatus, where the board pass is
// secondary to the operation itself.
func (e *Engine) reconcileBoard(ctx context.Context, workspaceID, fallbackChannel string) BoardResult {
	lock := e.boardLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()
	res, err := e.reconcileBoardLocked(ctx, workspaceID, fallbackChannel)
	if err != nil {
		e.logger.Error("reconcile board", "workspace", workspaceID, "error", err)
	}
	return res
}

func (e *Engine) reconcileBoardLocked(ctx context.Context, workspaceID, fallbackChannel string) (BoardResult, error) {
	acts, err := e.store.Activities().List(ctx, workspaceID)
	if err != nil {
		return BoardResult{}, err
	}
	board, _, err := e.store.Boards().Get(ctx, workspaceID)
	if err != nil {
		return BoardResult{}, err
	}
	msg := render.Board(acts)
	result := BoardResult{WorkspaceID: workspaceID, Board: board}
	var errs []error

	result.Channel = e.boardChannelStep(ctx, board, fallbackChannel, msg)
	e.reportSink(ctx, targetBoard, workspaceID, result.Channel)
	if result.Channel.replacesReference() {
		channelID := board.ChannelID
		if channelID == "" {
			channelID = fallbackChannel
		}
		updated, err := e.store.Boards().Set(ctx, workspaceID, backlog.BoardPatch{
			ChannelID:        backlog.Ref(channelID),
			ChannelMessageID: backlog.Ref(result.Channel.MessageID),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("persist channel board reference: %w", err))
		} else {
			result.Board = updated
		}
	}

	result.Webhook = e.boardWebhookStep(ctx, board.WebhookMessageID, msg)
	e.reportSink(ctx, targetBoard, workspaceID, result.Webhook)
	if result.Webhook.replacesReference() {
		updated, err := e.store.Boards().Set(ctx, workspaceID, backlog.BoardPatch{
			WebhookMessageID: backlog.Ref(result.Webhook.MessageID),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("persist webhook board reference: %w", err))
		} else {
			result.Board = updated
		}
	}

	observability.RecordBoardReconciled(e.now())
	e.publish(ctx, eventbus.StreamBoard, workspaceID, "reconciled", "board reconciled", map[string]any{
		"activities": len(acts),
		"channel":    string(result.Channel.Outcome),
		"webhook":    string(result.Webhook.Outcome),
	})
	return result, errors.Join(errs...)
}

func (e *Engine) boardChannelStep(ctx context.Context, board backlog.Board, fallbackChannel string, msg render.Message) SinkResult {
	if e.channel == nil {
		return SinkResult{Sink: SinkChannel, Outcome: OutcomeDisabled}
	}
	channelID := board.ChannelID
	ref := board.ChannelMessageID
	if channelID == "" {
		// A message id without its channel cannot be addressed.
		channelID = fallbackChannel
		ref = ""
	}
	if channelID == "" {
		return SinkResult{Sink: SinkChannel, Outcome: OutcomeDisabled}
	}
	if ref == "" {
		return e.channelCreate(ctx, channelID, msg, OutcomeCreated)
	}

	callCtx, cancel := e.callCtx(ctx)
	err := e.channel.Fetch(callCtx, channelID, ref)
	cancel()
	switch {
	case backlog.IsMessageNotFound(err):
		return e.channelCreate(ctx, channelID, msg, OutcomeRecreated)
	case err != nil:
		return SinkResult{Sink: SinkChannel, Outcome: OutcomeFailed, MessageID: ref, Err: err}
	}

	callCtx, cancel = e.callCtx(ctx)
	err = e.channel.Edit(callCtx, channelID, ref, msg)
	cancel()
	switch {
	case backlog.IsMessageNotFound(err):
		// Gone between probe and edit.
		return e.channelCreate(ctx, channelID, msg, OutcomeRecreated)
	case err != nil:
		return SinkResult{Sink: SinkChannel, Outcome: OutcomeFailed, MessageID: ref, Err: err}
	}
	return SinkResult{Sink: SinkChannel, Outcome: OutcomeEdited, MessageID: ref}
}

func (e *Engine) channelCreate(ctx context.Context, channelID string, msg render.Message, outcome Outcome) SinkResult {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	stale := outcome == OutcomeRecreated
	id, err := e.channel.Send(callCtx, channelID, msg)
	if err != nil {
		return SinkResult{Sink: SinkChannel, Outcome: OutcomeFailed, Stale: stale, Err: err}
	}
	return SinkResult{Sink: SinkChannel, Outcome: outcome, MessageID: id, Stale: stale}
}

func (e *Engine) boardWebhookStep(ctx context.Context, ref string, msg render.Message) SinkResult {
	if e.webhook == nil {
		return SinkResult{Sink: SinkWebhook, Outcome: OutcomeDisabled}
	}
	if ref == "" {
		return e.webhookCreate(ctx, msg, OutcomeCreated)
	}
	callCtx, cancel := e.callCtx(ctx)
	err := e.webhook.Edit(callCtx, ref, msg)
	cancel()
	switch {
	case backlog.IsMessageNotFound(err):
		return e.webhookCreate(ctx, msg, OutcomeRecreated)
	case err != nil:
		return SinkResult{Sink: SinkWebhook, Outcome: OutcomeFailed, MessageID: ref, Err: err}
	}
	return SinkResult{Sink: SinkWebhook, Outcome: OutcomeEdited, MessageID: ref}
}

func (e *Engine) webhookCreate(ctx context.Context, msg render.Message, outcome Outcome) SinkResult {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	stale := outcome == OutcomeRecreated
	id, err := e.webhook.Create(callCtx, msg)
	if err != nil {
		return SinkResult{Sink: SinkWebhook, Outcome: OutcomeFailed, Stale: stale, Err: err}
	}
	return SinkResult{Sink: SinkWebhook, Outcome: outcome, MessageID: id, Stale: stale}
}
