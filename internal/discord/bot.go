package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/flitsinc/go-backlog/internal/backlog"
	"github.com/flitsinc/go-backlog/internal/command"
	"github.com/flitsinc/go-backlog/internal/engine"
)

const (
	ModalID = "backlog_bug_modal"

	commandSubmit = "backlog"
	commandBoard  = "backlog-board"

	inputTitle       = "title"
	inputDescription = "description"
	inputSteps       = "steps"
	inputExpected    = "expected_vs_actual"
	inputContext     = "context"
)

// Operations is what the bot drives in response to interactions.
type Operations interface {
	Submit(ctx context.Context, sub engine.Submission) (engine.SubmitResult, error)
	ChangeStatus(ctx context.Context, activityID, workspaceID, rawStatus string) (engine.ChangeResult, error)
	MoveBoard(ctx context.Context, workspaceID, channelID string) (engine.BoardResult, error)
}

// Responder is the part of *discordgo.Session used to answer interactions.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var commands = []*discordgo.ApplicationCommand{
	{Name: commandSubmit, Description: "Open a bug or backlog activity"},
	{Name: commandBoard, Description: "Create or move the backlog board to this channel"},
}

// NewSession opens nothing; it only prepares a bot session with the
// intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	return s, nil
}

type Bot struct {
	session *discordgo.Session
	resp    Responder
	ops     Operations
	guildID string
	logger  *slog.Logger
	// timeout bounds the work done for one interaction.
	timeout time.Duration
}

func NewBot(session *discordgo.Session, ops Operations, guildID string, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{session: session, resp: session, ops: ops, guildID: guildID, logger: logger, timeout: 2 * time.Minute}
}

// Run connects to the gateway, registers slash commands and serves
// interactions until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	remove := b.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handle(ctx, i.Interaction)
	})
	defer remove()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	defer func() {
		if err := b.session.Close(); err != nil {
			b.logger.Warn("close discord gateway", "error", err)
		}
	}()

	if b.session.State == nil || b.session.State.User == nil {
		return errors.New("discord gateway ready without user")
	}
	if _, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, commands, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.logger.Info("discord bot ready", "user", b.session.State.User.Username, "guild", b.guildID)

	<-ctx.Done()
	return nil
}

func (b *Bot) handle(parent context.Context, i *discordgo.Interaction) {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()

	var err error
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		err = b.onCommand(ctx, i)
	case discordgo.InteractionModalSubmit:
		err = b.onModal(ctx, i)
	case discordgo.InteractionMessageComponent:
		err = b.onButton(ctx, i)
	}
	if err != nil {
		b.logger.Warn("handle interaction", "interaction_id", i.ID, "type", i.Type.String(), "error", err)
	}
}

func (b *Bot) onCommand(ctx context.Context, i *discordgo.Interaction) error {
	switch i.ApplicationCommandData().Name {
	case commandSubmit:
		return b.resp.InteractionRespond(i, BugModal(), discordgo.WithContext(ctx))
	case commandBoard:
		if err := b.deferEphemeral(ctx, i); err != nil {
			return err
		}
		res, err := b.ops.MoveBoard(ctx, i.GuildID, i.ChannelID)
		return b.editReply(ctx, i, moveReply(res, err))
	}
	return nil
}

func (b *Bot) onModal(ctx context.Context, i *discordgo.Interaction) error {
	data := i.ModalSubmitData()
	if data.CustomID != ModalID {
		return nil
	}
	if err := b.deferEphemeral(ctx, i); err != nil {
		return err
	}
	res, err := b.ops.Submit(ctx, engine.Submission{
		WorkspaceID: i.GuildID,
		ChannelID:   i.ChannelID,
		Author:      authorOf(i),
		Raw:         ModalFields(data),
	})
	if err != nil {
		b.logger.Warn("submit activity", "guild", i.GuildID, "error", err)
	}
	return b.editReply(ctx, i, submitReply(res, err))
}

func (b *Bot) onButton(ctx context.Context, i *discordgo.Interaction) error {
	cmd, err := command.Decode(i.MessageComponentData().CustomID)
	if err != nil {
		// Not one of ours.
		return nil
	}
	if err := b.resp.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}, discordgo.WithContext(ctx)); err != nil {
		return err
	}
	if i.GuildID == "" {
		return nil
	}
	_, err = b.ops.ChangeStatus(ctx, cmd.ActivityID, i.GuildID, string(cmd.Target))
	if reply := statusReply(err); reply != "" {
		_, ferr := b.resp.FollowupMessageCreate(i, false, &discordgo.WebhookParams{
			Content: reply,
			Flags:   discordgo.MessageFlagsEphemeral,
		}, discordgo.WithContext(ctx))
		return errors.Join(err, ferr)
	}
	return nil
}

func (b *Bot) deferEphemeral(ctx context.Context, i *discordgo.Interaction) error {
	return b.resp.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
}

func (b *Bot) editReply(ctx context.Context, i *discordgo.Interaction, content string) error {
	_, err := b.resp.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx))
	return err
}

// BugModal is the submission form opened by /backlog.
func BugModal() *discordgo.InteractionResponse {
	input := func(id, label, placeholder string, style discordgo.TextInputStyle, required bool, maxLen int) discordgo.MessageComponent {
		return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{
				CustomID:    id,
				Label:       label,
				Placeholder: placeholder,
				Style:       style,
				Required:    required,
				MaxLength:   maxLen,
			},
		}}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: ModalID,
			Title:    "🐛 Open a bug / backlog activity",
			Components: []discordgo.MessageComponent{
				input(inputTitle, "Problem title", "E.g. Kit is not granted after linking the account", discordgo.TextInputShort, true, 100),
				input(inputDescription, "Problem description", "Describe what is happening objectively.", discordgo.TextInputParagraph, true, 1024),
				input(inputSteps, "Steps to reproduce", "1. Do X\n2. Click Y\n3. Observe Z", discordgo.TextInputParagraph, true, 1024),
				input(inputExpected, "Expected vs actual behavior", "Expected: ... | Actual: ...", discordgo.TextInputParagraph, true, 1024),
				input(inputContext, "Context / environment (optional)", "E.g. server X, Chrome, after the last update", discordgo.TextInputShort, false, 256),
			},
		},
	}
}

// ModalFields reads the submitted form values.
func ModalFields(data discordgo.ModalSubmitInteractionData) backlog.RawFields {
	values := map[string]string{}
	for _, c := range data.Components {
		var row []discordgo.MessageComponent
		switch r := c.(type) {
		case *discordgo.ActionsRow:
			row = r.Components
		case discordgo.ActionsRow:
			row = r.Components
		}
		for _, inner := range row {
			switch in := inner.(type) {
			case *discordgo.TextInput:
				values[in.CustomID] = strings.TrimSpace(in.Value)
			case discordgo.TextInput:
				values[in.CustomID] = strings.TrimSpace(in.Value)
			}
		}
	}
	return backlog.RawFields{
		Title:            values[inputTitle],
		Description:      values[inputDescription],
		Steps:            values[inputSteps],
		ExpectedVsActual: values[inputExpected],
		Context:          values[inputContext],
	}
}

func authorOf(i *discordgo.Interaction) backlog.Author {
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return backlog.Author{}
	}
	return backlog.Author{ID: user.ID, Label: user.String()}
}

func submitReply(res engine.SubmitResult, err error) string {
	switch {
	case errors.Is(err, backlog.ErrSinkUnavailable):
		return "❌ Configure `BACKLOG_CHANNEL_ID` or `BACKLOG_WEBHOOK_URL` to publish activities."
	case errors.Is(err, backlog.ErrInvalidInput):
		return "❌ The activity is missing a title."
	case err != nil:
		return "❌ Could not record the activity. Try again later."
	case res.Refined:
		return "✅ Activity recorded and refined with AI. It was published and the backlog list is updated."
	default:
		return "✅ Activity recorded and published. Backlog list updated. (AI unavailable; original text used.)"
	}
}

func statusReply(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, backlog.ErrNotFound):
		return "❌ Activity not found."
	default:
		return "❌ Could not update the activity status."
	}
}

func moveReply(res engine.BoardResult, err error) string {
	switch {
	case errors.Is(err, backlog.ErrSinkUnavailable):
		return "❌ The bot cannot post board messages."
	case err != nil:
		return "❌ Could not move the backlog board."
	case res.Channel.Outcome == engine.OutcomeFailed:
		return "⚠️ Board location saved, but the message could not be posted here."
	default:
		return "📌 Backlog board is now in this channel."
	}
}
