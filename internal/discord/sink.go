// Package discord adapts backlog sinks and inbound interactions to Discord.
package discord

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/flitsinc/go-backlog/internal/render"
)

const (
	SinkChannel = "channel"
	SinkWebhook = "webhook"
)

// RESTClient is the part of *discordgo.Session the sinks call.
type RESTClient interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookMessageEdit(webhookID, token, messageID string, data *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// ChannelSink publishes messages into guild channels through the bot user.
type ChannelSink struct {
	rest         RESTClient
	retryInitial time.Duration
}

func NewChannelSink(rest RESTClient) *ChannelSink {
	return &ChannelSink{rest: rest, retryInitial: 250 * time.Millisecond}
}

func (s *ChannelSink) Send(ctx context.Context, channelID string, msg render.Message) (string, error) {
	var sent *discordgo.Message
	err := withRetry(ctx, s.retryInitial, isDialFailure, func() error {
		var err error
		sent, err = s.rest.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Embeds:     Embeds(msg),
			Components: Components(msg),
		}, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", classify(SinkChannel, "send", err)
	}
	return sent.ID, nil
}

// Fetch reports whether the message still exists.
func (s *ChannelSink) Fetch(ctx context.Context, channelID, messageID string) error {
	err := withRetry(ctx, s.retryInitial, isRetryable, func() error {
		_, err := s.rest.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
		return err
	})
	return classify(SinkChannel, "fetch", err)
}

func (s *ChannelSink) Edit(ctx context.Context, channelID, messageID string, msg render.Message) error {
	embeds := Embeds(msg)
	components := Components(msg)
	err := withRetry(ctx, s.retryInitial, isRetryable, func() error {
		_, err := s.rest.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         messageID,
			Channel:    channelID,
			Embeds:     &embeds,
			Components: &components,
		}, discordgo.WithContext(ctx))
		return err
	})
	return classify(SinkChannel, "edit", err)
}

func (s *ChannelSink) Delete(ctx context.Context, channelID, messageID string) error {
	err := withRetry(ctx, s.retryInitial, isRetryable, func() error {
		return s.rest.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	})
	return classify(SinkChannel, "delete", err)
}

// WebhookSink publishes through an incoming webhook. Webhook messages never
// carry controls since their buttons could not be routed back to us.
type WebhookSink struct {
	rest         RESTClient
	id           string
	token        string
	retryInitial time.Duration
}

// NewWebhookSink returns nil, nil when rawURL is empty.
func NewWebhookSink(rest RESTClient, rawURL string) (*WebhookSink, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, nil
	}
	id, token, err := ParseWebhookURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &WebhookSink{rest: rest, id: id, token: token, retryInitial: 250 * time.Millisecond}, nil
}

func (s *WebhookSink) Create(ctx context.Context, msg render.Message) (string, error) {
	var sent *discordgo.Message
	err := withRetry(ctx, s.retryInitial, isDialFailure, func() error {
		var err error
		sent, err = s.rest.WebhookExecute(s.id, s.token, true, &discordgo.WebhookParams{
			Embeds: Embeds(msg),
		}, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", classify(SinkWebhook, "create", err)
	}
	if sent == nil || sent.ID == "" {
		return "", classify(SinkWebhook, "create", fmt.Errorf("webhook returned no message id"))
	}
	return sent.ID, nil
}

func (s *WebhookSink) Edit(ctx context.Context, messageID string, msg render.Message) error {
	embeds := Embeds(msg)
	err := withRetry(ctx, s.retryInitial, isRetryable, func() error {
		_, err := s.rest.WebhookMessageEdit(s.id, s.token, messageID, &discordgo.WebhookEdit{
			Embeds: &embeds,
		}, discordgo.WithContext(ctx))
		return err
	})
	return classify(SinkWebhook, "edit", err)
}

// ParseWebhookURL extracts the webhook id and token from
// https://discord.com/api/webhooks/<id>/<token>.
func ParseWebhookURL(rawURL string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", "", fmt.Errorf("webhook url must be http(s): %q", rawURL)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "webhooks" && i+2 < len(parts) {
			id, token = parts[i+1], parts[i+2]
			break
		}
	}
	if id == "" || token == "" {
		return "", "", fmt.Errorf("webhook url missing id or token: %q", rawURL)
	}
	return id, token, nil
}
