package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/flitsinc/go-backlog/internal/ai"
	"github.com/flitsinc/go-backlog/internal/discord"
	"github.com/flitsinc/go-backlog/internal/engine"
	"github.com/flitsinc/go-backlog/internal/eventbus"
	"github.com/flitsinc/go-backlog/internal/state"
)

// app holds the pieces every subcommand shares.
type app struct {
	db      *sql.DB
	store   *state.Store
	bus     *eventbus.Bus
	session *discordgo.Session
	engine  *engine.Engine

	channelSink bool
	webhookSink bool

	closers []func()
}

func openApp(ctx context.Context) (*app, error) {
	a := &app{}
	db, err := state.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })

	var backend state.Backend = state.NewSQLiteBackend(db)
	if cfg.DatabaseURL != "" {
		pg, err := state.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		backend = pg
	}
	a.store = state.NewStore(backend, logger)
	a.bus = eventbus.NewBus(db)

	opts := engine.Options{
		Store:            a.store,
		Bus:              a.bus,
		Logger:           logger,
		DefaultChannelID: cfg.DefaultChannelID,
		SinkTimeout:      cfg.SinkTimeout,
		RefineTimeout:    cfg.RefineTimeout,
	}

	if cfg.DiscordToken != "" {
		session, err := discord.NewSession(cfg.DiscordToken)
		if err != nil {
			a.close()
			return nil, err
		}
		a.session = session
		opts.Channel = discord.NewChannelSink(session)
		a.channelSink = true
	}
	if cfg.WebhookURL != "" {
		rest := a.session
		if rest == nil {
			// Webhook execution needs no bot token.
			if rest, err = discordgo.New(""); err != nil {
				a.close()
				return nil, fmt.Errorf("discord rest client: %w", err)
			}
		}
		webhook, err := discord.NewWebhookSink(rest, cfg.WebhookURL)
		if err != nil {
			a.close()
			return nil, err
		}
		if webhook != nil {
			opts.Webhook = webhook
			a.webhookSink = true
		}
	}

	if client := ai.NewClient(ai.Config{
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		BaseURL: cfg.LLMBaseURL,
		Timeout: cfg.RefineTimeout,
		Logger:  logger,
	}); client != nil {
		opts.Refiner = client
	} else {
		logger.Info("refinement disabled", "reason", "ANTHROPIC_API_KEY not set")
	}

	a.engine = engine.New(opts)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
