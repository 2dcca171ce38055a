package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flitsinc/go-backlog/internal/api"
	"github.com/flitsinc/go-backlog/internal/discord"
	"github.com/flitsinc/go-backlog/internal/eventbus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Discord bot and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	a, err := openApp(parent)
	if err != nil {
		return err
	}
	defer a.close()

	if !a.channelSink && !a.webhookSink {
		logger.Warn("no sink configured; activities cannot be published", "hint", "set DISCORD_TOKEN or BACKLOG_WEBHOOK_URL")
	}

	listener, err := api.InheritedListener()
	if err != nil {
		return err
	}
	if listener == nil {
		if listener, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var httpServer *http.Server
	restarter := &api.Restarter{Listener: listener, Args: os.Args, Env: os.Environ()}
	restartFn := func() error {
		if err := restarter.Restart(); err != nil {
			return err
		}
		go func() {
			time.Sleep(750 * time.Millisecond)
			cancel()
		}()
		return nil
	}

	apiServer := &api.Server{
		Engine:       a.engine,
		Store:        a.store,
		Bus:          a.bus,
		Auth:         api.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		Restart:      restartFn,
		RestartToken: cfg.RestartToken,
		StartedAt:    time.Now().UTC(),
		Info: api.DiagnosticsInfo{
			HTTPAddr:        listener.Addr().String(),
			DataDir:         cfg.DataDir,
			DBPath:          cfg.DBPath,
			Backend:         cfg.Backend(),
			ChannelSink:     a.channelSink,
			WebhookSink:     a.webhookSink,
			DefaultChannel:  cfg.DefaultChannelID,
			KafkaConfigured: len(cfg.KafkaBrokers) > 0,
			AuthEnabled:     cfg.JWTSecret != "",
		},
	}
	if cfg.LLMAPIKey != "" {
		apiServer.Info.LLMModel = cfg.LLMModel
	}

	httpServer = &http.Server{
		Handler:           loggingMiddleware(apiServer.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("backlogd listening", "addr", listener.Addr().String(), "backend", cfg.Backend())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return httpServer.Shutdown(shutdownCtx)
	})
	if a.session != nil {
		bot := discord.NewBot(a.session, a.engine, cfg.GuildID, logger)
		g.Go(func() error { return bot.Run(gctx) })
	}
	if len(cfg.KafkaBrokers) > 0 {
		forwarder := &eventbus.KafkaForwarder{
			Bus:    a.bus,
			Writer: eventbus.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic),
			Logger: logger,
		}
		g.Go(func() error { return forwarder.Run(gctx) })
	}
	g.Go(func() error {
		results, err := a.engine.ReconcileAll(gctx)
		if err != nil {
			logger.Warn("startup board reconcile", "error", err)
			return nil
		}
		logger.Info("startup board reconcile", "workspaces", len(results))
		return nil
	})

	return g.Wait()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
