package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/discordservers/advert-sentry/app/api"
	"github.com/discordservers/advert-sentry/app/cfg"
	"github.com/discordservers/advert-sentry/app/database"
	"github.com/discordservers/advert-sentry/app/discord"
	"github.com/discordservers/advert-sentry/app/lists"
	"github.com/discordservers/advert-sentry/app/moderation"
	"github.com/discordservers/advert-sentry/app/reddit"
	"github.com/discordservers/advert-sentry/app/redirect"
	"github.com/discordservers/advert-sentry/app/tasks"
)

func main() {
	// Optional .env file for local development
	godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if c == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if c.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Advert Sentry", "version", c.Version, "subreddit", c.Subreddit, "dry_run", c.DryRun)

	db, err := database.NewConnection(c.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "schema_version", version, "dirty", dirty)

	groupRepo := database.NewGroupRepository(db)
	advertRepo := database.NewAdvertRepository(db)

	blacklist := lists.New(c.BlacklistFile)
	whitelist := lists.New(c.WhitelistFile)

	messages, err := moderation.LoadMessages(c.MessagesFile)
	if err != nil {
		slog.Error("Failed to load message templates", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redditClient, err := reddit.NewClient(ctx, c)
	if err != nil {
		slog.Error("Failed to authenticate with Reddit", "error", err)
		os.Exit(1)
	}
	slog.Info("Authenticated with Reddit", "username", c.RedditUsername)

	resolver := redirect.NewResolver(time.Duration(c.HTTPTimeout)*time.Second, c.UserAgent)
	inviteClient := discord.NewClient(c.DiscordAPIBase, c.UserAgent, time.Duration(c.HTTPTimeout)*time.Second)

	engine := moderation.NewEngine(groupRepo, advertRepo, resolver, inviteClient, redditClient,
		blacklist, whitelist, messages, moderation.Options{
			RecheckInterval:   time.Duration(c.RecheckInterval) * time.Second,
			Cooldown:          time.Duration(c.MinTimeBetween) * time.Second,
			MaxRedirects:      c.MaxRedirects,
			FlairTemplateID:   c.FlairTemplateID,
			AutomatedApprover: c.AutomatedApprover,
			DryRun:            c.DryRun,
		})

	runner := tasks.NewRunner(redditClient, engine, advertRepo)
	runner.Start()
	defer runner.Stop()

	apiHandler := api.NewHandler(groupRepo, advertRepo, c.Version)
	server := api.NewServer(apiHandler, c.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + c.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting ops HTTP server", "port", c.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Runner is stopped via defer
	slog.Info("Shutdown complete")
}
