package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"

	"feedrouter/internal/bot"
	"feedrouter/internal/classifier"
	"feedrouter/internal/config"
	"feedrouter/internal/dispatcher"
	"feedrouter/internal/events"
	"feedrouter/internal/fetcher"
	"feedrouter/internal/model"
	"feedrouter/internal/router"
	"feedrouter/internal/scheduler"
	"feedrouter/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		slog.Error("open log file", "path", cfg.LogFile, "error", err)
		os.Exit(1)
	}
	defer closeLog()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	bus := events.New()
	cls := classifier.New(cfg.CategoryIDs, cfg.CategoryNames)

	f := fetcher.New(&http.Client{Timeout: cfg.FetchTimeout}, fetcher.Options{
		SiteURL:    cfg.SiteURL,
		RSSURLs:    cfg.RSSURLs,
		SocialURLs: cfg.SocialFeedURLs,
		Limit:      cfg.FetchLimit,
		Timeout:    cfg.FetchTimeout,
	}, log.With("component", "fetcher"), bus)

	sender, err := bot.NewSender(cfg.TelegramBotToken, cfg.SendTimeout, log.With("component", "sender"))
	if err != nil {
		log.Error("create sender", "error", err)
		os.Exit(1)
	}

	d := dispatcher.New(sender, store, dispatcher.Options{
		SendTimeout: cfg.SendTimeout,
		Rate:        cfg.SendRate,
		Workers:     cfg.DispatchWorkers,
		Fallback:    model.Destination{ChatID: cfg.FallbackChatID, ThreadID: cfg.FallbackThreadID},
	}, log.With("component", "dispatcher"), bus)

	sched := scheduler.New(f, cls, router.New(store, log.With("component", "router")), d, bot.FormatArticle,
		scheduler.Options{Interval: cfg.PollInterval, FirstRunDelay: cfg.FirstRunDelay},
		log.With("component", "scheduler"), bus)

	b, err := bot.New(cfg.TelegramBotToken, store, cls, sched, cfg, log.With("component", "bot"))
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot",
		"channels", f.Channels(),
		"poll_interval", cfg.PollInterval,
		"first_run_delay", cfg.FirstRunDelay,
		"fallback_chat_id", cfg.FallbackChatID,
	)

	go b.Track(ctx, bus)

	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	b.Run(ctx)
	<-schedDone

	log.Info("bot stopped")
}

// newLogger writes text to stderr and, when path is set, JSON to that file.
func newLogger(level, path string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	text := slog.NewTextHandler(os.Stderr, opts)
	if path == "" {
		return slog.New(text), func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(slogmulti.Fanout(text, slog.NewJSONHandler(file, opts)))
	return log, func() { _ = file.Close() }, nil
}
