package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vportnov/linkpost/internal/api"
	"github.com/vportnov/linkpost/internal/api/handler"
	"github.com/vportnov/linkpost/internal/cache"
	"github.com/vportnov/linkpost/internal/config"
	"github.com/vportnov/linkpost/internal/delivery"
	"github.com/vportnov/linkpost/internal/fetch"
	"github.com/vportnov/linkpost/internal/match"
	"github.com/vportnov/linkpost/internal/provider"
	"github.com/vportnov/linkpost/internal/provider/instagram"
	"github.com/vportnov/linkpost/internal/provider/invidious"
	"github.com/vportnov/linkpost/internal/provider/reddit"
	"github.com/vportnov/linkpost/internal/provider/tiktok"
	"github.com/vportnov/linkpost/internal/provider/twitter"
	"github.com/vportnov/linkpost/internal/service"
	"github.com/vportnov/linkpost/pkg/ffmpeg"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// linkCommand is the explicit fetch command; everything else is
// auto-detection.
const linkCommand = "/link"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("linkpost %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting linkpost",
		"version", Version,
		"build_time", BuildTime,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Download.TempPath, 0755); err != nil {
		logger.Error("failed to create temp directory", "error", err)
		os.Exit(1)
	}

	// Media cache: sqlite when a path is configured, memory otherwise.
	var store cache.Store
	var cacheLen func() int
	if cfg.Cache.Path != "" {
		sq, err := cache.NewSQLite(cfg.Cache.Path, time.Hour)
		if err != nil {
			logger.Error("failed to open cache database", "error", err, "path", cfg.Cache.Path)
			os.Exit(1)
		}
		store = sq
		cacheLen = sq.Len
		logger.Info("media cache persisted", "path", cfg.Cache.Path)
	} else {
		mem := cache.NewMemory(time.Hour)
		store = mem
		cacheLen = mem.Len
	}
	defer store.Close()

	// Segment assembly degrades gracefully when ffmpeg is missing;
	// playlist-only sources then get dropped.
	var remuxer fetch.Remuxer
	if r, err := ffmpeg.NewRemuxer(); err != nil {
		logger.Warn("ffmpeg unavailable, playlist assembly disabled", "error", err)
	} else {
		remuxer = r
	}

	httpClient := provider.NewHTTPClient(cfg.Download.Timeout)
	registry := provider.NewRegistry(
		twitter.New(httpClient, cfg.Download.UserAgent),
		reddit.New(httpClient, cfg.Download.UserAgent),
		instagram.New(httpClient, cfg.Download.UserAgent),
		tiktok.New(httpClient, cfg.Download.UserAgent),
		invidious.New(nil, cfg.Download.UserAgent, cfg.Mirrors.Invidious, cfg.Mirrors.SolveBudget, logger),
	)

	matcher := match.New()
	for _, p := range registry.All() {
		matcher.Add(match.Pattern{Platform: p.Name(), Regexp: p.Pattern()})
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Error("failed to connect to telegram", "error", err)
		os.Exit(1)
	}
	logger.Info("telegram connected", "username", bot.Self.UserName)

	sender := delivery.NewTelegram(bot)
	orchestrator := delivery.NewOrchestrator(sender, cfg.Telegram.CaptionLimit, cfg.Telegram.MediaGroupLimit, logger)
	downloader := fetch.NewDownloader(cfg.Download, remuxer, logger)
	svc := service.NewFetchService(matcher, registry, downloader, orchestrator, sender, store, cfg.Cache.TTL, logger)

	healthHandler := handler.NewHealthHandler(svc.Snapshot, cacheLen, cfg.Download.TempPath)
	router := api.NewRouter(healthHandler, cfg.Server.APIKey)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Update loop. Each message is handled on its own goroutine; the
	// WaitGroup lets shutdown drain in-flight fetches.
	runCtx, cancelRun := context.WithCancel(context.Background())
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := bot.GetUpdatesChan(updateCfg)

	var inFlight sync.WaitGroup
	go func() {
		for update := range updates {
			msg := update.Message
			if msg == nil || msg.Text == "" {
				continue
			}

			text := msg.Text
			explicit := false
			if strings.HasPrefix(text, linkCommand) {
				text = strings.TrimSpace(strings.TrimPrefix(text, linkCommand))
				explicit = true
			}

			inFlight.Add(1)
			go func(chatID int64, text string, explicit bool) {
				defer inFlight.Done()
				svc.HandleText(runCtx, chatID, text, explicit)
			}(msg.Chat.ID, text, explicit)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	bot.StopReceivingUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Drain in-flight fetches, then cancel whatever is left.
	drained := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		cancelRun()
		<-drained
	}
	cancelRun()

	logger.Info("shutdown complete")
}
