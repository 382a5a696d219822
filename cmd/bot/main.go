package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/handlers"
	"github.com/tg-antispam-go/internal/i18n"
	"github.com/tg-antispam-go/internal/middleware"
	"github.com/tg-antispam-go/internal/platform"
	"github.com/tg-antispam-go/internal/services/cache"
	"github.com/tg-antispam-go/internal/services/classifier"
	"github.com/tg-antispam-go/internal/services/enforcement"
	"github.com/tg-antispam-go/internal/services/keywords"
	"github.com/tg-antispam-go/internal/services/matcher"
	"github.com/tg-antispam-go/internal/services/moderation"
	"github.com/tg-antispam-go/internal/services/settings"
	"github.com/tg-antispam-go/internal/services/storage"
	"github.com/tg-antispam-go/internal/services/warnings"
	"github.com/tg-antispam-go/pkg/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting AntiSpam Bot...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := middleware.NewMetrics()

	store, err := storage.NewManager(cfg, log, metrics)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	defer store.Close()

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}
	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	chat := platform.NewTelegram(bot, log)
	members := cache.NewMemberCache(chat, &cfg.MemberCache, log)

	gateway := classifier.NewGateway(cfg, log, metrics)
	if !gateway.Available() {
		log.Warn("No classifier configured, only keyword rules are active")
	}

	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log, metrics)
	defer rateLimiter.Stop()

	matchers := matcher.NewCache(store, log, metrics)
	keywordService := keywords.NewService(store, matchers, log)
	ledger := warnings.NewLedger(store, log)
	settingsService := settings.NewService(store, &cfg.Classifier, log)

	pipeline := moderation.NewPipeline(moderation.Dependencies{
		Chat:       chat,
		Admins:     members,
		Matchers:   matchers,
		Settings:   settingsService,
		Classifier: gateway,
		Samples:    store,
		Ledger:     ledger,
		Enforcer:   enforcement.NewEnforcer(chat, &cfg.Moderation, localizer, log, metrics),
		Limiter:    rateLimiter,
		Localizer:  localizer,
		Recorder:   metrics,
	}, cfg, log)

	commandHandler := handlers.NewCommandHandler(
		chat,
		cfg,
		members,
		keywordService,
		ledger,
		settingsService,
		store,
		gateway,
		localizer,
		metrics,
		log,
		bot.Self.UserName,
	)
	messageHandler := handlers.NewMessageHandler(commandHandler, pipeline, metrics, log, bot.Self.ID)

	dispatcher := handlers.NewDispatcher(ctx, cfg.Bot.Workers, cfg.Bot.QueueSize, messageHandler.HandleUpdate, metrics, log)

	// Health and metrics endpoints
	server := middleware.NewServer(&cfg.Monitoring)
	go func() {
		log.WithField("port", cfg.Monitoring.Port).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Bot.UpdateTimeout
	u.AllowedUpdates = []string{"message", "chat_member"}
	updates := bot.GetUpdatesChan(u)
	log.Info("Using long polling")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range updates {
			// Role changes make cached admin lookups stale
			if cm := update.ChatMember; cm != nil {
				if cm.NewChatMember.User != nil {
					members.Invalidate(cm.Chat.ID, cm.NewChatMember.User.ID)
				}
				continue
			}

			chatID, ok := updateChatID(update)
			if !ok {
				continue
			}
			if err := dispatcher.AddWork(ctx, chatID, update); err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"chat_id":   chatID,
					"update_id": update.UpdateID,
				}).Warn("Failed to dispatch update")
			}
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	bot.StopReceivingUpdates()
	<-done

	dispatcher.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to stop HTTP server")
	}

	cancel()
	log.Info("Bot stopped")
}

func updateChatID(update tgbotapi.Update) (int64, bool) {
	if update.Message == nil || update.Message.Chat == nil {
		return 0, false
	}
	return update.Message.Chat.ID, true
}
