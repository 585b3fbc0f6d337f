package main

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/clientops/replywatch/internal/bot"
	"github.com/clientops/replywatch/internal/calendar"
	"github.com/clientops/replywatch/internal/classifier"
	"github.com/clientops/replywatch/internal/escalation"
	"github.com/clientops/replywatch/internal/jobs"
	"github.com/clientops/replywatch/internal/notify"
	"github.com/clientops/replywatch/internal/scheduler"
	"github.com/clientops/replywatch/internal/storage"
	"github.com/clientops/replywatch/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	loc, err := cfg.Schedule.Location()
	if err != nil {
		logger.Fatal("Failed to load timezone", zap.Error(err))
	}
	holidays, err := cfg.Schedule.HolidayTable()
	if err != nil {
		logger.Fatal("Failed to parse holidays", zap.Error(err))
	}
	delays, err := cfg.Schedule.Delays()
	if err != nil {
		logger.Fatal("Failed to parse escalation delays", zap.Error(err))
	}

	cal, err := calendar.New(loc, cfg.Schedule.WorkStart, cfg.Schedule.WorkEnd, holidays)
	if err != nil {
		logger.Fatal("Failed to build calendar", zap.Error(err))
	}

	// Initialize storage
	var store storage.Store
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStore()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStore(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Telegram API shared by the inbound loop and the notifier
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal("Failed to create Telegram API client", zap.Error(err))
	}

	notifier := notify.NewTelegramNotifier(api, logger)

	assistant := classifier.NewGPTAssistant(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		logger,
	)

	engine := escalation.NewEngine(store, store, assistant, notifier, nil, cal, escalation.Config{
		Delays:  delays,
		OwnerID: cfg.Telegram.OwnerID,
	}, logger)

	batch := jobs.NewRunner(store, store, store, notifier, assistant, cal, cfg.Telegram.OwnerID, logger)

	ctx := context.Background()

	// The scheduler invokes the engine and the engine enqueues into the
	// scheduler, so wiring happens in two steps.
	if cfg.Database.UseInMemory {
		sched := scheduler.NewMemoryScheduler(engine, logger)
		engine.SetScheduler(sched)
		defer sched.Stop()
	} else {
		sched, err := scheduler.NewRiverScheduler(ctx, scheduler.RiverConfig{
			DatabaseURL:  cfg.Database.URL(),
			Location:     loc,
			InactivityAt: cfg.Schedule.InactivityCheckAt,
			GreetingsAt:  cfg.Schedule.HolidayGreetingsAt,
		}, engine, batch, logger)
		if err != nil {
			logger.Fatal("Failed to create scheduler", zap.Error(err))
		}
		engine.SetScheduler(sched)
		if err := sched.Start(ctx); err != nil {
			logger.Fatal("Failed to start scheduler", zap.Error(err))
		}
		defer sched.Stop(ctx)
	}

	b := bot.New(api, store, store, store, assistant, assistant, engine,
		cfg.Telegram.ResponsibleIDs, cfg.Telegram.OwnerID, logger)

	logger.Info("Reply watcher starting",
		zap.Int("responsible_ids", len(cfg.Telegram.ResponsibleIDs)),
		zap.Int("escalation_steps", len(delays)))

	if err := b.Start(); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
