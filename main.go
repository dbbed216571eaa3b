package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/smartbite/smartbite/config"
	"github.com/smartbite/smartbite/internal/bot"
	"github.com/smartbite/smartbite/internal/classifier"
	"github.com/smartbite/smartbite/internal/labels"
	"github.com/smartbite/smartbite/internal/metrics"
	"github.com/smartbite/smartbite/internal/nutrition"
	"github.com/smartbite/smartbite/internal/pipeline"
	"github.com/smartbite/smartbite/internal/server"
	"github.com/smartbite/smartbite/internal/storage"
	"golang.org/x/sync/errgroup"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()

	if missing := config.CheckRequiredConfig(); len(missing) > 0 {
		log.Fatal().Msgf("missing required config: %s", strings.Join(missing, ", "))
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid LOG_LEVEL")
	}
	zerolog.SetGlobalLevel(level)

	metrics.Register()

	engine, err := newEngine(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize classification engine")
	}

	store, err := storage.NewSQLiteStore(storage.MemoryDSN, cfg.HistorySize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer store.Close()

	lookup, err := newNutrition(cfg, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize nutrition client")
	}

	p := pipeline.New(engine, lookup, pipeline.WithRecorder(store))

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	srv := server.New(p, store, server.Options{
		Port:          cfg.Port,
		MaxUploadSize: cfg.MaxUploadSize,
		CORSOrigins:   cfg.CORSOrigins,
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.BotToken != "" {
		tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize telegram bot")
		}
		tg.Debug = false
		log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")

		// Register bot commands for Telegram's command menu
		bot.RegisterCommands(tg)

		downloader := bot.NewImageDownloader().WithMaxSize(cfg.MaxUploadSize)
		b := bot.NewBot(tg, p, downloader)
		g.Go(func() error {
			return b.Run(ctx, tg)
		})
	} else {
		log.Info().Msg("BOT_TOKEN not set, telegram bot disabled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func newEngine(cfg *config.Config) (*classifier.Engine, error) {
	format, err := labels.ParseFormat(cfg.LabelsFormat)
	if err != nil {
		return nil, err
	}
	weights, err := classifier.ParseWeightSource(cfg.WeightsStrategy, cfg.WeightsPath, cfg.CheckpointPath)
	if err != nil {
		return nil, err
	}
	arch, err := classifier.ArchitectureByName(cfg.ModelArch)
	if err != nil {
		return nil, err
	}

	provider := classifier.NewProvider(classifier.Options{
		LabelsPath:         cfg.LabelsPath,
		LabelsFormat:       format,
		Weights:            weights,
		Architecture:       arch,
		Device:             cfg.Device,
		Workers:            cfg.InferenceWorkers,
		CorrectOrientation: cfg.ExifOrientation,
		MaxPixels:          cfg.MaxImagePixels,
	})
	// Built eagerly so a bad label file or weights fail startup
	return provider.Get()
}

func newNutrition(cfg *config.Config, store storage.Store) (pipeline.NutritionLookup, error) {
	policy, err := nutrition.ParseMismatchPolicy(cfg.NutritionMismatchPolicy)
	if err != nil {
		return nil, err
	}

	client := nutrition.NewClient(nutrition.ClientOpts{
		BaseURL:        cfg.NutritionBaseURL,
		ClientKey:      cfg.NutritionClientKey,
		ClientSecret:   cfg.NutritionClientSecret,
		Timeout:        cfg.NutritionTimeout,
		RateLimit:      cfg.NutritionRateLimit,
		MismatchPolicy: policy,
	})
	if !cfg.NutritionCache {
		return client, nil
	}

	log.Info().Msg("nutrition caching enabled")
	return nutrition.NewCachedClient(client, store), nil
}
