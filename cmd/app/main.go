package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"parking-violation-service/internal/config"
	"parking-violation-service/internal/db"
	"parking-violation-service/internal/geometry"
	apphttp "parking-violation-service/internal/http"
	"parking-violation-service/internal/inference"
	"parking-violation-service/internal/notify"
	"parking-violation-service/internal/penalty"
	"parking-violation-service/internal/pipeline"
	"parking-violation-service/internal/repository"
	"parking-violation-service/internal/service"
	"parking-violation-service/internal/trackcache"
	"parking-violation-service/internal/violation"
	"parking-violation-service/internal/zones"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("service stopped with error")
	}
	log.Info().Msg("service stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.Level(level).With().Timestamp().Str("service", "parking-violation-service").Logger()
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DB, log)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}

	var zoneSource zones.Source
	if cfg.Zones.Source == "file" {
		zoneSource = zones.NewFileSource(cfg.Zones.File)
	} else {
		zoneSource = repository.NewZoneRepository(gdb)
	}
	zoneStore := zones.NewStore(zoneSource, log.With().Str("component", "zones").Logger())
	if err := zoneStore.Load(ctx); err != nil {
		return err
	}

	enforcement := service.NewEnforcementService(
		repository.NewLedgerRepository(gdb),
		service.Policy{
			FineAmount:         cfg.Ledger.FineAmount,
			PointsPerViolation: cfg.Ledger.PointsPerViolation,
			InitialScore:       cfg.Ledger.InitialScore,
		},
		cfg.Camera.ID,
		log.With().Str("component", "ledger").Logger(),
	)

	var ledger penalty.Ledger
	if cfg.Ledger.Enabled {
		ledger = enforcement
	}

	dispatcher := penalty.NewDispatcher(ledger, newNotifier(cfg.Notify, log), cfg.Ledger.Timeout, log.With().Str("component", "penalty").Logger())

	cache := trackcache.New(trackcache.Config{
		DetectorInterval:       cfg.Detection.DetectorInterval,
		PlateInterval:          cfg.Detection.PlateInterval,
		OCRCooldown:            cfg.Detection.OCRCooldown,
		MaxAgeFrames:           cfg.Detection.PlateMaxAgeFrames,
		DefaultPlateConfidence: cfg.Detection.DefaultPlateConfidence,
		TrackedPlateConfidence: cfg.Detection.TrackedPlateConfidence,
		MinCropSize:            cfg.Detection.MinCropSize,
	})

	tracker := violation.NewTracker(violation.Config{
		GracePeriod:          cfg.Violation.GracePeriod,
		WarningThreshold:     cfg.Violation.WarningThreshold,
		ViolationThreshold:   cfg.Violation.ViolationThreshold,
		NotificationCooldown: cfg.Violation.NotificationCooldown,
	}, geometry.NewEngine(zoneStore), cache, dispatcher, log.With().Str("component", "tracker").Logger())

	models := inference.NewClient(cfg.Inference.URL, cfg.Inference.Timeout, log.With().Str("component", "inference").Logger())
	if err := models.CheckHealth(ctx); err != nil {
		log.Warn().Err(err).Str("url", cfg.Inference.URL).Msg("inference service not available")
	}

	var plates pipeline.PlateDetector
	var reader pipeline.PlateReader
	if cfg.Detection.PlatesEnabled {
		plates = models
		if cfg.Detection.OCREnabled {
			reader = models
		}
	}

	pipe := pipeline.New(models, plates, reader, cache, tracker, pipeline.Options{
		PlatesEnabled: cfg.Detection.PlatesEnabled,
	}, log.With().Str("component", "pipeline").Logger())

	handler := apphttp.NewHandler(pipe, zoneStore, enforcement, cfg, log)
	router := apphttp.NewRouter(cfg, handler, log)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("camera_id", cfg.Camera.ID).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Ledger.RetentionDays > 0 && cfg.Ledger.CleanupInterval > 0 {
		g.Go(func() error {
			runRetention(gctx, enforcement, cfg.Ledger.RetentionDays, cfg.Ledger.CleanupInterval, log)
			return nil
		})
	}

	return g.Wait()
}

func newNotifier(cfg config.NotifyConfig, log zerolog.Logger) penalty.Notifier {
	var sinks notify.Fanout
	if cfg.Log {
		sinks = append(sinks, notify.NewLogNotifier(log.With().Str("component", "announcer").Logger()))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.WebhookURL, cfg.Token, cfg.Timeout, log))
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

func runRetention(ctx context.Context, svc *service.EnforcementService, days int, every time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := svc.CleanupOldViolations(ctx, days); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("violation retention pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
