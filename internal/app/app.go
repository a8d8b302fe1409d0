package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap/zapcore"

	"github.com/kbinsights/kickbase-insights/external/discord"
	"github.com/kbinsights/kickbase-insights/external/kickbase"
	"github.com/kbinsights/kickbase-insights/internal/config"
	"github.com/kbinsights/kickbase-insights/internal/domain/snapshot"
	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
	"github.com/kbinsights/kickbase-insights/internal/infrastructure/repository/memory"
	"github.com/kbinsights/kickbase-insights/internal/infrastructure/repository/postgres"
	"github.com/kbinsights/kickbase-insights/internal/interfaces/httpapi"
	"github.com/kbinsights/kickbase-insights/internal/platform/cache"
	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
	"github.com/kbinsights/kickbase-insights/internal/platform/resilience"
	"github.com/kbinsights/kickbase-insights/internal/usecase"
)

// App owns the wired service graph and the lifecycle of its moving parts:
// the HTTP server, the refresh scheduler and the database pool.
type App struct {
	cfg       config.Config
	logger    *logging.Logger
	db        *sqlx.DB
	server    *http.Server
	scheduler *usecase.SchedulerService
}

func New(cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.HTTPAddr == "" {
		return nil, fmt.Errorf("http server addr cannot be empty")
	}

	var (
		db           *sqlx.DB
		transferLog  transfer.LogRepository
		snapshotRepo snapshot.Repository
	)
	if cfg.DBEnabled {
		var err error
		db, err = openDB(cfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		transferLog = postgres.NewTransferLogRepository(db)
		snapshotRepo = postgres.NewSnapshotRepository(db)
	} else {
		logger.Warn("database disabled, using in-memory repositories")
		transferLog = memory.NewTransferLogRepository()
		snapshotRepo = memory.NewSnapshotRepository()
	}

	kickbaseClient := kickbase.NewClient(kickbase.ClientConfig{
		BaseURL:     cfg.KickbaseBaseURL,
		Email:       cfg.KickbaseEmail,
		Password:    cfg.KickbasePassword,
		SeasonStart: cfg.SeasonStart,
		Timeout:     cfg.KickbaseTimeout,
		MaxRetries:  cfg.KickbaseMaxRetries,
		MaxWorkers:  cfg.RefreshMaxWorkers,
		Logger:      logger,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          cfg.KickbaseCircuitEnabled,
			FailureThreshold: cfg.KickbaseCircuitFailureCount,
			OpenTimeout:      cfg.KickbaseCircuitOpenTimeout,
			HalfOpenMaxReq:   cfg.KickbaseCircuitHalfOpenMaxReq,
		},
	})

	var notifier usecase.RunNotifier
	if cfg.DiscordEnabled {
		discordNotifier, err := discord.NewNotifier(discord.NotifierConfig{
			WebhookURL: cfg.DiscordWebhookURL,
			Timeout:    cfg.DiscordTimeout,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build discord notifier: %w", err)
		}
		notifier = discordNotifier
	}

	refreshService := usecase.NewRefreshService(
		kickbaseClient,
		transferLog,
		snapshotRepo,
		notifier,
		usecase.RefreshConfig{
			LeagueID:       cfg.LeagueID,
			SeasonStart:    cfg.SeasonStart,
			StartingBudget: cfg.StartingBudget,
			MaxWorkers:     cfg.RefreshMaxWorkers,
		},
		logger,
	)

	var store *cache.Store
	if cfg.CacheEnabled {
		store = cache.NewStore(cfg.CacheTTL)
	}
	dashboardService := usecase.NewDashboardService(snapshotRepo, store, logger)

	scheduler := usecase.NewSchedulerService(
		refreshService,
		cfg.RefreshSchedule,
		cfg.RefreshTimeout,
		func(ctx context.Context, _ usecase.RunResult) {
			dashboardService.Invalidate(ctx, cfg.LeagueID)
		},
		logger,
	)

	handler := httpapi.NewHandler(dashboardService, scheduler, cfg.LeagueID, logger)
	router := httpapi.NewRouter(handler, httpLogger(cfg.LogLevel), cfg.CORSAllowedOrigins, cfg.InternalJobToken)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		server:    server,
		scheduler: scheduler,
	}, nil
}

// Server exposes the HTTP server so the caller owns ListenAndServe.
func (a *App) Server() *http.Server {
	return a.server
}

// Start begins the refresh schedule and, when configured, kicks off an
// immediate refresh so the dashboard is populated without waiting for the
// first tick.
func (a *App) Start(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	if a.cfg.RefreshOnStartup {
		go func() {
			runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.RefreshTimeout)
			defer cancel()

			result, ran, err := a.scheduler.TriggerNow(runCtx)
			switch {
			case err != nil:
				a.logger.ErrorContext(runCtx, "startup refresh failed", "error", err)
			case !ran:
				a.logger.WarnContext(runCtx, "startup refresh skipped, run already in flight")
			default:
				a.logger.InfoContext(runCtx, "startup refresh finished",
					"transfers", result.TransferCount,
					"failed_sections", len(result.FailedSections()),
				)
			}
		}()
	}

	return nil
}

// Shutdown stops the scheduler and closes the database pool. The HTTP server
// is shut down by the caller before this.
func (a *App) Shutdown(ctx context.Context) error {
	a.scheduler.Stop(ctx)
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	return nil
}

func openDB(cfg config.Config) (*sqlx.DB, error) {
	dsn := normalizeDBURL(cfg.DBURL, cfg.DBDisablePreparedBinary)
	db, err := otelsqlx.Open("postgres", dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithDBName(dbNameFromURL(cfg.DBURL)),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// httpLogger builds the slog logger the HTTP middleware expects, matching
// the zap level of the main logger.
func httpLogger(level logging.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slogLevel(level),
	}))
}

func slogLevel(level logging.Level) slog.Level {
	switch level {
	case zapcore.DebugLevel:
		return slog.LevelDebug
	case zapcore.WarnLevel:
		return slog.LevelWarn
	case zapcore.ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
