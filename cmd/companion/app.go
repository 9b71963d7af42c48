package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uioyp/companion/internal/config"
	"github.com/uioyp/companion/internal/domain/account"
	"github.com/uioyp/companion/internal/domain/logbook"
	"github.com/uioyp/companion/internal/domain/progress"
	"github.com/uioyp/companion/internal/domain/reminder"
	"github.com/uioyp/companion/internal/platform/apiclient"
	"github.com/uioyp/companion/internal/platform/auth"
	"github.com/uioyp/companion/internal/platform/db"
	"github.com/uioyp/companion/internal/platform/feed"
	"github.com/uioyp/companion/internal/platform/kvstore"
	"github.com/uioyp/companion/internal/platform/metrics"
	"github.com/uioyp/companion/internal/platform/notification"
)

// app holds the wired components shared by every command.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool      *pgxpool.Pool
	kv        kvstore.Store
	sessions  *auth.SessionStore
	client    *apiclient.Client
	metrics   *metrics.Metrics
	feed      *feed.Hub
	scheduler *notification.CronScheduler

	syncer   *reminder.Syncer
	admin    *reminder.AdminService
	progress *progress.Service
	logbook  *logbook.Service
	account  *account.Service
	fallback reminder.Schedule
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (kvstore.Store, *pgxpool.Pool, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		store, err := kvstore.NewPGStore(pool, kvstore.DefaultTable)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Debug().Msg("using postgres store")
		return store, pool, nil
	default:
		store, err := kvstore.NewFileStore(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug().Str("path", store.Path()).Msg("using file store")
		return store, nil, nil
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	kv, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return wireApp(cfg, logger, kv, pool)
}

func wireApp(cfg *config.Config, logger zerolog.Logger, kv kvstore.Store, pool *pgxpool.Pool) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		kv:       kv,
		sessions: auth.NewSessionStore(kv),
		metrics:  metrics.New(),
		fallback: reminder.Schedule{Hour: cfg.ReminderDefaultHour, Minute: cfg.ReminderDefaultMinute},
	}

	a.client, err = apiclient.New(cfg.APIURL,
		apiclient.WithTimeout(cfg.HTTPTimeout),
		apiclient.WithTokenSource(a.sessions),
		apiclient.WithLogger(logger.With().Str("component", "apiclient").Logger()),
	)
	if err != nil {
		return nil, err
	}

	a.feed = feed.NewHub(logger)
	deliverer := notification.Fanout{
		notification.LogDeliverer{Logger: logger.With().Str("component", "deliverer").Logger()},
		a.feed,
	}
	a.scheduler = notification.NewCronScheduler(notification.CronConfig{
		Enabled:  cfg.NotificationsEnabled,
		Location: loc,
	}, kv, deliverer, a.metrics, logger)

	a.syncer = reminder.NewSyncer(a.client, a.scheduler, kv, a.metrics, logger)
	a.admin = reminder.NewAdminService(a.client, a.syncer, logger)
	a.progress = progress.NewService(a.client, deliverer, a.metrics, logger)
	a.logbook = logbook.NewService(a.client, logger)
	a.account = account.NewService(account.Config{
		DefaultReminder: a.fallback,
		PushToken:       cfg.PushToken,
		PushPlatform:    cfg.PushPlatform,
	}, a.client, a.sessions, a.syncer, logger)
	return a, nil
}

// hasSession reports whether a usable session is persisted.
func (a *app) hasSession(ctx context.Context) bool {
	sess, err := a.sessions.Load(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("load session")
		return false
	}
	return sess != nil
}

// requireSession loads the session for commands that act on behalf of a user.
func (a *app) requireSession(ctx context.Context, roles ...auth.Role) (*auth.Session, error) {
	sess, err := a.sessions.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("not logged in; run `companion login --user <name>`")
	}
	if len(roles) == 0 {
		return sess, nil
	}
	for _, r := range roles {
		if sess.Role == r {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("command not available for role %s", sess.Role)
}

func (a *app) Close() {
	a.scheduler.Stop()
	a.feed.Close()
	if a.pool != nil {
		a.pool.Close()
	}
}
