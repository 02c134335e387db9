package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lfmcagency/fitness-tracker-sub001/config"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/command"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/eventhandler"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/query"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/achievement"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/notification"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/xprules"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/messaging"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/metrics"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/notify"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/memory"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/postgres"
	rediscache "github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/redis"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/sqlite"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/interface/http/handlers"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/circuitbreaker"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

// eventBus is implemented by the in-memory and Redis buses.
type eventBus interface {
	shared.EventBus
	Close() error
}

// app holds every wired component of one process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	tuning  config.Tuning
	levels  progress.Calculator
	rules   *xprules.Calculator
	catalog *achievement.Catalog

	store   progress.Store
	redis   *goredis.Client
	metrics *metrics.Metrics
	bus     eventBus
	cache   query.Cache
	results command.ResultStore

	engine  *command.Engine
	history *command.HistoryHandler
	health  *handlers.CompositeHealthChecker

	closers []func() error
}

// loadConfig loads the environment configuration and builds the root logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.Setup(logger.Options{
		Level:   cfg.Observability.LogLevel,
		Format:  logger.Format(cfg.Observability.LogFormat),
		Output:  os.Stderr,
		Service: cfg.App.Name,
	})
	return cfg, log, nil
}

// newApp wires the engine and its infrastructure. The caller must Close it.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// Rules
	// ─────────────────────────────────────────────────────────────────────────
	if a.tuning, err = config.LoadTuning(cfg.Engine.RulesFile); err != nil {
		return nil, err
	}
	if a.catalog, err = config.LoadCatalog(cfg.Engine.CatalogFile); err != nil {
		return nil, err
	}
	if a.rules, err = xprules.NewCalculator(a.tuning.XP); err != nil {
		return nil, fmt.Errorf("xp rules: %w", err)
	}
	a.levels = a.tuning.Calculator()

	// ─────────────────────────────────────────────────────────────────────────
	// Storage
	// ─────────────────────────────────────────────────────────────────────────
	if a.store, err = openStore(ctx, cfg, log); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	if cfg.Redis.Enabled {
		a.redis, err = rediscache.NewClient(ctx, rediscache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   rediscache.DefaultConfig().MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, a.redis.Close)
	}

	if cfg.Observability.MetricsEnabled {
		a.metrics = metrics.New(nil)
	}

	if err = a.wireCaches(); err != nil {
		return nil, err
	}
	if err = a.wireEvents(); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Engine
	// ─────────────────────────────────────────────────────────────────────────
	engineCfg := command.EngineConfig{
		Repo:             a.store,
		Levels:           a.levels,
		Catalog:          a.catalog,
		Publisher:        a.bus,
		Logger:           log,
		MaxApplyAttempts: cfg.Engine.MaxApplyAttempts,
	}
	if a.metrics != nil {
		engineCfg.Recorder = a.metrics
	}
	a.engine = command.NewEngine(engineCfg)
	a.history = command.NewHistoryHandler(a.store, a.store, command.HistoryHandlerConfig{
		Location: cfg.App.Location,
		Logger:   log,
	})

	a.health = handlers.NewCompositeHealthChecker(cfg.App.Version)
	a.health.AddCheck("store", handlers.NewStoreCheck(a.store))
	if a.redis != nil {
		a.health.AddCheck("redis", handlers.NewPingCheck(redisPinger{a.redis}))
	}

	log.Info("progress engine ready",
		slog.String("store", cfg.Store.Driver),
		slog.String("cache", cfg.Cache.Backend),
		slog.String("catalog_version", a.catalog.Version()),
		slog.Int("achievements", a.catalog.Len()),
		slog.Bool("redis", a.redis != nil),
	)
	return a, nil
}

// openStore opens the configured progress store, migrating it when needed.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (progress.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		log.Warn("using in-memory progress store, data is lost on exit")
		return memory.New(), nil

	case config.StoreSQLite:
		store, err := sqlite.NewStore(cfg.Store.SQLiteDir)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil

	case config.StorePostgres:
		conn, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		if applied > 0 {
			log.Info("database migrations applied", slog.Int("count", applied))
		}
		return postgres.NewProgressRepository(conn), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.Connection, error) {
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Store.DatabaseURL
	pgCfg.MaxConns = cfg.Store.MaxConns
	pgCfg.MinConns = cfg.Store.MinConns

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return conn, nil
}

// onBreakerChange reports breaker transitions to metrics when enabled.
func (a *app) onBreakerChange() func(name string, from, to circuitbreaker.State) {
	if a.metrics == nil {
		return nil
	}
	return a.metrics.BreakerStateChanged
}

// wireCaches selects the overview cache and the idempotency store.
func (a *app) wireCaches() error {
	if a.cfg.Cache.Backend == config.CacheRedis {
		overview, err := rediscache.NewOverviewCache(a.redis, a.cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("overview cache: %w", err)
		}
		results, err := rediscache.NewResultStore(a.redis, a.cfg.Cache.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("result store: %w", err)
		}
		a.cache = rediscache.NewGuardedCache(overview, circuitbreaker.CacheBreaker(a.onBreakerChange()))
		a.results = results
		return nil
	}

	a.cache = memory.NewKV(a.cfg.Cache.Size, a.cfg.Cache.TTL)
	a.results = memory.NewKV(a.cfg.Cache.Size, a.cfg.Cache.IdempotencyTTL)
	return nil
}

// wireEvents builds the event bus and subscribes the reactions.
func (a *app) wireEvents() error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = a.logger
	local.Middlewares = []messaging.Middleware{
		messaging.RecoveryMiddleware(a.logger),
		messaging.LoggingMiddleware(a.logger),
	}
	if a.metrics != nil {
		local.Observer = a.metrics
	}

	if a.redis != nil {
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisPubSub(a.redis),
			ChannelName:    a.cfg.Redis.EventChannel,
			LocalBusConfig: local,
			Logger:         a.logger,
		})
		if err != nil {
			return fmt.Errorf("redis event bus: %w", err)
		}
		a.bus = bus
	} else {
		a.bus = messaging.NewInMemoryEventBus(local)
	}
	a.closers = append(a.closers, a.bus.Close)

	if err := eventhandler.NewCacheInvalidator(a.cache, a.logger).Register(a.bus); err != nil {
		return err
	}

	sender, err := a.notificationSender()
	if err != nil {
		return err
	}
	notifyCfg := eventhandler.DefaultNotifyConfig()
	notifyCfg.Timeout = a.cfg.Notify.Timeout
	handler := eventhandler.NewNotifyHandler(sender, circuitbreaker.NotificationBreaker(a.onBreakerChange()), a.logger, notifyCfg)
	return handler.Register(a.bus)
}

// notificationSender fans notifications out to every configured channel.
func (a *app) notificationSender() (notification.Sender, error) {
	senders := notify.Multi{notify.NewLogSender(a.logger)}

	if url := a.cfg.Notify.WebhookURL; url != "" {
		wcfg := notify.DefaultWebhookConfig(url)
		wcfg.Secret = a.cfg.Notify.WebhookSecret
		wcfg.Logger = a.logger
		webhook, err := notify.NewWebhookSender(wcfg)
		if err != nil {
			return nil, fmt.Errorf("notification webhook: %w", err)
		}
		senders = append(senders, webhook)
	}
	if a.cfg.Notify.InboxEnabled && a.redis != nil {
		senders = append(senders, notify.NewInboxSender(a.redis, notify.InboxConfig{
			MaxItems: int64(a.cfg.Notify.InboxSize),
			TTL:      a.cfg.Notify.InboxTTL,
		}))
	}
	return senders, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// redisPinger adapts the Redis client to handlers.Pinger.
type redisPinger struct{ client *goredis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// shutdownContext bounds graceful shutdown.
func (a *app) shutdownContext() (context.Context, context.CancelFunc) {
	timeout := a.cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
