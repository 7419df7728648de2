// Package server builds the application graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/api"
	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/browser"
	"github.com/JakeFAU/site-audit/internal/cache"
	"github.com/JakeFAU/site-audit/internal/clock/system"
	"github.com/JakeFAU/site-audit/internal/config"
	collyfetcher "github.com/JakeFAU/site-audit/internal/fetcher/colly"
	"github.com/JakeFAU/site-audit/internal/id/uuid"
	"github.com/JakeFAU/site-audit/internal/logging"
	"github.com/JakeFAU/site-audit/internal/mail"
	"github.com/JakeFAU/site-audit/internal/policy/ratelimit"
	"github.com/JakeFAU/site-audit/internal/probe/performance"
	"github.com/JakeFAU/site-audit/internal/probe/privacy"
	"github.com/JakeFAU/site-audit/internal/probe/security"
	"github.com/JakeFAU/site-audit/internal/probe/seoadvanced"
	"github.com/JakeFAU/site-audit/internal/probe/seobasic"
	kafkapublisher "github.com/JakeFAU/site-audit/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/site-audit/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-audit/internal/publisher/pubsub"
	"github.com/JakeFAU/site-audit/internal/report"
	"github.com/JakeFAU/site-audit/internal/seclog"
	gcsstorage "github.com/JakeFAU/site-audit/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-audit/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-audit/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-audit/internal/storage/postgres"
	redisstore "github.com/JakeFAU/site-audit/internal/storage/redis"
	"github.com/JakeFAU/site-audit/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

type publisher interface {
	audit.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	clock        *system.Clock
	telemetry    *telemetry.Providers
	pool         *pgxpool.Pool
	redis        *goredis.Client
	browser      *browser.Pool
	gcs          *gcsstorage.BlobStore
	publisher    publisher
	seclog       *seclog.Logger
	service      *audit.Service
	auditLimiter *ratelimit.FixedWindow
	emailLimiter *ratelimit.FixedWindow
	apiServer    *api.Server
}

// Service exposes the audit service for one-shot commands.
func (a *App) Service() *audit.Service {
	return a.service
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Build creates the application's dependencies. Partially built resources are released
// when a later step fails.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.App.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = app.Close(closeCtx)
		}
	}()

	app.telemetry, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.App.ServiceName,
		Version:     cfg.App.Version,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("archive", cfg.PDF.Archive),
		zap.String("publisher", cfg.Publisher.Backend),
		zap.Bool("mail_enabled", cfg.Mail.Enabled),
	)

	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	backend, err := app.setupCacheBackend(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}
	runner, err := app.setupOrchestrator()
	if err != nil {
		return nil, err
	}
	if err = app.setupService(backend, runner); err != nil {
		return nil, err
	}
	if err = app.setupAPI(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, audits are kept in memory")
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	if a.cfg.DB.AutoMigrate {
		if err := pgstore.Migrate(ctx, pool, a.logger.Named("migrate")); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	a.logger.Info("postgres connected", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupCacheBackend(ctx context.Context) (audit.CacheBackend, error) {
	switch a.cfg.Cache.Backend {
	case "postgres":
		if a.pool == nil {
			return nil, errors.New("cache.backend postgres requires db.dsn")
		}
		a.logger.Info("using postgres cache backend", zap.String("table", a.cfg.Cache.Table))
		store, err := pgstore.NewCacheStoreWithPool(a.pool, a.cfg.Cache.Table)
		if err != nil {
			return nil, fmt.Errorf("postgres cache init failed: %w", err)
		}
		return store, nil
	case "redis":
		client, err := redisstore.Connect(ctx, redisstore.Config{URL: a.cfg.Redis.URL})
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		a.redis = client
		a.logger.Info("using redis cache backend", zap.String("prefix", a.cfg.Redis.KeyPrefix))
		store, err := redisstore.NewCacheStore(client, a.cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("redis cache init failed: %w", err)
		}
		return store, nil
	default:
		a.logger.Info("using in-memory cache backend")
		return memorystorage.NewCacheStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) error {
	cfg := a.cfg.Publisher
	switch cfg.Backend {
	case "pubsub":
		pub, err := gcppublisher.Open(ctx, gcppublisher.Config{ProjectID: cfg.ProjectID, TopicID: cfg.Topic})
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
	case "kafka":
		pub, err := kafkapublisher.Open(kafkapublisher.Config{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			ClientID: a.cfg.App.ServiceName,
		})
		if err != nil {
			return fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.publisher = pub
		a.logger.Info("kafka publisher initialized",
			zap.Strings("brokers", cfg.Brokers),
			zap.String("topic", cfg.Topic),
		)
	case "memory":
		a.publisher = memorypublisher.New()
		a.logger.Info("using in-memory publisher")
	default:
		a.logger.Info("audit events are not published")
	}
	return nil
}

func (a *App) setupOrchestrator() (*audit.Orchestrator, error) {
	pool, err := browser.New(browser.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.Audit.UserAgent,
		NavigationTimeout: a.cfg.Headless.NavTimeout,
		ExecPath:          a.cfg.Headless.ExecPath,
		NoSandbox:         a.cfg.Headless.NoSandbox,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("browser pool init failed: %w", err)
	}
	a.browser = pool

	politeness := ratelimit.New(ratelimit.Config{
		PerHostRPS:   a.cfg.HTTP.PerHostRPS,
		PerHostBurst: a.cfg.HTTP.PerHostBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.Audit.UserAgent,
		Timeout:      a.cfg.HTTP.Timeout,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	}, politeness)
	a.logger.Info("probe fetchers ready",
		zap.String("user_agent", a.cfg.Audit.UserAgent),
		zap.Int("max_parallel_tabs", a.cfg.Headless.MaxParallel),
		zap.Float64("per_host_rps", a.cfg.HTTP.PerHostRPS),
	)

	probeLogger := a.logger.Named("probe")
	orch, err := audit.NewOrchestrator(
		audit.OrchestratorConfig{Parallel: a.cfg.Audit.ParallelProbes},
		audit.Probes{
			Performance: performance.New(pool, probeLogger),
			SEOBasic:    seobasic.New(fetcher, probeLogger),
			Security:    security.New(fetcher),
			Privacy:     privacy.New(pool, probeLogger),
			SEOAdvanced: seoadvanced.New(pool, fetcher, probeLogger),
		},
		a.clock,
		a.logger.Named("orchestrator"),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	return orch, nil
}

func (a *App) setupService(backend audit.CacheBackend, runner audit.Runner) error {
	resultCache, err := cache.New(cache.Config{TTL: a.cfg.Audit.CacheTTL}, backend, a.clock, a.logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("cache init failed: %w", err)
	}

	var repo audit.Repository
	if a.pool != nil {
		store, err := pgstore.NewAuditStoreWithPool(a.pool)
		if err != nil {
			return fmt.Errorf("audit store init failed: %w", err)
		}
		repo = store
	} else {
		repo = memorystorage.NewAuditStore()
	}

	deps := audit.ServiceDeps{
		Runner: runner,
		Cache:  resultCache,
		Repo:   repo,
		IDs:    uuid.New(),
		Clock:  a.clock,
		Logger: a.logger.Named("audit"),
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}
	a.service, err = audit.NewService(audit.ServiceConfig{Timeout: a.cfg.Audit.Timeout}, deps)
	if err != nil {
		return fmt.Errorf("audit service init failed: %w", err)
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (api.BlobStore, error) {
	switch a.cfg.PDF.Archive {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.PDF.Bucket, Prefix: a.cfg.PDF.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.gcs = store
		a.logger.Info("archiving reports to GCS", zap.String("bucket", a.cfg.PDF.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.PDF.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving reports locally", zap.String("path", a.cfg.PDF.BaseDir))
		return store, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupAPI(ctx context.Context) error {
	var err error
	a.auditLimiter, err = ratelimit.NewFixedWindow(ratelimit.WindowConfig{
		Name:   "audit",
		Window: a.cfg.RateLimit.Audit.Window,
		Max:    a.cfg.RateLimit.Audit.Max,
	}, a.clock)
	if err != nil {
		return fmt.Errorf("audit limiter init failed: %w", err)
	}
	a.emailLimiter, err = ratelimit.NewFixedWindow(ratelimit.WindowConfig{
		Name:   "email",
		Window: a.cfg.RateLimit.Email.Window,
		Max:    a.cfg.RateLimit.Email.Max,
	}, a.clock)
	if err != nil {
		return fmt.Errorf("email limiter init failed: %w", err)
	}

	reports, err := report.New(report.Config{MaxBytes: a.cfg.PDF.MaxBytes, SiteURL: a.cfg.App.SiteURL}, a.browser)
	if err != nil {
		return fmt.Errorf("report renderer init failed: %w", err)
	}

	var mailer api.Mailer
	if a.cfg.Mail.Enabled {
		client, err := mail.New(mail.Config{
			APIKey:      a.cfg.Mail.APIKey,
			APIURL:      a.cfg.Mail.APIURL,
			SenderEmail: a.cfg.Mail.SenderEmail,
			SenderName:  a.cfg.Mail.SenderName,
			SiteURL:     a.cfg.App.SiteURL,
			Timeout:     a.cfg.Mail.Timeout,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("mail client init failed: %w", err)
		}
		mailer = client
	} else {
		a.logger.Warn("mail delivery disabled, /send-audit answers 503")
	}

	archive, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}

	a.seclog, err = seclog.Open(a.cfg.SecurityLog.Path, a.logger)
	if err != nil {
		return fmt.Errorf("security log init failed: %w", err)
	}

	if !a.cfg.AdminEnabled() {
		a.logger.Warn("no admin credentials configured, admin routes reject every request")
	}

	deps := api.Deps{
		Audits:       a.service,
		Reports:      reports,
		Archive:      archive,
		SecurityLog:  a.seclog,
		AuditLimiter: a.auditLimiter,
		EmailLimiter: a.emailLimiter,
		Clock:        a.clock,
		Ready:        a.readinessChecks(),
		Logger:       a.logger.Named("api"),
	}
	if mailer != nil {
		deps.Mailer = mailer
	}
	a.apiServer, err = api.NewServer(api.Options{
		RequestTimeout:    a.cfg.Server.RequestTimeout,
		PDFTimeout:        a.cfg.PDF.Timeout,
		PDFFormat:         a.cfg.PDF.Format,
		TrustProxyHeaders: a.cfg.Server.TrustProxyHeaders,
		Development:       a.cfg.DevelopmentErrors(),
		Admin: api.AdminAuth{
			Token:     a.cfg.Admin.Token,
			JWTSecret: []byte(a.cfg.Admin.JWTSecret),
			Now:       a.clock.Now,
		},
	}, deps)
	if err != nil {
		return fmt.Errorf("api server init failed: %w", err)
	}
	return nil
}

func (a *App) readinessChecks() map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}
	if a.redis != nil {
		client := a.redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

// Run serves HTTP and runs the periodic cleanup until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Audit.CleanupInterval > 0 {
		go a.clock.Every(ctx, a.cfg.Audit.CleanupInterval, a.periodicCleanup)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           otelhttp.NewHandler(a.apiServer.Handler(), "siteaudit"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

func (a *App) periodicCleanup(ctx context.Context, at time.Time) {
	res, err := a.service.Cleanup(ctx, audit.CleanupRequest{
		OldAudits:    true,
		ExpiredCache: true,
		DaysOld:      a.cfg.Audit.RetentionDays,
	})
	if err != nil {
		a.logger.Warn("periodic cleanup failed", zap.Error(err))
		return
	}
	pruned := a.auditLimiter.Prune() + a.emailLimiter.Prune()
	a.logger.Info("periodic cleanup finished",
		zap.Time("at", at),
		zap.Int("deleted_audits", res.DeletedAudits),
		zap.Int("deleted_cache_entries", res.DeletedCacheEntries),
		zap.Int("pruned_rate_limit_keys", pruned),
	)
}

// Close releases every resource that was built. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.seclog != nil {
		if err := a.seclog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close security log: %w", err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
