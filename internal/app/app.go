// Package app arma el grafo de dependencias del servicio. Todo se construye
// una vez acá y se inyecta; ningún paquete interno lee env por su cuenta.
package app

import (
	"context"
	"fmt"
	nethttp "net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/veriface/internal/audit"
	"github.com/dropDatabas3/veriface/internal/blob"
	"github.com/dropDatabas3/veriface/internal/cache"
	"github.com/dropDatabas3/veriface/internal/clock"
	"github.com/dropDatabas3/veriface/internal/config"
	"github.com/dropDatabas3/veriface/internal/email"
	httpx "github.com/dropDatabas3/veriface/internal/http"
	"github.com/dropDatabas3/veriface/internal/kyc"
	"github.com/dropDatabas3/veriface/internal/observability/logger"
	"github.com/dropDatabas3/veriface/internal/rate"
	"github.com/dropDatabas3/veriface/internal/scorer"
	"github.com/dropDatabas3/veriface/internal/store/core"
	"github.com/dropDatabas3/veriface/internal/store/memory"
	"github.com/dropDatabas3/veriface/internal/store/pg"
	"github.com/dropDatabas3/veriface/internal/webhook"
)

// Container agrupa las piezas vivas del servicio.
type Container struct {
	Cfg *config.Config

	Repo     core.Repository
	PG       *pg.Store // nil con driver memory
	Blobs    blob.Storage
	Signer   *blob.Signer
	Cache    cache.Client
	Scorer   scorer.Client
	Notifier *webhook.Notifier
	Trail    *audit.Trail
	Orc      *kyc.Orchestrator

	Handler nethttp.Handler
}

// Build construye el contenedor completo a partir de la configuración.
func Build(ctx context.Context, cfg *config.Config) (*Container, error) {
	clk := clock.Real{}
	c := &Container{Cfg: cfg}

	// ─── Store ───
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := pg.New(ctx, cfg.Storage.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		if cfg.Flags.Migrate {
			if err := store.RunMigrations(ctx, cfg.Storage.MigrationsDir); err != nil {
				return nil, fmt.Errorf("app: migrations: %w", err)
			}
		}
		c.PG = store
		c.Repo = store
	case "memory", "":
		c.Repo = memory.New(clk)
	default:
		return nil, fmt.Errorf("app: storage driver desconocido %q", cfg.Storage.Driver)
	}

	// ─── Blobs + signer ───
	switch cfg.Blob.Driver {
	case "fs":
		fs, err := blob.NewFS(cfg.Blob.Root)
		if err != nil {
			return nil, err
		}
		c.Blobs = fs
	case "memory", "":
		c.Blobs = blob.NewMemory()
	default:
		return nil, fmt.Errorf("app: blob driver desconocido %q", cfg.Blob.Driver)
	}

	signSecret := cfg.Blob.SignSecret
	if signSecret == "" {
		signSecret = "dev-only-sign-secret" // Validate ya lo exige fuera de dev
	}
	signer, err := blob.NewSigner(signSecret, config.Dur(cfg.Blob.SignedURLTTL), clk)
	if err != nil {
		return nil, err
	}
	c.Signer = signer

	// ─── Cache ───
	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Driver,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("app: cache: %w", err)
	}
	c.Cache = cacheClient

	// ─── Rate limiters ───
	var globalLimiter, sensitiveLimiter *rate.Limiter
	if cfg.Rate.Enabled {
		var store rate.Store
		if cfg.Cache.Driver == "redis" {
			client := rdb.NewClient(&rdb.Options{
				Addr:     cfg.Cache.Redis.Addr,
				Password: cfg.Cache.Redis.Password,
				DB:       cfg.Cache.Redis.DB,
			})
			store = rate.NewRedisStore(client)
		} else {
			store = rate.NewMemoryStore()
		}
		globalLimiter = rate.New(store, "rl:", cfg.Rate.MaxRequests, config.Dur(cfg.Rate.Window))
		sensitiveLimiter = rate.New(store, "rls:", cfg.Rate.Sensitive.Limit, config.Dur(cfg.Rate.Sensitive.Window))
	}

	// ─── Scorer ───
	c.Scorer = scorer.NewHTTPClient(cfg.Scorer.BaseURL, cfg.Scorer.APIKey, config.Dur(cfg.Scorer.Timeout))

	// ─── Webhooks ───
	dispatcher := webhook.NewDispatcher(webhook.Config{
		URL:         cfg.Webhook.URL,
		Secret:      cfg.Webhook.Secret,
		Timeout:     config.Dur(cfg.Webhook.Timeout),
		MaxAttempts: cfg.Webhook.MaxAttempts,
		BaseDelay:   config.Dur(cfg.Webhook.BaseDelay),
		MaxDelay:    config.Dur(cfg.Webhook.MaxDelay),
		Events:      cfg.Webhook.Events,
	})
	dispatcher.OnResult = httpx.RecordWebhookDelivery
	c.Notifier = webhook.NewNotifier(dispatcher, cfg.Webhook.Workers, cfg.Webhook.QueueSize)

	// ─── Email (opcional) ───
	var sender email.Sender
	if cfg.SMTP.Host != "" {
		smtp := email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
		smtp.TLSMode = cfg.SMTP.TLS
		smtp.InsecureSkipVerify = cfg.SMTP.InsecureSkipVerify
		sender = smtp
	}

	// ─── Audit ───
	trail, err := audit.Open(cfg.Audit.Path, clk)
	if err != nil {
		return nil, fmt.Errorf("app: audit: %w", err)
	}
	c.Trail = trail

	// ─── Orquestador ───
	c.Orc = kyc.New(kyc.Deps{
		Repo:   c.Repo,
		Blobs:  c.Blobs,
		Signer: c.Signer,
		Scorer: c.Scorer,
		Events: c.Notifier,
		Emails: sender,
		Trail:  trail,
		Cache:  cacheClient,
		Clock:  clk,
	}, kyc.Config{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		RetryCooldown: config.Dur(cfg.KYC.RetryCooldown),
		ListLimit:     cfg.KYC.ListLimit,
	})
	c.Orc.OnOutcome = func(st core.AttemptStatus) { httpx.RecordAttemptOutcome(string(st)) }

	// ─── HTTP ───
	metricsHandler, err := httpx.RegisterMetrics(httpx.MetricsConfig{Pool: c.poolFn()})
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}
	handlers := &httpx.Handlers{
		Orc:              c.Orc,
		Blobs:            c.Blobs,
		Signer:           c.Signer,
		Repo:             c.Repo,
		SensitiveLimiter: sensitiveLimiter,
		MaxUploadBytes:   cfg.KYC.MaxUploadBytes,
	}
	c.Handler = httpx.NewRouter(handlers, httpx.RouterConfig{
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
		APIKeyHash:  cfg.Security.APIKeyHash,
		Limiter:     globalLimiter,
		Metrics:     metricsHandler,
	})

	return c, nil
}

func (c *Container) poolFn() func() *pgxpool.Pool {
	if c.PG == nil {
		return nil
	}
	return func() *pgxpool.Pool { return c.PG.Pool() }
}

// Shutdown apaga ordenadamente: primero deja de aceptar eventos nuevos,
// espera a las verificaciones en vuelo y cierra las conexiones.
func (c *Container) Shutdown(ctx context.Context) {
	log := logger.L().With(logger.Component("app"))

	done := make(chan struct{})
	go func() {
		c.Orc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("shutdown timeout waiting for in-flight verifications")
	}

	if err := c.Notifier.Shutdown(ctx); err != nil {
		log.Warn("webhook notifier shutdown incomplete", logger.Err(err))
	}
	if err := c.Trail.Close(); err != nil {
		log.Warn("audit trail close failed", logger.Err(err))
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	if c.PG != nil {
		c.PG.Close()
	}
}
