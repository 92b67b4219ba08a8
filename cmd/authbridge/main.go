package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/framedrop/authbridge/internal/config"
	httpx "github.com/framedrop/authbridge/internal/http"
	"github.com/framedrop/authbridge/internal/http/handlers"
	"github.com/framedrop/authbridge/internal/identity"
	"github.com/framedrop/authbridge/internal/oauth/tiktok"
	"github.com/framedrop/authbridge/internal/observability/logger"
	"github.com/framedrop/authbridge/internal/provision"
	"github.com/framedrop/authbridge/internal/rate"
	"github.com/framedrop/authbridge/internal/security/statebox"
	"github.com/framedrop/authbridge/internal/store/identityapi"
	"github.com/framedrop/authbridge/internal/store/pg"
	"github.com/framedrop/authbridge/internal/username"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("AUTHBRIDGE_CONFIG"), "ruta al YAML de configuración (opcional)")
		migrate    = flag.Bool("migrate", false, "correr migraciones de Postgres y seguir")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logger todavía no inicializado
		panic(err)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "authbridge"})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	// una config incompleta no impide levantar: el handler responde
	// config_missing hasta que se complete. Pero avisamos fuerte.
	if err := cfg.ValidateBridge(); err != nil {
		log.Warn("bridge configuration incomplete, sign-in requests will be rejected", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ─────────────── profile store (Postgres) ───────────────
	var connLifetime time.Duration
	if s := cfg.Storage.Postgres.ConnMaxLifetime; s != "" {
		if connLifetime, err = time.ParseDuration(s); err != nil {
			log.Fatal("invalid storage.postgres.conn_max_lifetime", zap.String("value", s), zap.Error(err))
		}
	}
	profiles, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
		MaxConns:        cfg.Storage.Postgres.MaxConns,
		MinConns:        cfg.Storage.Postgres.MinConns,
		ConnMaxLifetime: connLifetime,
	})
	if err != nil {
		log.Fatal("postgres pool init failed", zap.Error(err))
	}
	defer profiles.Close()

	if *migrate || cfg.Flags.Migrate {
		if err := profiles.RunMigrations(ctx, "migrations/postgres"); err != nil {
			log.Fatal("migrations failed", zap.Error(err))
		}
		log.Info("migrations applied")
	}

	// ─────────────── rate limiter ───────────────
	pingers := map[string]func(context.Context) error{"postgres": profiles.Ping}
	var limiter rate.Limiter
	switch cfg.Cache.Kind {
	case "redis":
		client := rdb.NewClient(&rdb.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		limiter = rate.NewRedisLimiter(client, cfg.Cache.Redis.Prefix)
		pingers["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		log.Info("rate limiter: redis", zap.String("addr", cfg.Cache.Redis.Addr))
	default:
		limiter = rate.NewMemoryLimiter()
		log.Info("rate limiter: in-memory")
	}

	// ─────────────── flujo ───────────────
	accounts := identityapi.New(cfg.Identity.URL, cfg.Identity.ServiceKey)
	provider := tiktok.New(cfg.Provider.ClientKey, cfg.Provider.ClientSecret, cfg.Provider.RedirectURL, cfg.Provider.Scopes).
		WithEndpoints(cfg.Provider.AuthEndpoint, cfg.Provider.TokenEndpoint, cfg.Provider.UserInfoEndpoint)

	bridge := handlers.New(
		cfg,
		statebox.New(cfg.ServerSecret()),
		provider,
		identity.NewTikTokDeriver(cfg.ServerSecret()),
		username.NewAllocator(profiles),
		provision.New(accounts, profiles, logger.Named("provision")),
		limiter,
	)

	router := httpx.NewRouter(
		bridge,
		handlers.Readiness(pingers),
		httpx.RegisterMetrics(prometheus.DefaultRegisterer),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpx.Serve(gctx, cfg.Server.Addr, router) })

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("shutdown complete")
}
