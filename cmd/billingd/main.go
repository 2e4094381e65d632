// Command billingd runs the subscription and credit core as an HTTP service:
// the billing surface, the Paddle webhook endpoint, and the background
// reconciliation worker.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/creditkit/migrations"
	"github.com/dmitrymomot/creditkit/pkg/account"
	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/checkout"
	"github.com/dmitrymomot/creditkit/pkg/config"
	"github.com/dmitrymomot/creditkit/pkg/httpserver"
	"github.com/dmitrymomot/creditkit/pkg/identity"
	"github.com/dmitrymomot/creditkit/pkg/ledger"
	"github.com/dmitrymomot/creditkit/pkg/logger"
	"github.com/dmitrymomot/creditkit/pkg/mongo"
	"github.com/dmitrymomot/creditkit/pkg/pg"
	"github.com/dmitrymomot/creditkit/pkg/reconcile"
	"github.com/dmitrymomot/creditkit/pkg/redis"
	"github.com/dmitrymomot/creditkit/pkg/requestid"
	"github.com/dmitrymomot/creditkit/svc/billing"
)

type appConfig struct {
	LogLevel          slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string        `env:"LOG_FORMAT" envDefault:"json"`
	CatalogPath       string        `env:"CATALOG_PATH"`
	GatewayURL        string        `env:"IDENTITY_GATEWAY_URL,required"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15m"`
	StorageDriver     string        `env:"STORAGE_DRIVER" envDefault:"postgres"`
	MongoDatabase     string        `env:"MONGODB_DATABASE" envDefault:"billing"`
}

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("billingd exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var appCfg appConfig
	if err := config.Load(&appCfg); err != nil {
		return err
	}

	log := logger.New(
		logger.WithLevel(appCfg.LogLevel),
		logger.WithFormat(logger.Format(appCfg.LogFormat)),
		logger.WithService("billingd"),
	)
	logger.SetAsDefault(log)

	cat, err := loadCatalog(appCfg.CatalogPath)
	if err != nil {
		return err
	}

	accounts, storageCheck, closeStorage, err := openAccountStore(ctx, appCfg, log)
	if err != nil {
		return err
	}
	defer closeStorage()

	var redisCfg redis.Config
	if err := config.Load(&redisCfg); err != nil {
		return err
	}
	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var paddleCfg checkout.PaddleConfig
	if err := config.Load(&paddleCfg); err != nil {
		return err
	}
	provider, err := checkout.NewPaddleProvider(paddleCfg)
	if err != nil {
		return err
	}

	requests := checkout.NewRedisRequestStore(redisClient, checkout.DefaultRequestTTL)

	coordinator := checkout.NewCoordinator(accounts, requests, cat, provider,
		checkout.WithLogger(log))
	defer coordinator.Shutdown()

	worker := reconcile.NewWorker(accounts, cat, provider,
		reconcile.WithInterval(appCfg.ReconcileInterval),
		reconcile.WithLogger(log))

	svc := billing.NewService(accounts, cat, ledger.New(accounts), coordinator, worker,
		identity.NewHTTPGateway(appCfg.GatewayURL),
		billing.WithLogger(log),
		billing.WithWebhookParser(provider))

	var httpCfg httpserver.Config
	if err := config.Load(&httpCfg); err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Get("/healthz", httpserver.HealthCheckHandler(log))
	r.Get("/readyz", httpserver.HealthCheckHandler(log,
		storageCheck,
		redis.Healthcheck(redisClient)))
	r.Mount("/billing", billing.Router(svc))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return httpserver.New(httpCfg, log).Run(ctx, r)
	})
	return g.Wait()
}

// loadCatalog reads the tier table from CATALOG_PATH when set, falling back
// to the built-in pricing.
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadYAMLFile(path)
}

// openAccountStore connects the configured storage backend and returns the
// store, its readiness probe, and a close function.
func openAccountStore(ctx context.Context, cfg appConfig, log *slog.Logger) (account.Store, func(context.Context) error, func(), error) {
	switch cfg.StorageDriver {
	case "postgres":
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, nil, nil, err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pg.Migrate(ctx, pool, migrations.FS, pgCfg, log); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return account.NewPostgresStore(pool), pg.Healthcheck(pool), pool.Close, nil

	case "mongo":
		var mongoCfg mongo.Config
		if err := config.Load(&mongoCfg); err != nil {
			return nil, nil, nil, err
		}
		db, err := mongo.NewWithDatabase(ctx, mongoCfg, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := db.Client().Disconnect(context.Background()); err != nil {
				log.Error("failed to disconnect mongo client", slog.Any("error", err))
			}
		}
		return account.NewMongoStore(db.Collection("accounts")), mongo.Healthcheck(db.Client()), closeFn, nil

	default:
		return nil, nil, nil, errors.New("unknown storage driver: " + cfg.StorageDriver)
	}
}
