// Package app assembles the memberpay components from configuration. Both
// the API server and the sync job build on it so they share one view of the
// gateway, the stores and the telemetry sinks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"memberpay/internal/api/handlers"
	"memberpay/internal/billing"
	"memberpay/internal/cache"
	"memberpay/internal/checkout"
	"memberpay/internal/config"
	"memberpay/internal/core"
	"memberpay/internal/db"
	"memberpay/internal/external"
	"memberpay/internal/metrics"
	"memberpay/internal/queue"
)

// Recorder is the telemetry sink shared by the domain components and the
// HTTP chassis.
type Recorder interface {
	metrics.Recorder
	core.MetricsCollector
}

// Stores groups the persistence backends.
type Stores struct {
	Members       billing.MemberStore
	Memberships   billing.MembershipStore
	Coupons       billing.CouponStore
	Relationships billing.RelationshipStore
	Invoices      billing.InvoiceStore
}

// Infra is everything New needs that talks to the outside world. Open fills
// it from configuration; tests build it from fakes.
type Infra struct {
	Stores

	Cache    cache.Store
	Gateway  external.Gateway
	Recorder Recorder
	Notifier billing.RenewalNotifier

	Probes  []core.HealthProbe
	Closers []func(ctx context.Context) error
}

// App holds the wired components.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Keys   *config.GatewayConfig
	Infra  Infra

	Validator    *core.Validator
	IDs          *billing.IDDeriver
	Synchronizer *billing.Synchronizer
	Reconciler   *billing.Reconciler
	Initiator    *checkout.Initiator
}

// Open connects the database, cache, AWS clients and payment gateway
// described by cfg and wires them with New. Call Close when done.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	keys := config.NewGatewayConfig(cfg.Stripe)
	infra := Infra{}

	pool, err := db.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	infra.Closers = append(infra.Closers, func(context.Context) error {
		pool.Close()
		return nil
	})
	infra.Probes = append(infra.Probes, db.NewPoolProbe(pool, 0))

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, pool, logger); err != nil {
			closeAll(ctx, infra.Closers)
			return nil, err
		}
	}

	infra.Stores = Stores{
		Members:       db.NewMemberRepository(pool),
		Memberships:   db.NewMembershipRepository(pool),
		Coupons:       db.NewCouponRepository(pool),
		Relationships: db.NewRelationshipRepository(pool),
		Invoices:      db.NewInvoiceRepository(pool, keys.Currency),
	}

	if cfg.Redis.URL.IsZero() {
		logger.Info("no redis url configured, using the in-process fingerprint cache")
		infra.Cache = cache.NewMemoryStore()
	} else {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			closeAll(ctx, infra.Closers)
			return nil, fmt.Errorf("connecting redis: %w", err)
		}
		store := cache.NewRedisStore(client)
		infra.Cache = store
		infra.Probes = append(infra.Probes, store)
		infra.Closers = append(infra.Closers, func(context.Context) error { return client.Close() })
	}

	infra.Recorder = metrics.NopRecorder{}
	if cfg.Observability.EnableMetrics || cfg.AWS.RenewalQueue != "" {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			closeAll(ctx, infra.Closers)
			return nil, err
		}
		if cfg.Observability.EnableMetrics {
			infra.Recorder = metrics.NewCloudWatchRecorder(
				cloudwatch.NewFromConfig(awsCfg),
				cfg.Observability.MetricNamespace,
				func() string { return string(keys.Mode()) },
				logger,
			)
		}
		if cfg.AWS.RenewalQueue != "" {
			infra.Notifier = queue.NewRenewalPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.RenewalQueue, logger)
		}
	}

	infra.Gateway = external.NewGateway(cfg, keys, logger)

	return New(cfg, keys, logger, infra), nil
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	if c.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(c.EndpointURL)
	}
	return awsCfg, nil
}

// New wires the domain components over infra.
func New(cfg *config.Config, keys *config.GatewayConfig, logger *slog.Logger, infra Infra) *App {
	if logger == nil {
		logger = slog.Default()
	}
	if infra.Recorder == nil {
		infra.Recorder = metrics.NopRecorder{}
	}
	if infra.Cache == nil {
		infra.Cache = cache.NewMemoryStore()
	}

	validator := core.NewValidator(logger)
	ids := billing.NewIDDeriver(cfg.Server.SiteURL)

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Keys:      keys,
		Infra:     infra,
		Validator: validator,
		IDs:       ids,
	}

	a.Synchronizer = billing.NewSynchronizer(billing.SyncerConfig{
		Gateway:        infra.Gateway,
		Cache:          cache.NewFingerprintCache(infra.Cache, logger),
		IDs:            ids,
		Keys:           keys,
		Memberships:    infra.Memberships,
		Coupons:        infra.Coupons,
		Validator:      validator,
		Metrics:        infra.Recorder,
		Logger:         logger,
		Concurrency:    cfg.Sync.Concurrency,
		CouponsEnabled: cfg.Feature.Coupons,
	})

	a.Reconciler = billing.NewReconciler(billing.ReconcilerConfig{
		Gateway:              infra.Gateway,
		Members:              infra.Members,
		Memberships:          infra.Memberships,
		Relationships:        infra.Relationships,
		Invoices:             infra.Invoices,
		Notifier:             infra.Notifier,
		Metrics:              infra.Recorder,
		Logger:               logger,
		RenewalNotifications: cfg.Feature.RenewalNotifications,
		TrialAddon:           cfg.Feature.TrialAddon,
	})

	a.Initiator = checkout.NewInitiator(checkout.Config{
		Gateway:       infra.Gateway,
		IDs:           ids,
		Keys:          keys,
		Members:       infra.Members,
		Memberships:   infra.Memberships,
		Relationships: infra.Relationships,
		Nonce:         checkout.NewNonceSigner(cfg.Checkout.NonceKey),
		Metrics:       infra.Recorder,
		Logger:        logger,
		ReturnURL:     cfg.Checkout.ReturnURL,
	})

	return a
}

// Server builds the HTTP server with every route mounted.
func (a *App) Server() (*core.Server, error) {
	srv, err := core.NewServer(a.Config, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Validator = a.Validator
	srv.Metrics = a.Infra.Recorder
	srv.HealthProbes = a.Infra.Probes
	srv.Closers = append(srv.Closers, a.Close)

	webhook := handlers.NewStripeWebhookHandler(a.Infra.Gateway, a.Reconciler, a.Keys, a.Infra.Recorder, a.Logger)
	srv.WebhookRouteRegistrars = append(srv.WebhookRouteRegistrars, webhook.RegisterRoutes)

	syncHandler := handlers.NewSyncHandler(a.Synchronizer, a.Infra.Memberships, a.Infra.Coupons, a.Logger)
	gatewayHandler := handlers.NewGatewayHandler(a.Keys, a.Synchronizer, a.Validator, a.Logger)
	checkoutHandler := handlers.NewCheckoutHandler(a.Initiator, a.Keys, a.Validator, a.Logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		syncHandler.RegisterRoutes,
		gatewayHandler.RegisterRoutes,
		checkoutHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// Close releases the infrastructure in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	return closeAll(ctx, a.Infra.Closers)
}

func closeAll(ctx context.Context, closers []func(context.Context) error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
