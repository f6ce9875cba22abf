package application

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"billing-service/internal/config"
	"billing-service/internal/domain/ports/repository"
	payAdapters "billing-service/internal/infra/adapters/payment"
	"billing-service/internal/infra/api"
	pg "billing-service/internal/infra/db/postgres"
	red "billing-service/internal/infra/redis"
	"billing-service/internal/infra/sched"
	"billing-service/internal/infra/worker"
	"billing-service/internal/usecase"
)

// Container holds everything wired once at startup. Both cmd/app and
// cmd/worker build the same graph.
type Container struct {
	Cfg *config.Config

	DB    *pgxpool.Pool
	Redis *red.Client

	Registry *payAdapters.Registry
	Sandbox  *payAdapters.SandboxGateway // nil unless providers.sandbox

	Subscriptions usecase.SubscriptionUseCase
	Settlement    usecase.SettlementUseCase
	Webhooks      usecase.WebhookUseCase
	Renewals      usecase.RenewalUseCase
	Payments      usecase.PaymentUseCase

	Server *api.Server
	Jobs   []*sched.JobWorker

	log *zerolog.Logger
}

// New connects to Postgres and Redis and builds the use cases, the HTTP
// server and the periodic jobs.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Container, error) {
	c := &Container{Cfg: cfg, log: logger}

	pool, err := pg.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	c.DB = pool

	rc, err := red.NewClient(ctx, &cfg.Redis, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	c.Redis = rc

	if err := c.wire(ctx, logger); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) wire(ctx context.Context, logger *zerolog.Logger) error {
	cfg := c.Cfg

	tm := pg.NewTxManager(c.DB)
	payments := pg.NewPaymentRepo(c.DB)
	subs := pg.NewSubscriptionRepo(c.DB)
	plans := pg.NewPlanRepoCacheDecorator(pg.NewPostgresPlanRepo(c.DB), c.Redis, cfg.Redis.TTL, logger)
	providers := pg.NewPostgresProviderRepo(c.DB)

	locker := red.NewLocker(c.Redis)
	idem := red.NewIdempotencyCache(c.Redis)

	registry, sandbox, err := BuildRegistry(cfg.Providers, providers, logger)
	if err != nil {
		return err
	}
	c.Registry, c.Sandbox = registry, sandbox

	gw, err := registry.ByName(cfg.Workers.Provider)
	if err != nil {
		return fmt.Errorf("workers.provider: %w", err)
	}
	providerID, err := registry.ProviderID(ctx, gw.Name())
	if err != nil {
		return fmt.Errorf("resolve provider %q: %w", gw.Name(), err)
	}

	c.Subscriptions = usecase.NewSubscriptionUseCase(subs, tm, logger)
	c.Settlement = usecase.NewSettlementUseCase(payments, subs, plans, c.Subscriptions, tm, logger)
	c.Webhooks = usecase.NewWebhookUseCase(payments, c.Subscriptions, c.Settlement, locker, tm, logger)
	// one matcher per job so each runs with its own pool and page size
	reconciler := func(job config.JobConfig) usecase.ReconcileUseCase {
		return usecase.NewReconcileUseCase(gw, providerID, payments, c.Settlement,
			worker.NewPool(job.Concurrency), ReconcileConfigFor(cfg.Workers, job), logger)
	}
	c.Renewals = usecase.NewRenewalUseCase(
		registry, payments, subs, plans, c.Settlement,
		worker.NewPool(cfg.Workers.Autopayments.Concurrency),
		cfg.Workers.Autopayments.BatchSize, logger,
	)
	c.Payments = usecase.NewPaymentUseCase(plans, providers, payments, registry, idem, cfg.Idempotency.TTL, logger)

	c.Server = api.NewServer(c.Webhooks, c.Payments, c.Subscriptions, registry, logger)
	if sandbox != nil {
		c.Server.WithSandbox(sandbox)
	}
	c.Jobs = sched.NewJobs(cfg.Workers, sched.Deps{
		MatchSucceeded: reconciler(cfg.Workers.MatchSucceeded),
		MatchPending:   reconciler(cfg.Workers.MatchPending),
		ExpirePayments: reconciler(cfg.Workers.ExpirePayments),
		Renewal:        c.Renewals,
		Subscriptions:  c.Subscriptions,
		Locker:         locker,
	}, logger)
	return nil
}

// ReconcileConfigFor combines the shared matching windows with the page size
// of one matcher job.
func ReconcileConfigFor(w config.WorkersConfig, job config.JobConfig) usecase.ReconcileConfig {
	return usecase.ReconcileConfig{
		SuccessWindow:   w.SuccessWindow,
		PendingLookback: w.PendingLookback,
		WaitingDays:     w.WaitingDays,
		PageSize:        job.BatchSize,
	}
}

// BuildRegistry registers the configured gateways. YooKassa is registered
// when credentials are present; the sandbox only when enabled.
func BuildRegistry(cfg config.ProvidersConfig, providers repository.PaymentProviderRepository, logger *zerolog.Logger) (*payAdapters.Registry, *payAdapters.SandboxGateway, error) {
	reg := payAdapters.NewRegistry(providers)
	var sandbox *payAdapters.SandboxGateway
	if cfg.Sandbox {
		sandbox = payAdapters.NewSandboxGateway()
		reg.Register(sandbox)
		logger.Warn().Msg("sandbox payment provider enabled")
	}
	if cfg.YooKassa.ShopID != "" && cfg.YooKassa.SecretKey != "" {
		yk, err := payAdapters.NewYooKassaGateway(cfg.YooKassa, logger)
		if err != nil {
			return nil, nil, err
		}
		reg.Register(yk)
	}
	return reg, sandbox, nil
}

func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.log.Warn().Err(err).Msg("redis close")
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
