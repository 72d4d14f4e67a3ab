package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"liveclass-service/internal/client"
	"liveclass-service/internal/config"
	"liveclass-service/internal/lifecycle"
	"liveclass-service/internal/policy"
	"liveclass-service/internal/provider"
	redisrepo "liveclass-service/internal/repository/redis"
	"liveclass-service/internal/repository/scylla"
	"liveclass-service/internal/scheduler"
	"liveclass-service/internal/service"
	"liveclass-service/internal/token"
	"liveclass-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer

	// Repositories
	userRepository scylla.UserRepository
	subRepository  scylla.SubscriptionRepository
	permRepository scylla.PermissionRepository
	sessRepository scylla.SessionRepository

	// Domain components
	providers      *provider.Registry
	issuer         *token.Issuer
	resolver       *policy.Resolver
	reconciler     *lifecycle.Reconciler
	dailyScheduler *scheduler.DailyScheduler
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeComponents()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("provider", cfg.Provider.Tag),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if sc, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = sc
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is the audit stream, not a dependency of any request path,
	// so a broker outage never blocks startup.
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without audit stream", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeComponents wires the provider registry, token issuer,
// policy resolver, reconciler, and scheduler over the clients.
func (f *Factory) initializeComponents() {
	cfg := f.config

	f.providers = provider.NewRegistry()
	f.providers.Register(cfg.Provider.Tag, provider.NewHTTPProvider(cfg.Provider))

	// Prefer the Redis-backed replay guard: it holds across instances
	// and restarts. The in-memory guard is the single-instance fallback.
	var guard token.ReplayGuard
	if f.redisClient != nil {
		guard = redisrepo.NewReplayCache(f.redisClient)
	} else {
		util.Warn("Redis unavailable, using in-memory replay guard")
		guard = token.NewMemoryReplayGuard(cfg.Token.ReplayShards, cfg.Token.ReplayMaxPerShard)
	}
	f.issuer = token.NewIssuer([]byte(cfg.Token.Secret), cfg.Token.TTL, guard)

	f.resolver = policy.NewResolver(cfg.Policy.GraceBuffer)

	var publisher lifecycle.EventPublisher
	if f.kafkaProducer != nil {
		publisher = f.kafkaProducer
	}

	f.reconciler = lifecycle.NewReconciler(
		f.SessionRepository(),
		f.providers,
		publisher,
		cfg.Poller.Interval,
		cfg.Poller.StartGrace,
		util.Get(),
	)

	var locks scheduler.LockAcquirer
	if f.redisClient != nil {
		locks = redisrepo.NewSchedulerLockCache(f.redisClient)
	}
	f.dailyScheduler = scheduler.NewDailyScheduler(
		f.SessionRepository(),
		f.providers,
		locks,
		publisher,
		cfg.Scheduler,
		cfg.Provider.Tag,
		util.Get(),
	)

	var throttle service.Throttle
	if f.redisClient != nil {
		throttle = redisrepo.NewJoinThrottle(f.redisClient, cfg.Policy.JoinLimit, cfg.Policy.JoinInterval)
	}

	f.serviceFactory = service.NewServiceFactory(
		f.UserRepository(),
		f.SubscriptionRepository(),
		f.PermissionRepository(),
		f.SessionRepository(),
		f.resolver,
		f.issuer,
		f.providers,
		f.reconciler,
		throttle,
		publisher,
		cfg.Token.TTL,
		util.Get(),
	)
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) UserRepository() scylla.UserRepository {
	if f.userRepository == nil {
		f.userRepository = scylla.NewUserRepository(f.scyllaClient, util.Get())
	}
	return f.userRepository
}

func (f *Factory) SubscriptionRepository() scylla.SubscriptionRepository {
	if f.subRepository == nil {
		f.subRepository = scylla.NewSubscriptionRepository(f.scyllaClient, util.Get())
	}
	return f.subRepository
}

func (f *Factory) PermissionRepository() scylla.PermissionRepository {
	if f.permRepository == nil {
		f.permRepository = scylla.NewPermissionRepository(f.scyllaClient, util.Get())
	}
	return f.permRepository
}

func (f *Factory) SessionRepository() scylla.SessionRepository {
	if f.sessRepository == nil {
		f.sessRepository = scylla.NewSessionRepository(f.scyllaClient, util.Get())
	}
	return f.sessRepository
}

// ==============================
// Component Accessors
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) Reconciler() *lifecycle.Reconciler {
	return f.reconciler
}

func (f *Factory) DailyScheduler() *scheduler.DailyScheduler {
	return f.dailyScheduler
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
	})
	return nil
}
