package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acme/call-session-orchestrator/internal/api/handlers"
	"github.com/acme/call-session-orchestrator/internal/config"
	"github.com/acme/call-session-orchestrator/internal/infra/db"
	"github.com/acme/call-session-orchestrator/internal/infra/redis"
	"github.com/acme/call-session-orchestrator/internal/notification"
	"github.com/acme/call-session-orchestrator/internal/payment"
	paymentMock "github.com/acme/call-session-orchestrator/internal/payment/mock"
	"github.com/acme/call-session-orchestrator/internal/payment/stripe"
	"github.com/acme/call-session-orchestrator/internal/queue"
	"github.com/acme/call-session-orchestrator/internal/repository"
	"github.com/acme/call-session-orchestrator/internal/repository/memory"
	pgrepo "github.com/acme/call-session-orchestrator/internal/repository/postgres"
	scyllarepo "github.com/acme/call-session-orchestrator/internal/repository/scylla"
	"github.com/acme/call-session-orchestrator/internal/scheduler"
	"github.com/acme/call-session-orchestrator/internal/service/billing"
	"github.com/acme/call-session-orchestrator/internal/service/lease"
	"github.com/acme/call-session-orchestrator/internal/service/session"
	"github.com/acme/call-session-orchestrator/internal/telephony"
	telephonyMock "github.com/acme/call-session-orchestrator/internal/telephony/mock"
	"github.com/acme/call-session-orchestrator/internal/telephony/twilio"
	"github.com/acme/call-session-orchestrator/internal/worker/request"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
// Postgres, Scylla, Redis and Kafka stay nil when their config is absent.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once       sync.Once
		stores     *stores
		adapters   *adapters
		publishers *publishers
		services   *services
	}
}

type stores struct {
	Sessions repository.SessionStore
	Attempts repository.AttemptLog
	Audit    repository.AuditLog
	Reviews  repository.ReviewRequests
}

type adapters struct {
	Telephony telephony.Provider
	Payments  payment.Provider
	Locker    lease.Locker

	// set when the simulated telephony provider is in use
	mockTelephony *telephonyMock.Provider
}

type publishers struct {
	Events   session.Events
	Notifier notification.Notifier
	Requests *queue.RequestPublisher

	closers []func() error
}

type services struct {
	Gate         *billing.Gate
	Compensator  *billing.Compensator
	Orchestrator *session.Orchestrator
	Queue        *scheduler.Queue
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	container := &Container{Config: cfg, Logger: lg}
	if err := container.connect(ctx); err != nil {
		_ = container.Close(context.Background())
		return nil, err
	}
	return container, nil
}

func (c *Container) connect(ctx context.Context) error {
	cfg := c.Config

	if cfg.Storage.Driver != "memory" {
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("bootstrap postgres: %w", err)
		}
		c.Postgres = pg
		if cfg.Postgres.InitSchema {
			if err := pgrepo.EnsureSchema(ctx, pg.DB()); err != nil {
				return fmt.Errorf("bootstrap postgres schema: %w", err)
			}
		}
	}

	if cfg.Scylla.Enabled {
		scylla, err := db.NewScylla(cfg.Scylla)
		if err != nil {
			return fmt.Errorf("bootstrap scylla: %w", err)
		}
		c.Scylla = scylla
		if !cfg.Scylla.DisableInitSchema {
			attempts := scyllarepo.NewAttemptLog(scylla.Session(), cfg.Scylla.AttemptTTL)
			if err := attempts.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("bootstrap scylla schema: %w", err)
			}
		}
	}

	if cfg.Redis.Address != "" {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		c.Redis = client
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := queue.NewKafka(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("bootstrap kafka: %w", err)
		}
		c.Kafka = kafka
	}
	return nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		cfg := c.Config
		orchCfg := cfg.Orchestrator.WithDefaults()

		st := &stores{}
		if c.Postgres != nil {
			st.Sessions = pgrepo.NewSessionStore(c.Postgres.DB())
			st.Audit = pgrepo.NewAuditRepository(c.Postgres.DB())
			st.Reviews = pgrepo.NewReviewRepository(c.Postgres.DB())
		} else {
			c.Logger.Warn("container: using in-memory session store")
			st.Sessions = memory.NewSessionStore()
			st.Audit = memory.NewAuditLog()
			st.Reviews = memory.NewReviewRequests()
		}
		st.Sessions = repository.NewRetrying(st.Sessions, orchCfg.StoreRetryAttempts, orchCfg.StoreRetryBackoff)
		if c.Scylla != nil {
			st.Attempts = scyllarepo.NewAttemptLog(c.Scylla.Session(), cfg.Scylla.AttemptTTL)
		} else {
			st.Attempts = memory.NewAttemptLog()
		}

		ad := &adapters{}
		switch cfg.Telephony.Provider {
		case "twilio":
			ad.Telephony = twilio.New(cfg.Telephony)
		default:
			ad.mockTelephony = telephonyMock.NewProvider(cfg.Telephony.Mock, c.Logger)
			ad.Telephony = ad.mockTelephony
		}
		switch cfg.Payment.Provider {
		case "stripe":
			ad.Payments = stripe.New(cfg.Payment)
		default:
			ad.Payments = paymentMock.New()
		}
		if c.Redis != nil {
			ad.Locker = lease.NewRedisLocker(c.Redis.Inner(), c.Redis.Prefix(), orchCfg.LeaseTTL)
		} else {
			ad.Locker = lease.NewLocalLocker()
		}

		pub := &publishers{}
		if c.Kafka != nil {
			events := queue.NewEventPublisher(c.Kafka, cfg.Kafka.EventTopic)
			notifier := notification.NewKafkaNotifier(c.Kafka, cfg.Kafka.NotificationTopic)
			requests := queue.NewRequestPublisher(c.Kafka, cfg.Kafka.RequestTopic)
			pub.Events, pub.Notifier, pub.Requests = events, notifier, requests
			pub.closers = append(pub.closers, events.Close, notifier.Close, requests.Close)
		} else {
			c.Logger.Warn("container: no kafka brokers, events and notifications are logged only")
			pub.Events = queue.NewLogPublisher(c.Logger)
			pub.Notifier = notification.NewLogNotifier(c.Logger)
		}

		svc := &services{
			Gate: billing.NewGate(st.Sessions, ad.Payments, st.Reviews, st.Audit, pub.Events,
				orchCfg.MinCallDuration, c.Logger),
			Compensator: billing.NewCompensator(st.Sessions, ad.Payments, ad.Locker, st.Audit, pub.Events, c.Logger),
		}
		svc.Orchestrator = session.New(session.Deps{
			Store:       st.Sessions,
			Attempts:    st.Attempts,
			Audit:       st.Audit,
			Telephony:   ad.Telephony,
			Payments:    ad.Payments,
			Notifier:    pub.Notifier,
			Events:      pub.Events,
			Gate:        svc.Gate,
			Compensator: svc.Compensator,
			Callbacks:   telephony.Callbacks{BaseURL: cfg.Telephony.CallbackBaseURL},
			CallerID:    cfg.Telephony.FromNumber,
			RecordCalls: cfg.Telephony.RecordCalls,
			Config:      orchCfg,
			Logger:      c.Logger,
		})
		if ad.mockTelephony != nil {
			ad.mockTelephony.Attach(svc.Orchestrator)
		}
		svc.Queue = scheduler.New(svc.Orchestrator, orchCfg.QueueDrainInterval, c.Logger)

		c.components.stores = st
		c.components.adapters = ad
		c.components.publishers = pub
		c.components.services = svc
	})
}

// Stores exposes initialized repositories.
func (c *Container) Stores() *stores {
	c.initComponents()
	return c.components.stores
}

// Adapters exposes external providers.
func (c *Container) Adapters() *adapters {
	c.initComponents()
	return c.components.adapters
}

// Publishers exposes event and notification sinks.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() *handlers.HandlerSet {
	return handlers.NewHandlerSet(c.Services().Orchestrator, c.healthChecks(), c.Logger)
}

// RequestWorker builds the Kafka session-request consumer. It returns nil
// without brokers.
func (c *Container) RequestWorker() *request.Worker {
	if c.Kafka == nil {
		return nil
	}
	svc := c.Services()
	reader := c.Kafka.NewReader(c.Config.Kafka.RequestTopic, c.Config.Kafka.ConsumerGroupID)
	return request.New(reader, svc.Orchestrator, svc.Queue, c.Publishers().Events, c.Logger)
}

func (c *Container) healthChecks() map[string]handlers.HealthCheck {
	checks := make(map[string]handlers.HealthCheck)
	if c.Postgres != nil {
		checks["postgres"] = c.Postgres.Ping
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Ping
	}
	if c.Scylla != nil {
		checks["scylla"] = func(ctx context.Context) error {
			return c.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
		}
	}
	return checks
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Kafka == nil {
		return nil
	}
	return c.Kafka.EnsureTopics(ctx)
}

// Close releases all held resources.
func (c *Container) Close(_ context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		for _, closeFn := range p.closers {
			if err := closeFn(); err != nil {
				errs = append(errs, fmt.Errorf("publisher close: %w", err))
			}
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}
