package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/outbound-call-scheduler/internal/config"
	"github.com/acme/outbound-call-scheduler/internal/dispatcher"
	"github.com/acme/outbound-call-scheduler/internal/hours"
	"github.com/acme/outbound-call-scheduler/internal/infra/db"
	"github.com/acme/outbound-call-scheduler/internal/infra/redis"
	"github.com/acme/outbound-call-scheduler/internal/queue"
	"github.com/acme/outbound-call-scheduler/internal/repository"
	pgrepo "github.com/acme/outbound-call-scheduler/internal/repository/postgres"
	"github.com/acme/outbound-call-scheduler/internal/repository/redisqueue"
	scyllarepo "github.com/acme/outbound-call-scheduler/internal/repository/scylla"
	"github.com/acme/outbound-call-scheduler/internal/service/admission"
	callsvc "github.com/acme/outbound-call-scheduler/internal/service/call"
	campaignsvc "github.com/acme/outbound-call-scheduler/internal/service/campaign"
	statssvc "github.com/acme/outbound-call-scheduler/internal/service/stats"
	"github.com/acme/outbound-call-scheduler/internal/telephony"
	telephonymock "github.com/acme/outbound-call-scheduler/internal/telephony/mock"
	"github.com/acme/outbound-call-scheduler/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		hoursPolicy  *hours.Policy
		repositories *repositories
		services     *services
		admission    *admissionGuards
		publisher    *queue.OutcomePublisher
		provider     telephony.Provider
		initErr      error
	}
}

type repositories struct {
	Campaigns     repository.CampaignRepository
	Tasks         repository.TaskRepository
	Appointments  repository.AppointmentRepository
	Reports       repository.ReportRepository
	Results       repository.ResultStore
	DispatchQueue repository.DispatchQueue
}

type services struct {
	Campaign *campaignsvc.Service
	Call     *callsvc.Service
	Stats    *statssvc.Service
}

type admissionGuards struct {
	RateLimiter *admission.RateLimiter
	Cooldown    *admission.CooldownGuard
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

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() error {
	c.components.once.Do(func() {
		cfg := c.Config

		policy, err := hours.NewPolicy(
			cfg.OperatingHours.TimeZone,
			hours.Window{StartHour: cfg.OperatingHours.StartHour, EndHour: cfg.OperatingHours.EndHour},
			cfg.OperatingHours.ClosedWeekdays(),
		)
		if err != nil {
			c.components.initErr = fmt.Errorf("operating hours: %w", err)
			return
		}
		c.components.hoursPolicy = policy

		repos := &repositories{
			Campaigns:     pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Tasks:         pgrepo.NewTaskRepository(c.Postgres.DB()),
			Appointments:  pgrepo.NewAppointmentRepository(c.Postgres.DB()),
			Reports:       pgrepo.NewReportRepository(c.Postgres.DB()),
			Results:       scyllarepo.NewResultStore(c.Scylla.Session()),
			DispatchQueue: redisqueue.NewDispatchQueue(c.Redis.Inner(), cfg.Admission.KeyPrefix),
		}
		c.components.repositories = repos

		guards := &admissionGuards{
			RateLimiter: admission.NewRateLimiter(c.Redis.Inner(), cfg.Admission.KeyPrefix, cfg.Admission.CallsPerMinute),
			Cooldown:    admission.NewCooldownGuard(c.Redis.Inner(), cfg.Admission.KeyPrefix, cfg.Admission.CooldownPeriod),
		}
		c.components.admission = guards

		c.components.services = &services{
			Campaign: campaignsvc.NewService(repos.Campaigns),
			Call:     callsvc.NewService(repos.Campaigns, repos.Tasks, repos.DispatchQueue, guards.Cooldown, policy),
			Stats:    statssvc.NewService(repos.Reports, repos.Results),
		}

		c.components.publisher = queue.NewOutcomePublisher(c.Kafka, cfg.Kafka.OutcomeTopic)
		c.components.provider = telephonymock.NewProvider(cfg.Gateway)
	})
	return c.components.initErr
}

// HoursPolicy exposes the operating hours policy.
func (c *Container) HoursPolicy() (*hours.Policy, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.hoursPolicy, nil
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() (*repositories, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.repositories, nil
}

// Services exposes initialized services.
func (c *Container) Services() (*services, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.services, nil
}

// Admission exposes the shared admission guards.
func (c *Container) Admission() (*admissionGuards, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.admission, nil
}

// OutcomePublisher exposes the Kafka outcome publisher.
func (c *Container) OutcomePublisher() (*queue.OutcomePublisher, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.publisher, nil
}

// TelephonyProvider exposes the configured gateway.
func (c *Container) TelephonyProvider() (telephony.Provider, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.provider, nil
}

// Dispatcher assembles a dispatcher instance from the container.
func (c *Container) Dispatcher() (*dispatcher.Dispatcher, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	cfg := c.Config
	return dispatcher.New(
		dispatcher.Config{
			TickInterval:       cfg.Dispatcher.TickInterval,
			MaxConcurrentCalls: cfg.Dispatcher.MaxConcurrentCalls,
			QueueBatchSize:     cfg.Dispatcher.QueueBatchSize,
			GatewayTimeout:     cfg.Gateway.RequestTimeout,
		},
		c.components.repositories.Campaigns,
		c.components.repositories.Tasks,
		c.components.repositories.DispatchQueue,
		c.components.hoursPolicy,
		c.components.admission.RateLimiter,
		c.components.admission.Cooldown,
		c.components.provider,
		c.components.publisher,
		c.Logger.Named("dispatcher"),
	), nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.OutcomeTopic}, 12, 1)
}

// Close releases all held resources.
func (c *Container) Close() error {
	var errs []error
	if c.components.publisher != nil {
		if err := c.components.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
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
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
