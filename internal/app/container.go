package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/cati-dispatch/internal/config"
	"github.com/acme/cati-dispatch/internal/infra/db"
	"github.com/acme/cati-dispatch/internal/infra/redis"
	"github.com/acme/cati-dispatch/internal/queue"
	"github.com/acme/cati-dispatch/internal/repository"
	pgrepo "github.com/acme/cati-dispatch/internal/repository/postgres"
	scyllarepo "github.com/acme/cati-dispatch/internal/repository/scylla"
	attemptsvc "github.com/acme/cati-dispatch/internal/service/attempt"
	dispatchsvc "github.com/acme/cati-dispatch/internal/service/dispatch"
	"github.com/acme/cati-dispatch/internal/service/locks"
	statssvc "github.com/acme/cati-dispatch/internal/service/stats"
	"github.com/acme/cati-dispatch/pkg/logger"
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
		repositories *repositories
		services     *services
		publishers   *publishers
	}
}

type repositories struct {
	Campaigns repository.CampaignConfigRepository
	Cases     repository.CaseStore
	Attempts  repository.AttemptStore
}

type services struct {
	Dispatch *dispatchsvc.Service
	Attempt  *attemptsvc.Service
	Stats    *statssvc.Service
}

type publishers struct {
	Attempts *queue.AttemptPublisher
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

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Campaigns: pgrepo.NewCampaignConfigRepository(c.Postgres.DB()),
			Cases:     pgrepo.NewCaseStore(c.Postgres.DB()),
			Attempts:  scyllarepo.NewAttemptStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			Attempts: queue.NewAttemptPublisher(c.Kafka, c.Config.Kafka.AttemptTopic),
		}

		svcs := &services{
			Dispatch: dispatchsvc.NewService(repos.Cases, repos.Campaigns, c.Config.Dispatch.CandidateLimit),
			Attempt:  attemptsvc.NewService(repos.Cases, repos.Attempts, repos.Campaigns, pubs.Attempts, c.Logger),
			Stats:    statssvc.NewService(repos.Cases, repos.Attempts, repos.Campaigns),
		}

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.services = svcs
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// SweeperLease builds the Redis lease that keeps a single sweeper active.
func (c *Container) SweeperLease() *locks.Lease {
	key := c.Config.Sweeper.LockKey
	if key == "" {
		key = "cati:sweeper:leader"
	}
	return locks.NewLease(c.Redis.Inner(), key, c.Config.Sweeper.LockTTL)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.publishers != nil && c.components.publishers.Attempts != nil {
		if err := c.components.publishers.Attempts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("attempt publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
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
		if err := c.Postgres.Close(ctx); err != nil {
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

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topic := c.Config.Kafka.AttemptTopic
	if topic == "" {
		return nil
	}
	return c.Kafka.EnsureTopics(ctx, []string{topic}, 12, 1)
}
