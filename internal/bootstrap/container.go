package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws/session"
	awsdynamodb "github.com/aws/aws-sdk-go/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go/service/eventbridge"
	"github.com/aws/aws-sdk-go/service/ssm"
	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/api/http/handlers"
	"github.com/spec-kit/security-ir-jira/internal/caseapi"
	"github.com/spec-kit/security-ir-jira/internal/config"
	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/jira"
	"github.com/spec-kit/security-ir-jira/internal/messaging/eventbridge"
	"github.com/spec-kit/security-ir-jira/internal/messaging/kafka"
	"github.com/spec-kit/security-ir-jira/internal/messaging/rabbitmq"
	"github.com/spec-kit/security-ir-jira/internal/observability"
	"github.com/spec-kit/security-ir-jira/internal/persistence"
	"github.com/spec-kit/security-ir-jira/internal/repository"
	"github.com/spec-kit/security-ir-jira/internal/service"
	"github.com/spec-kit/security-ir-jira/internal/worker"
)

// runner is a transport consumer loop started by Run.
type runner interface {
	Run(ctx context.Context) error
}

// Container builds the collaborators of a process lazily, so each entry
// point only connects to what it uses.
type Container struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	session  *session.Session
	postgres *persistence.Postgres
	redis    *persistence.Redis
	store    *repository.Store
	bus      events.Bus
	ebBus    *eventbridge.Bus
	runners  []runner
	closers  []func()
	jira     *jira.Client
	cases    *caseapi.Client
	statuses *service.StatusMap
	guard    *service.Guard
	poller   *worker.CasePoller
	pingers  map[string]handlers.Pinger
}

// New creates a container.
func New(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) *Container {
	return &Container{cfg: cfg, logger: logger, metrics: metrics, pingers: map[string]handlers.Pinger{}}
}

// Config returns the loaded configuration.
func (c *Container) Config() *config.Config { return c.cfg }

// Logger returns the process logger.
func (c *Container) Logger() *zap.Logger { return c.logger }

// Metrics returns the process metrics.
func (c *Container) Metrics() *observability.Metrics { return c.metrics }

// AWSSession returns the shared SDK session.
func (c *Container) AWSSession() (*session.Session, error) {
	if c.session != nil {
		return c.session, nil
	}
	sess, err := persistence.NewAWSSession(c.cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	c.session = sess
	return sess, nil
}

// Store returns the case store selected by STORE_BACKEND, fronted by the
// Redis deduplication cache when Redis is configured.
func (c *Container) Store(ctx context.Context) (*repository.Store, error) {
	if c.store != nil {
		return c.store, nil
	}

	var store *repository.Store
	switch c.cfg.Store.Backend {
	case config.StoreBackendPostgres:
		pg, err := persistence.OpenPostgres(ctx, c.cfg.Postgres, c.logger)
		if err != nil {
			return nil, err
		}
		c.postgres = pg
		c.closers = append(c.closers, pg.Close)
		c.pingers["postgres"] = pg
		store = pg.Store()
	case config.StoreBackendDynamoDB:
		sess, err := c.AWSSession()
		if err != nil {
			return nil, err
		}
		store = repository.NewDynamoStore(awsdynamodb.New(sess), c.cfg.Store.DynamoTable, c.cfg.Redis.DedupTTL()).Store()
	default:
		c.logger.Warn("using in-memory case store; state is lost on restart")
		store = repository.NewMemoryStore().Store()
	}

	if c.redis == nil {
		c.redis = persistence.NewRedis(c.cfg.Redis, c.logger)
		if c.redis != nil {
			c.closers = append(c.closers, c.redis.Close)
			c.pingers["redis"] = c.redis
		}
	}
	store.Processed = c.redis.DedupProcessed(store.Processed)

	c.store = store
	return store, nil
}

// Bus returns the event bus selected by EVENT_BUS_BACKEND.
func (c *Container) Bus() (events.Bus, error) {
	if c.bus != nil {
		return c.bus, nil
	}
	policy := events.RetryPolicy{MaxAttempts: c.cfg.Bus.MaxAttempts, Backoff: c.cfg.Bus.Backoff()}
	logger := c.logger.Named("bus")

	switch c.cfg.Bus.Backend {
	case config.BusBackendEventBridge:
		bus, err := c.EventBridge()
		if err != nil {
			return nil, err
		}
		c.bus = bus
	case config.BusBackendKafka:
		kcfg := kafka.Config{Brokers: c.cfg.Bus.KafkaBrokers, Topic: c.cfg.Bus.KafkaTopic, GroupID: c.cfg.Bus.KafkaGroupID}
		bus := kafka.NewBus(kafka.NewWriter(kcfg), kafka.NewReader(kcfg), policy, logger)
		c.runners = append(c.runners, bus)
		c.closers = append(c.closers, func() { _ = bus.Close() })
		c.bus = bus
	case config.BusBackendRabbitMQ:
		bus, err := rabbitmq.Dial(rabbitmq.Config{
			URL:      c.cfg.Bus.AMQPURL,
			Exchange: c.cfg.Bus.AMQPExchange,
			Queue:    c.cfg.Bus.AMQPQueue,
		}, policy, logger)
		if err != nil {
			return nil, err
		}
		c.runners = append(c.runners, bus)
		c.closers = append(c.closers, func() { _ = bus.Close() })
		c.bus = bus
	default:
		bus := events.NewInMemoryDispatcher(logger, policy)
		c.closers = append(c.closers, bus.Wait)
		c.bus = bus
	}
	return c.bus, nil
}

// EventBridge returns the EventBridge bus. Lambda consumers use it to
// route deliveries regardless of EVENT_BUS_BACKEND.
func (c *Container) EventBridge() (*eventbridge.Bus, error) {
	if c.ebBus != nil {
		return c.ebBus, nil
	}
	sess, err := c.AWSSession()
	if err != nil {
		return nil, err
	}
	c.ebBus = eventbridge.NewBus(awseventbridge.New(sess), c.cfg.Bus.EventBusName, c.logger.Named("bus"))
	return c.ebBus, nil
}

// Jira returns the Jira client, resolving credentials from SSM first when
// enabled.
func (c *Container) Jira(ctx context.Context) (*jira.Client, error) {
	if c.jira != nil {
		return c.jira, nil
	}
	if c.cfg.AWS.SSMEnabled {
		sess, err := c.AWSSession()
		if err != nil {
			return nil, err
		}
		if err := c.cfg.ResolveJiraCredentials(ctx, ssm.New(sess)); err != nil {
			return nil, fmt.Errorf("resolve jira credentials: %w", err)
		}
	}
	client, err := jira.NewClient(jira.Config{
		BaseURL:    c.cfg.Jira.URL,
		Email:      c.cfg.Jira.Email,
		Token:      c.cfg.Jira.Token,
		Timeout:    c.cfg.Jira.Timeout(),
		MaxRetries: c.cfg.Jira.MaxRetries,
		Logger:     c.logger.Named("jira"),
	})
	if err != nil {
		return nil, err
	}
	c.jira = client
	return client, nil
}

// Cases returns the case-management client signed with the session
// credentials.
func (c *Container) Cases() (*caseapi.Client, error) {
	if c.cases != nil {
		return c.cases, nil
	}
	sess, err := c.AWSSession()
	if err != nil {
		return nil, err
	}
	client, err := caseapi.NewClient(caseapi.Config{
		Endpoint:         c.cfg.SecurityIR.Endpoint,
		Region:           c.cfg.SecurityIR.Region,
		Credentials:      sess.Config.Credentials,
		Logger:           c.logger.Named("security_ir"),
		ResolverType:     c.cfg.SecurityIR.ResolverType,
		EngagementType:   c.cfg.SecurityIR.EngagementType,
		ImpactedAccounts: c.cfg.SecurityIR.ImpactedAccounts,
		WatcherEmail:     c.cfg.SecurityIR.WatcherEmail,
	})
	if err != nil {
		return nil, err
	}
	c.cases = client
	return client, nil
}

// StatusMap returns the status mapping, with file overrides applied.
func (c *Container) StatusMap() (service.StatusMap, error) {
	if c.statuses != nil {
		return *c.statuses, nil
	}
	m, err := service.LoadStatusMap(c.cfg.Jira.StatusMapFile)
	if err != nil {
		return service.StatusMap{}, err
	}
	c.statuses = &m
	return m, nil
}

// Guard returns the idempotency guard over the processed-event store.
func (c *Container) Guard(ctx context.Context) (*service.Guard, error) {
	if c.guard != nil {
		return c.guard, nil
	}
	store, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}
	c.guard = service.NewGuard(store.Processed, c.metrics, c.logger.Named("guard"))
	return c.guard, nil
}

// Inbound builds the webhook service publishing to pub.
func (c *Container) Inbound(pub events.Publisher) *service.InboundService {
	return service.NewInboundService(service.InboundDependencies{
		Publisher:          pub,
		IntegrationAccount: c.cfg.Jira.IntegrationAccount,
		Metrics:            c.metrics,
		Logger:             c.logger.Named("inbound"),
	})
}

// Outbound builds the case to Jira service.
func (c *Container) Outbound(ctx context.Context) (*service.OutboundService, error) {
	store, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}
	tickets, err := c.Jira(ctx)
	if err != nil {
		return nil, err
	}
	cases, err := c.Cases()
	if err != nil {
		return nil, err
	}
	statuses, err := c.StatusMap()
	if err != nil {
		return nil, err
	}
	return service.NewOutboundService(service.OutboundDependencies{
		Cases:      cases,
		Tickets:    tickets,
		Links:      store.Links,
		Statuses:   statuses,
		ProjectKey: c.cfg.Jira.ProjectKey,
		IssueType:  c.cfg.Jira.IssueType,
		Logger:     c.logger.Named("outbound"),
	}), nil
}

// ReverseSync builds the Jira to case service.
func (c *Container) ReverseSync(ctx context.Context) (*service.ReverseSyncService, error) {
	store, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}
	cases, err := c.Cases()
	if err != nil {
		return nil, err
	}
	statuses, err := c.StatusMap()
	if err != nil {
		return nil, err
	}
	return service.NewReverseSyncService(service.ReverseSyncDependencies{
		Cases:       cases,
		Links:       store.Links,
		Statuses:    statuses,
		CreateCases: c.cfg.SecurityIR.CreateCases,
		Logger:      c.logger.Named("reverse_sync"),
	}), nil
}

// Poller builds the case poller publishing to pub.
func (c *Container) Poller(ctx context.Context, pub events.Publisher) (*worker.CasePoller, error) {
	if c.poller != nil {
		return c.poller, nil
	}
	store, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}
	cases, err := c.Cases()
	if err != nil {
		return nil, err
	}
	c.poller = worker.NewCasePoller(worker.CasePollerDependencies{
		Cases:      cases,
		Snapshots:  store.Snapshots,
		Watermarks: store.Watermarks,
		Publisher:  pub,
		Metrics:    c.metrics,
		Logger:     c.logger,
		Interval:   c.cfg.Poller.Interval(),
		Lookback:   c.cfg.Poller.Lookback(),
	})
	return c.poller, nil
}

// Pingers lists the connected dependencies for readiness checks.
func (c *Container) Pingers() map[string]handlers.Pinger {
	return c.pingers
}

// Run starts the consumer loops of the selected transport and blocks
// until ctx is done or one of them fails.
func (c *Container) Run(ctx context.Context) error {
	if len(c.runners) == 0 {
		<-ctx.Done()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(c.runners))
	var wg sync.WaitGroup
	for _, r := range c.runners {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}(r)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		c.logger.Error("bus consumer stopped", zap.Error(err))
	}
	cancel()
	wg.Wait()
	return err
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
