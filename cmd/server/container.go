package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/kanalhq/kanal/assets"
	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/engine/actionrun"
	"github.com/kanalhq/kanal/engine/condeval"
	"github.com/kanalhq/kanal/engine/convmanager"
	"github.com/kanalhq/kanal/engine/engineapi"
	"github.com/kanalhq/kanal/engine/engineinfra"
	"github.com/kanalhq/kanal/engine/render"
	"github.com/kanalhq/kanal/engine/scheduler"
	"github.com/kanalhq/kanal/engine/stepexec"
	"github.com/kanalhq/kanal/engine/transition"
	"github.com/kanalhq/kanal/pkg/config"
)

// Container contains all application dependencies
type Container struct {
	// =================================================================
	// CONFIGURATION & INFRASTRUCTURE
	// =================================================================
	Config      *config.Config
	DB          *sqlx.DB
	RedisClient *redis.Client

	// =================================================================
	// REPOSITORIES
	// =================================================================
	FlowRepo         engine.FlowRepository
	ConversationRepo engine.ConversationRepository
	TrailRepo        engine.TrailRepository
	OutboxRepo       engine.OutboxRepository

	// =================================================================
	// ENGINE
	// =================================================================
	Locker            engine.ConversationLocker
	MediaResolver     engine.MediaResolver
	Renderer          *render.Renderer
	Evaluator         *condeval.Evaluator
	Selector          *transition.Selector
	ActionRunner      *actionrun.Runner
	Executor          *stepexec.Executor
	Manager           *convmanager.Manager
	ReplyTimeoutSweep *scheduler.ReplyTimeoutSweeper

	// =================================================================
	// API
	// =================================================================
	EngineHandler *engineapi.EngineHandler
	EngineRoutes  *engineapi.EngineRoutes
}

// NewContainer wires every dependency. Order matters: repositories, then
// engine components, then the API layer on top.
func NewContainer(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client) *Container {
	c := &Container{
		Config:      cfg,
		DB:          db,
		RedisClient: redisClient,
	}

	// Repositories
	c.FlowRepo = engineinfra.NewCachedFlowRepository(
		engineinfra.NewPostgresFlowRepository(db),
		cfg.Engine.FlowCacheTTL,
	)
	c.ConversationRepo = engineinfra.NewPostgresConversationRepository(db)
	c.TrailRepo = engineinfra.NewPostgresTrailRepository(db)
	c.OutboxRepo = engineinfra.NewPostgresOutboxRepository(db)

	// Engine components
	c.Locker = engineinfra.NewRedisConversationLocker(
		redisClient, cfg.Engine.LockTTL, cfg.Engine.LockRetryInterval)
	c.MediaResolver = assets.NewS3MediaResolver(cfg.Assets)
	c.Renderer = render.NewRenderer(c.MediaResolver)
	c.Evaluator = condeval.NewEvaluator()
	c.Selector = transition.NewSelector(c.Evaluator)
	c.ActionRunner = actionrun.NewRunner(c.Renderer)
	c.Executor = stepexec.NewExecutor(c.Renderer, c.Selector, c.ActionRunner, &stepexec.Config{
		MaxStepChain:     cfg.Engine.MaxStepChain,
		MaxReplyAttempts: cfg.Engine.MaxReplyAttempts,
	})
	c.Manager = convmanager.NewManager(c.FlowRepo, c.ConversationRepo, c.Locker, c.Executor)
	c.ReplyTimeoutSweep = scheduler.NewReplyTimeoutSweeper(c.Manager, cfg.Engine.ReplyTimeout)

	// API
	c.EngineHandler = engineapi.NewEngineHandler(c.Manager, c.FlowRepo, c.ConversationRepo, c.TrailRepo)
	c.EngineRoutes = engineapi.NewEngineRoutes(c.EngineHandler)

	return c
}

// Cleanup stops background workers. Database and Redis connections are
// closed by main's defers.
func (c *Container) Cleanup() {
	if c.ReplyTimeoutSweep != nil {
		c.ReplyTimeoutSweep.Stop()
	}
}

// HealthCheck probes the container's external dependencies.
func (c *Container) HealthCheck() map[string]bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	health := make(map[string]bool)
	health["database"] = c.DB.PingContext(ctx) == nil
	health["redis"] = c.RedisClient.Ping(ctx).Err() == nil
	return health
}

// GetServiceNames lists the wired engine components, for startup logs and
// the debug endpoint.
func (c *Container) GetServiceNames() []string {
	return []string{
		"condition-evaluator",
		"transition-selector",
		"action-runner",
		"step-executor",
		"conversation-manager",
		"reply-timeout-sweeper",
	}
}

// GetRepositoryNames lists the wired repositories.
func (c *Container) GetRepositoryNames() []string {
	return []string{
		"flows (postgres, cached)",
		"conversations (postgres)",
		"trail (postgres)",
		"outbox (postgres)",
	}
}
