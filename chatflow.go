package chatflow

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/chatflow/internal/engine"
	"github.com/petrijr/chatflow/internal/persistence"
	"github.com/petrijr/chatflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Config               = api.Config
	GraphDefinition      = api.GraphDefinition
	Node                 = api.Node
	NodeType             = api.NodeType
	Connection           = api.Connection
	FlowExecution        = api.FlowExecution
	ExecutionContext     = api.ExecutionContext
	ExecutionStep        = api.ExecutionStep
	InitialContext       = api.InitialContext
	ResumeEvent          = api.ResumeEvent
	ResumeType           = api.ResumeType
	Status               = api.Status
	ExecutionFilter      = api.ExecutionFilter
	ActiveExecution      = api.ActiveExecution
	MessagingGateway     = api.MessagingGateway
	OutboundMessage      = api.OutboundMessage
	OutboundMedia        = api.OutboundMedia
	DeliveryReceipt      = api.DeliveryReceipt
	Observer             = api.Observer
	Event                = api.Event
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	Broadcaster          = api.Broadcaster
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewBroadcaster       = api.NewBroadcaster
	DefaultConfig        = api.DefaultConfig
)

// Re-export status values for convenience.

const (
	StatusRunning   = api.StatusRunning
	StatusPaused    = api.StatusPaused
	StatusCompleted = api.StatusCompleted
	StatusError     = api.StatusError
	StatusStopped   = api.StatusStopped
)

// Re-export node types.

const (
	NodeStart        = api.NodeStart
	NodeEnd          = api.NodeEnd
	NodeError        = api.NodeError
	NodeSendMessage  = api.NodeSendMessage
	NodeSendMedia    = api.NodeSendMedia
	NodeCondition    = api.NodeCondition
	NodeMenu         = api.NodeMenu
	NodeDelay        = api.NodeDelay
	NodeAPICall      = api.NodeAPICall
	NodeWebhook      = api.NodeWebhook
	NodeVariable     = api.NodeVariable
	NodeLoop         = api.NodeLoop
	NodeRandom       = api.NodeRandom
	NodeAssignment   = api.NodeAssignment
	NodeValidation   = api.NodeValidation
	NodeDatabase     = api.NodeDatabase
	NodeTag          = api.NodeTag
	NodeQueue        = api.NodeQueue
	NodeHumanHandoff = api.NodeHumanHandoff
	NodeAnalytics    = api.NodeAnalytics
	NodeIntegration  = api.NodeIntegration
)

// Re-export resume event types.

const (
	ResumeUserInput       = api.ResumeUserInput
	ResumeWebhookResponse = api.ResumeWebhookResponse
	ResumeGenericWebhook  = api.ResumeGenericWebhook
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine(gateway MessagingGateway) Engine {
	return engine.NewInMemoryEngine(gateway)
}

// NewInMemoryEngineWithObserver returns an in-memory Engine that reports
// progress to obs.
func NewInMemoryEngineWithObserver(gateway MessagingGateway, obs Observer) Engine {
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.NewInMemory(),
		Gateway:     gateway,
		Observer:    obs,
	})
}

// NewSQLiteEngine returns an Engine that persists executions and event
// history in a SQLite database. Graph definitions are kept in memory.
func NewSQLiteEngine(db *sql.DB, gateway MessagingGateway) (Engine, error) {
	return engine.NewSQLiteEngine(db, gateway)
}

// NewPostgresEngine returns an Engine that persists executions in PostgreSQL.
func NewPostgresEngine(db *sql.DB, gateway MessagingGateway) (Engine, error) {
	return engine.NewPostgresEngine(db, gateway)
}

// NewRedisEngine returns an Engine that persists executions in Redis.
func NewRedisEngine(client *redis.Client, gateway MessagingGateway) Engine {
	return engine.NewRedisEngine(client, gateway)
}

// NewMongoEngine returns an Engine that persists executions in MongoDB.
func NewMongoEngine(client *mongo.Client, gateway MessagingGateway) Engine {
	return engine.NewMongoEngine(client, gateway)
}

// Convenience helpers that just forward to the underlying Engine.

// Execute registers graph and runs it until it ends, pauses or fails.
func Execute(ctx context.Context, eng Engine, graph GraphDefinition, init InitialContext) (*FlowExecution, error) {
	if err := eng.RegisterFlow(graph); err != nil {
		return nil, err
	}
	return eng.ExecuteFlow(ctx, graph, init)
}

// Reply resumes a paused execution with a user message.
func Reply(ctx context.Context, eng Engine, flowID, executionID string, text any) (*FlowExecution, error) {
	return eng.Resume(ctx, ResumeEvent{
		FlowID:      flowID,
		ExecutionID: executionID,
		Type:        ResumeUserInput,
		Data:        text,
	})
}

// Validate checks that graph can be registered.
func Validate(graph GraphDefinition) error {
	return engine.Validate(graph)
}
