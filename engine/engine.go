package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/xraph/journey"
	"github.com/xraph/journey/cache"
	"github.com/xraph/journey/dispatcher"
	"github.com/xraph/journey/id"
	"github.com/xraph/journey/limits"
	mw "github.com/xraph/journey/middleware"
	"github.com/xraph/journey/node"
	"github.com/xraph/journey/workflow"
)

// Store is the persistence surface the engine needs: workflow
// definitions plus executions. store.Store satisfies it.
type Store interface {
	workflow.Store
	workflow.ExecutionStore
}

// Deps bundles the engine's constructor-injected collaborators.
// Store and Nodes are required; the rest are optional.
type Deps struct {
	// Store persists workflow definitions and executions.
	Store Store

	// Nodes resolves node type tags to handlers.
	Nodes *node.Registry

	// Cache, when set, keeps hot workflow definitions off the store.
	Cache cache.Cache

	// Limits, when set, overrides the default per-customer admission
	// manager built from the engine config.
	Limits *limits.Manager
}

// Engine is the workflow engine. Safe for concurrent use.
type Engine struct {
	store  Store
	nodes  *node.Registry
	cache  cache.Cache
	limits *limits.Manager

	cfg    journey.Config
	logger *slog.Logger
	clock  func() time.Time

	chain mw.Middleware
	mws   []mw.Middleware
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConfig overrides the default engine configuration.
func WithConfig(cfg journey.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// WithMiddleware appends middleware to the node-step chain, after the
// default recover/logging pair.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// New creates an engine from its collaborators.
func New(deps Deps, opts ...Option) (*Engine, error) {
	if deps.Store == nil {
		return nil, journey.ErrNoStore
	}

	e := &Engine{
		store:  deps.Store,
		nodes:  deps.Nodes,
		cache:  deps.Cache,
		limits: deps.Limits,
		cfg:    journey.DefaultConfig(),
		logger: slog.Default(),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.nodes == nil {
		e.nodes = node.NewRegistry()
	}
	if e.limits == nil {
		e.limits = limits.NewManager(limits.Config{
			MaxConcurrent: e.cfg.MaxConcurrentPerCustomer,
		})
	}

	// Default stack: recover outermost, then logging, then any
	// caller-supplied middleware.
	all := append([]mw.Middleware{
		mw.Recover(e.logger),
		mw.Logging(e.logger),
	}, e.mws...)
	e.chain = mw.Chain(all...)

	return e, nil
}

// Limits returns the engine's admission manager.
func (e *Engine) Limits() *limits.Manager { return e.limits }

// Summary reports the outcome of a workflow create or update.
type Summary struct {
	ID        id.WorkflowID   `json:"id"`
	NodeCount int             `json:"node_count"`
	Status    workflow.Status `json:"status"`
}

// CreateWorkflow validates and persists a new workflow definition.
// The definition's node types must all be registered. New workflows
// default to active.
func (e *Engine) CreateWorkflow(ctx context.Context, w *workflow.Workflow) (*Summary, error) {
	if w.ID.IsNil() {
		w.ID = id.NewWorkflowID()
	}
	if w.Status == "" {
		w.Status = workflow.StatusActive
	}
	w.Entity = journey.NewEntity()

	if err := e.validateDefinition(w); err != nil {
		return nil, err
	}

	if err := e.store.CreateWorkflow(ctx, w); err != nil {
		return nil, err
	}
	e.cacheDefinition(ctx, w)

	e.logger.Info("workflow created",
		slog.String("workflow_id", w.ID.String()),
		slog.String("name", w.Name),
		slog.Int("nodes", len(w.Nodes)))
	return &Summary{ID: w.ID, NodeCount: len(w.Nodes), Status: w.Status}, nil
}

// UpdateWorkflow validates and persists a replacement definition for
// an existing workflow.
func (e *Engine) UpdateWorkflow(ctx context.Context, wfID id.WorkflowID, w *workflow.Workflow) (*Summary, error) {
	existing, err := e.store.GetWorkflow(ctx, wfID)
	if err != nil {
		return nil, err
	}

	w.ID = wfID
	w.Entity = existing.Entity
	w.Touch()
	if w.Status == "" {
		w.Status = existing.Status
	}

	if err := e.validateDefinition(w); err != nil {
		return nil, err
	}

	if err := e.store.UpdateWorkflow(ctx, w); err != nil {
		return nil, err
	}
	e.cacheDefinition(ctx, w)

	e.logger.Info("workflow updated",
		slog.String("workflow_id", wfID.String()),
		slog.String("name", w.Name))
	return &Summary{ID: w.ID, NodeCount: len(w.Nodes), Status: w.Status}, nil
}

// DeleteWorkflow removes a workflow definition. It fails with a
// ConflictError while any execution of the workflow is still active.
func (e *Engine) DeleteWorkflow(ctx context.Context, wfID id.WorkflowID) error {
	active, err := e.store.CountActiveByWorkflow(ctx, wfID)
	if err != nil {
		return err
	}
	if active > 0 {
		return &journey.ConflictError{
			Msg: "workflow " + wfID.String() + " has active executions",
		}
	}

	if err := e.store.DeleteWorkflow(ctx, wfID); err != nil {
		return err
	}
	e.invalidateDefinition(ctx, wfID)

	e.logger.Info("workflow deleted", slog.String("workflow_id", wfID.String()))
	return nil
}

// GetWorkflow loads a workflow definition, cache first.
func (e *Engine) GetWorkflow(ctx context.Context, wfID id.WorkflowID) (*workflow.Workflow, error) {
	return e.loadDefinition(ctx, wfID)
}

// ListWorkflows returns workflow definitions matching the options.
func (e *Engine) ListWorkflows(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	return e.store.ListWorkflows(ctx, opts)
}

// GetExecution retrieves an execution by ID.
func (e *Engine) GetExecution(ctx context.Context, execID id.ExecutionID) (*workflow.Execution, error) {
	return e.store.GetExecution(ctx, execID)
}

// ListExecutions returns executions matching the options.
func (e *Engine) ListExecutions(ctx context.Context, opts workflow.ExecListOpts) ([]*workflow.Execution, error) {
	return e.store.ListExecutions(ctx, opts)
}

// validateDefinition runs structural validation plus a registration
// check for every node type the definition references.
func (e *Engine) validateDefinition(w *workflow.Workflow) error {
	if err := workflow.Validate(w, e.cfg.MaxNodesPerWorkflow); err != nil {
		return err
	}
	for i := range w.Nodes {
		if !e.nodes.Has(w.Nodes[i].Type) {
			return &journey.NotFoundError{Kind: "node type", ID: w.Nodes[i].Type}
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Definition cache
// ──────────────────────────────────────────────────

func definitionKey(wfID id.WorkflowID) string {
	return "workflow:" + wfID.String()
}

// loadDefinition reads a workflow cache-first, falling back to the
// store and repopulating the cache on a miss.
func (e *Engine) loadDefinition(ctx context.Context, wfID id.WorkflowID) (*workflow.Workflow, error) {
	if e.cache != nil {
		if raw, ok, err := e.cache.Get(ctx, definitionKey(wfID)); err == nil && ok {
			var w workflow.Workflow
			if err := json.Unmarshal(raw, &w); err == nil {
				return &w, nil
			}
			// Corrupt cache entry; fall through to the store.
			e.invalidateDefinition(ctx, wfID)
		}
	}

	w, err := e.store.GetWorkflow(ctx, wfID)
	if err != nil {
		return nil, err
	}
	e.cacheDefinition(ctx, w)
	return w, nil
}

// cacheDefinition stores a definition in the cache. Best effort: cache
// failures are logged, never surfaced.
func (e *Engine) cacheDefinition(ctx context.Context, w *workflow.Workflow) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, definitionKey(w.ID), raw, e.cfg.CacheTTL); err != nil {
		e.logger.Warn("workflow cache set failed",
			slog.String("workflow_id", w.ID.String()),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) invalidateDefinition(ctx context.Context, wfID id.WorkflowID) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, definitionKey(wfID)); err != nil {
		e.logger.Warn("workflow cache delete failed",
			slog.String("workflow_id", wfID.String()),
			slog.String("error", err.Error()))
	}
}

// EventListener adapts the engine's event-trigger path to a dispatcher
// listener. Register it on the event names (or wildcard patterns) that
// should start workflows:
//
//	d.AddListener("customer.*", eng.EventListener(), 0)
//
// The returned value is the number of workflow executions started.
func (e *Engine) EventListener() dispatcher.Listener {
	return func(ctx context.Context, event string, payload map[string]any) (any, error) {
		return e.TriggerWorkflowsByEvent(ctx, event, payload)
	}
}
