package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tview/internal/capture"
	"github.com/roach88/tview/internal/config"
	"github.com/roach88/tview/internal/graph"
	"github.com/roach88/tview/internal/metrics"
	"github.com/roach88/tview/internal/patch"
	"github.com/roach88/tview/internal/refresh"
	"github.com/roach88/tview/internal/store"
)

// DefaultBulkThreshold is the smallest per-entity key set refreshed as a
// batch.
const DefaultBulkThreshold = 10

// DefaultPreparedTTL is how long a prepared snapshot is kept before the
// sweeper reports and purges it.
const DefaultPreparedTTL = 24 * time.Hour

// Engine keeps derived documents in step with their source tables.
//
// Writes go through a Tx. Capture triggers enqueue the affected keys into
// the transaction's queue, and Commit runs the cascade over them before
// the SQL COMMIT, so a transaction either commits with every derived
// document refreshed or not at all.
//
// Thread-safety model:
//   - Begin, admin and 2PC methods: safe from any goroutine; write
//     transactions serialize on the single store connection
//   - Tx: owned by one goroutine
//   - the dependency graph is shared read-mostly state, swapped atomically
//     on register/drop
type Engine struct {
	store     *store.Store
	graph     *graph.Graph
	computers *refresh.Registry
	executor  *refresh.Executor
	keys      *capture.KeyResolver
	conns     *capture.Registry

	ids      IDGenerator
	clock    Clock
	recorder metrics.Recorder
	logger   *slog.Logger
	observer func(refresh.Result)

	maxPropagationDepth int
	maxDependencyDepth  int
	bulkThreshold       int
	maxBatchSize        int
	maxPatchOps         int
	graphCacheEnabled   bool
	tableCacheEnabled   bool
	preparedTTL         time.Duration

	fallback  refresh.Computer
	overrides map[string]refresh.Computer
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithConfig applies every tunable of cfg. Later options override it.
func WithConfig(cfg config.Config) EngineOption {
	return func(e *Engine) {
		e.maxPropagationDepth = cfg.MaxPropagationDepth
		e.maxDependencyDepth = cfg.MaxDependencyDepth
		e.bulkThreshold = cfg.BulkThreshold
		e.maxBatchSize = cfg.MaxBatchSize
		e.maxPatchOps = cfg.MaxPatchOps
		e.graphCacheEnabled = cfg.GraphCacheEnabled
		e.tableCacheEnabled = cfg.TableCacheEnabled
		e.recorder = metrics.Recorder{Enabled: cfg.MetricsEnabled}
		e.preparedTTL = cfg.PreparedTTL
	}
}

// WithMaxPropagationDepth sets the cascade iteration limit.
//
// Default: 100 (DefaultMaxPropagationDepth)
// Use WithMaxPropagationDepth(2) for testing the depth guard.
func WithMaxPropagationDepth(n int) EngineOption {
	return func(e *Engine) { e.maxPropagationDepth = n }
}

// WithMaxDependencyDepth sets the longest allowed chain of derived entities.
func WithMaxDependencyDepth(n int) EngineOption {
	return func(e *Engine) { e.maxDependencyDepth = n }
}

// WithBulkThreshold sets the per-entity key count that switches to batch
// refresh.
func WithBulkThreshold(n int) EngineOption {
	return func(e *Engine) { e.bulkThreshold = n }
}

// WithMaxBatchSize sets the largest single batch refresh.
func WithMaxBatchSize(n int) EngineOption {
	return func(e *Engine) { e.maxBatchSize = n }
}

// WithMaxPatchOps sets the largest op count applied as a partial update.
func WithMaxPatchOps(n int) EngineOption {
	return func(e *Engine) { e.maxPatchOps = n }
}

// WithPreparedTTL sets how long prepared snapshots are kept.
func WithPreparedTTL(d time.Duration) EngineOption {
	return func(e *Engine) { e.preparedTTL = d }
}

// WithClock sets the wall clock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the generator of session and audit ids.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithMetrics enables the Prometheus collectors.
func WithMetrics(enabled bool) EngineOption {
	return func(e *Engine) { e.recorder = metrics.Recorder{Enabled: enabled} }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithComputer assigns the Computer of one entity.
func WithComputer(entity string, c refresh.Computer) EngineOption {
	return func(e *Engine) { e.overrides[entity] = c }
}

// WithDefaultComputer replaces SQLComputer for entities without their own
// Computer.
func WithDefaultComputer(c refresh.Computer) EngineOption {
	return func(e *Engine) { e.fallback = c }
}

// WithObserver registers fn to receive every refresh result of every
// cascade, in processing order. fn runs inside the transaction and must
// not call back into the engine.
func WithObserver(fn func(refresh.Result)) EngineOption {
	return func(e *Engine) { e.observer = fn }
}

// Open opens the database at path through the capture driver and returns
// an engine over it. Close releases the database.
func Open(ctx context.Context, path string, opts ...EngineOption) (*Engine, error) {
	s, err := store.Open(path, store.WithDriver(capture.RegisterDriver()))
	if err != nil {
		return nil, classify(err)
	}
	e, err := New(ctx, s, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return e, nil
}

// New creates an engine over s and loads the registered entities. s must
// have been opened through the capture driver (see Open) for source writes
// to be captured.
func New(ctx context.Context, s *store.Store, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:               s,
		conns:               capture.Connections,
		ids:                 UUIDv7Generator{},
		clock:               SystemClock{},
		logger:              slog.Default(),
		maxPropagationDepth: DefaultMaxPropagationDepth,
		maxDependencyDepth:  graph.DefaultMaxDepth,
		bulkThreshold:       DefaultBulkThreshold,
		maxBatchSize:        refresh.DefaultMaxBatchSize,
		maxPatchOps:         patch.DefaultMaxOps,
		graphCacheEnabled:   true,
		tableCacheEnabled:   true,
		preparedTTL:         DefaultPreparedTTL,
		overrides:           make(map[string]refresh.Computer),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.graph = graph.New(
		graph.WithMaxDepth(e.maxDependencyDepth),
		graph.WithOrderCache(e.graphCacheEnabled),
		graph.WithTableCache(e.tableCacheEnabled),
		graph.WithRecorder(e.recorder),
	)
	e.computers = refresh.NewRegistry(e.fallback)
	for name, c := range e.overrides {
		e.computers.Set(name, c)
	}
	e.executor = refresh.NewExecutor(s, e.graph, e.computers,
		refresh.WithMaxPatchOps(e.maxPatchOps),
		refresh.WithMaxBatchSize(e.maxBatchSize),
		refresh.WithClock(e.clock.Now),
		refresh.WithRecorder(e.recorder),
		refresh.WithLogger(e.logger),
	)
	e.keys = capture.NewKeyResolver(e.tableCacheEnabled, e.recorder)

	entities, err := s.LoadEntities(ctx, s.DB())
	if err != nil {
		return nil, classify(err)
	}
	if err := e.graph.Load(entities); err != nil {
		return nil, classify(fmt.Errorf("load entity graph: %w", err))
	}
	// Startup recovery: orphans are reported, not resolved.
	if _, err := e.RecoverPrepared(ctx); err != nil {
		return nil, err
	}
	e.logger.Info("engine ready",
		"entities", e.graph.Len(),
		"depth", e.graph.Depth())
	return e, nil
}

// Close closes the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store { return e.store }

// Graph returns the dependency graph.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// SetComputer assigns the Computer of entity at runtime.
func (e *Engine) SetComputer(entity string, c refresh.Computer) {
	e.computers.Set(entity, c)
}
