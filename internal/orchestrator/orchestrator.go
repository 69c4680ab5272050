// Package orchestrator implements the Service Orchestrator (C8): the single
// owner of every other component's lifecycle and of structured/vector
// cross-store consistency (SPEC_FULL.md §4.8).
//
// Grounded on internal/rag/biz/service.go's compose-Indexer+Retriever+
// Generator-into-one-Service shape (generalised here to Gateway+Store+
// Queue+Compressor+Retriever+Injector) and internal/rag/app.go's sequential
// component construction (generalised into the phased, retried,
// rollback-on-failure init spec.md §4.8 requires — app.go itself has no
// retry/rollback, since the teacher's server simply exits non-zero on
// startup failure).
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kart-io/logger"

	"github.com/kart-io/memoryd/internal/compressor"
	"github.com/kart-io/memoryd/internal/gateway"
	"github.com/kart-io/memoryd/internal/injector"
	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/internal/queue"
	"github.com/kart-io/memoryd/internal/retriever"
	"github.com/kart-io/memoryd/internal/store/structured"
	"github.com/kart-io/memoryd/internal/store/vector"
	redisclient "github.com/kart-io/memoryd/pkg/component/redis"
	"github.com/kart-io/memoryd/pkg/component/postgres"
	"github.com/kart-io/memoryd/pkg/infra/tracing"
	"github.com/kart-io/memoryd/pkg/llm/resilience"
)

// Orchestrator owns every component and exposes the public operations
// named in spec.md §4.8.
type Orchestrator struct {
	cfg *Config

	pg    *postgres.Client
	redis *redisclient.Client

	gateway    *gateway.Gateway
	structured *structured.Store
	vector     *vector.Store
	spool      *queue.Spool
	drainer    *queue.Drainer
	compressor *compressor.Compressor
	retriever  *retriever.Retriever
	injector   *injector.Injector

	locks *lockTable

	drainerDone chan struct{}

	tracerProvider *tracing.Provider
}

// Init runs the phased initialisation procedure from spec.md §4.8. On any
// required component's failure after retries, everything already
// initialised is released and a single fatal error is returned — partial
// service is never exposed.
func Init(ctx context.Context, cfg *Config) (*Orchestrator, error) {
	if cfg.InitRetry == nil {
		cfg.InitRetry = DefaultInitRetry()
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}

	o := &Orchestrator{cfg: cfg, locks: newLockTable(cfg.LockStripes)}

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: tracing provider: %w", err)
	}
	o.tracerProvider = tp

	var cleanups []func()
	rollback := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	var mu sync.Mutex
	addCleanup := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		cleanups = append(cleanups, fn)
	}
	addCleanup(func() { _ = o.tracerProvider.Shutdown(context.Background()) })

	// Phase 1 (parallel): Model Gateway, Structured Store, Capture Queue.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pgClient, err := initWithRetry(gctx, cfg.InitRetry, func() (*postgres.Client, error) {
			return postgres.NewWithContext(gctx, cfg.Postgres)
		})
		if err != nil {
			return fmt.Errorf("orchestrator: structured store: %w", err)
		}
		o.pg = pgClient
		o.structured = structured.New(pgClient)
		addCleanup(func() { _ = pgClient.Close() })
		return nil
	})
	g.Go(func() error {
		var redisClient *goredis.Client
		if cfg.Redis != nil {
			rc, err := redisclient.NewWithContext(gctx, cfg.Redis)
			if err != nil {
				return fmt.Errorf("orchestrator: redis: %w", err)
			}
			o.redis = rc
			redisClient = rc.Client()
			addCleanup(func() { _ = rc.Close() })
		}
		gw, err := initWithRetry(gctx, cfg.InitRetry, func() (*gateway.Gateway, error) {
			return gateway.New(cfg.Gateway, redisClient, o.structuredOnceReady)
		})
		if err != nil {
			return fmt.Errorf("orchestrator: model gateway: %w", err)
		}
		o.gateway = gw
		addCleanup(gw.Close)
		return nil
	})
	g.Go(func() error {
		spool, err := initWithRetry(gctx, cfg.InitRetry, func() (*queue.Spool, error) {
			return queue.Open(cfg.Queue.SpoolDir)
		})
		if err != nil {
			return fmt.Errorf("orchestrator: capture queue spool: %w", err)
		}
		o.spool = spool

		drainerCfg := cfg.Queue.Drainer
		if drainerCfg == nil {
			drainerCfg = queue.DefaultDrainerConfig("")
		}
		drainer, err := queue.NewDrainer(spool, drainerCfg, cfg.Queue.Capacity)
		if err != nil {
			return fmt.Errorf("orchestrator: capture queue drainer: %w", err)
		}
		o.drainer = drainer
		o.drainerDone = make(chan struct{})
		go func() {
			defer close(o.drainerDone)
			o.drainer.Run(context.Background())
		}()
		addCleanup(drainer.Close)
		return nil
	})
	if err := g.Wait(); err != nil {
		rollback()
		return nil, fmt.Errorf("orchestrator: phase 1 init failed: %w", err)
	}

	// Phase 2 (sequential): Vector Store client.
	vecStore, err := initWithRetry(ctx, cfg.InitRetry, func() (*vector.Store, error) {
		return vector.New(ctx, cfg.Vector.Address, cfg.Vector.Username, cfg.Vector.Password, cfg.Vector.Database, cfg.Vector.Dimension, cfg.Vector.Timeout)
	})
	if err != nil {
		rollback()
		return nil, fmt.Errorf("orchestrator: phase 2 (vector store) init failed: %w", err)
	}
	o.vector = vecStore
	addCleanup(func() { _ = vecStore.Close(context.Background()) })

	if err := vecStore.EnsureCollection(ctx); err != nil {
		rollback()
		return nil, fmt.Errorf("orchestrator: vector store collection setup failed: %w", err)
	}

	// Phase 3 (sequential): Compressor, Retriever, Injector.
	o.compressor = compressor.New(o.gateway, o.gateway, cfg.Compressor)
	o.retriever = retriever.New(retriever.Config{
		Vector:  o.vector,
		Keyword: keywordSearchAdapter{store: o.structured},
		Units:   retriever.NewCachedUnitGetter(o.structured, unitCacheTTL),
		Embed:   o.gateway,
		Rerank:  o.gateway,
	})
	o.injector = injector.New(o.gateway, cfg.Injector)

	return o, nil
}

// structuredOnceReady is passed to gateway.New before the structured store
// may exist yet (Phase 1's two branches race); it defers to whichever
// *structured.Store Phase 1 eventually installs so cost records recorded
// mid-init are never dropped. Safe because Complete/Embed are never called
// until Init returns.
func (o *Orchestrator) structuredOnceReady(ctx context.Context, rec *model.CostRecord) error {
	if o.structured == nil {
		return nil
	}
	return o.structured.InsertCostRecord(ctx, rec)
}

// initWithRetry wraps one component constructor in spec.md §4.8's retry
// policy, reusing pkg/llm/resilience.RetryWithBackoff rather than
// reimplementing exponential backoff.
func initWithRetry[T any](ctx context.Context, cfg *resilience.RetryConfig, build func() (T, error)) (T, error) {
	var result T
	err := resilience.RetryWithBackoff(ctx, cfg, func() error {
		v, err := build()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Close releases every component in reverse dependency order. Safe to call
// once after a successful Init.
func (o *Orchestrator) Close() {
	if o.drainer != nil {
		o.drainer.Close()
	}
	if o.drainerDone != nil {
		<-o.drainerDone
	}
	if o.vector != nil {
		_ = o.vector.Close(context.Background())
	}
	if o.gateway != nil {
		o.gateway.Close()
	}
	if o.redis != nil {
		_ = o.redis.Close()
	}
	if o.pg != nil {
		_ = o.pg.Close()
	}
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(context.Background())
	}
}

// withDeadline applies cfg.OperationTimeout when ctx carries no deadline of
// its own (spec §5: "every public operation accepts a cancellation signal
// with a deadline (default 30s)").
func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.cfg.OperationTimeout)
}

// IngestConversation persists a conversation and its messages, then — if
// the conversation is ingestable (I5) — compresses it and performs the
// compensating write for the resulting memory unit (spec.md §4.8
// ingest_conversation).
func (o *Orchestrator) IngestConversation(ctx context.Context, conv *model.Conversation, messages []model.Message) (*model.MemoryUnit, error) {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	o.locks.Lock(conv.ConversationID)
	defer o.locks.Unlock(conv.ConversationID)

	if err := o.structured.StoreConversation(ctx, conv, messages); err != nil {
		return nil, fmt.Errorf("orchestrator: store conversation: %w", err)
	}

	if !model.Ingestable(messages) {
		return nil, nil
	}

	proposal, err := o.compressor.Compress(ctx, messages)
	if err != nil {
		logger.Warnw("orchestrator: compression failed, conversation remains uncompressed", "conversation_id", conv.ConversationID, "error", err.Error())
		return nil, nil
	}

	vec, err := o.compressor.EmbedMemoryUnit(ctx, proposal)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: embed memory unit: %w", err)
	}

	unit := &model.MemoryUnit{
		ProjectID:      conv.ProjectID,
		ConversationID: &conv.ConversationID,
		UnitType:       proposal.UnitType,
		Title:          proposal.Title,
		Summary:        proposal.Summary,
		Content:        proposal.Content,
		Keywords:       proposal.Keywords,
		RelevanceScore: proposal.RelevanceScore,
	}
	return o.AddMemory(ctx, unit, vec)
}

// Search delegates to the Retriever (spec.md §4.8 search).
func (o *Orchestrator) Search(ctx context.Context, req retriever.Request) ([]retriever.Result, error) {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()
	return o.retriever.Retrieve(ctx, req)
}

// CrossProjectSearch runs Retrieve once per project the subject may read
// (spec.md §6 memory_cross_project_search). When includeAll is true or
// projectIDs is empty, the search set is every known project from
// structured.Store.ListProjects, replacing any projectIDs given.
func (o *Orchestrator) CrossProjectSearch(ctx context.Context, subject string, req retriever.Request, projectIDs []string, includeAll bool, strategy retriever.MergeStrategy, maxResultsPerProject int) ([]retriever.ProjectResult, []retriever.Result, error) {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	if includeAll || len(projectIDs) == 0 {
		all, err := o.structured.ListProjects(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: list projects: %w", err)
		}
		projectIDs = all
	}

	perms := permissionChecker{authorizer: o.cfg.Authz, subject: subject}
	return o.retriever.RetrieveCrossProject(ctx, req, projectIDs, perms, strategy, maxResultsPerProject)
}

// Inject runs Search then the Injector (spec.md §4.8 inject).
func (o *Orchestrator) Inject(ctx context.Context, originalPrompt string, req retriever.Request) (string, []string, error) {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	results, err := o.retriever.Retrieve(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("orchestrator: search: %w", err)
	}
	return o.injector.Inject(ctx, originalPrompt, req.QueryText, results)
}

// StoreConversation is the low-level admin operation (spec.md §4.8).
func (o *Orchestrator) StoreConversation(ctx context.Context, conv *model.Conversation, messages []model.Message) error {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()
	return o.structured.StoreConversation(ctx, conv, messages)
}
